package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gsc-network/gscnode/pkg/types"
)

// ChainStore is the node's in-memory chain state: the header index,
// the full-block index, the mempool and the current best chain. One
// mutex covers everything; no I/O other than the memory-backed
// database happens under the lock.
//
// Headers and blocks are never removed. Blocks that fall off the best
// chain after a recomputation stay in the block index.
type ChainStore struct {
	mu sync.Mutex
	db *Database

	bestChain []types.Hash
	tip       types.Hash
	height    int

	headerCount  int
	blockCount   int
	mempoolCount int
}

// NewChainStore creates a chain store seeded with the genesis block.
func NewChainStore() (*ChainStore, error) {
	db, err := OpenMemory()
	if err != nil {
		return nil, err
	}

	s := &ChainStore{
		db:        db,
		bestChain: []types.Hash{types.GenesisHash},
		tip:       types.GenesisHash,
		height:    0,
	}

	genesis := types.GenesisBlock()
	if err := s.putHeader(genesis.Header); err != nil {
		return nil, err
	}
	if err := s.putBlock(genesis); err != nil {
		return nil, err
	}
	s.headerCount = 1
	s.blockCount = 1
	return s, nil
}

// Close releases the underlying database.
func (s *ChainStore) Close() error {
	return s.db.Close()
}

// AddHeader validates and stores a single header, then recomputes the
// best chain. Returns false for a duplicate; an error for a header
// that fails the structural check.
func (s *ChainStore) AddHeader(h types.BlockHeader) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	admitted, err := s.addHeader(h)
	if err != nil || !admitted {
		return admitted, err
	}
	s.recomputeBestChain()
	return true, nil
}

// AddHeaders stores a batch of headers in received order, skipping
// invalid and duplicate entries, and recomputes the best chain once if
// anything was admitted. Returns the admitted hashes in order.
func (s *ChainStore) AddHeaders(batch []types.BlockHeader) []types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	var admitted []types.Hash
	for _, h := range batch {
		ok, err := s.addHeader(h)
		if err != nil || !ok {
			continue
		}
		admitted = append(admitted, h.Hash)
	}
	if len(admitted) > 0 {
		s.recomputeBestChain()
	}
	return admitted
}

func (s *ChainStore) addHeader(h types.BlockHeader) (bool, error) {
	if h.Hash == "" {
		return false, fmt.Errorf("header missing hash")
	}
	if !h.PrevHash.IsZero() && !s.hasHeader(h.PrevHash) {
		return false, fmt.Errorf("unknown parent %s", h.PrevHash.Short())
	}
	if h.Height < 0 {
		return false, fmt.Errorf("negative height %d", h.Height)
	}
	if h.Difficulty < 1 {
		return false, fmt.Errorf("difficulty below 1")
	}

	if s.hasHeader(h.Hash) {
		return false, nil
	}
	if err := s.putHeader(h); err != nil {
		return false, err
	}
	s.headerCount++
	return true, nil
}

// AddBlock stores a full block. The header must already be known and
// every transaction must carry a non-empty id, sender and receiver.
// Returns false for a duplicate.
func (s *ChainStore) AddBlock(b types.Block) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasHeader(b.Header.Hash) {
		return false, fmt.Errorf("block %s has no known header", b.Header.Hash.Short())
	}
	for _, tx := range b.Transactions {
		if tx.TxID == "" || tx.Sender == "" || tx.Receiver == "" {
			return false, fmt.Errorf("block %s contains malformed transaction", b.Header.Hash.Short())
		}
	}

	if s.hasBlock(b.Header.Hash) {
		return false, nil
	}
	if err := s.putBlock(b); err != nil {
		return false, err
	}
	s.blockCount++
	return true, nil
}

// AddTx stores a mempool transaction. Returns false for a duplicate.
func (s *ChainStore) AddTx(t types.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.WellFormed() {
		return false, fmt.Errorf("malformed transaction %q", t.TxID)
	}

	key := TxKey(t.TxID)
	exists, err := s.db.Has(key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	if err := s.db.Put(key, raw); err != nil {
		return false, err
	}
	s.mempoolCount++
	return true, nil
}

// recomputeBestChain installs the longest-chain-by-height path from
// genesis. Height ties break toward the lexicographically smaller
// hash. A candidate with a broken parent walk is discarded and the
// previous best chain is kept. Caller holds the lock.
func (s *ChainStore) recomputeBestChain() {
	headers := s.loadHeaders()
	if len(headers) == 0 {
		return
	}

	var best types.Hash
	bestHeight := -1
	for hash, h := range headers {
		if !h.PrevHash.IsZero() {
			if _, ok := headers[h.PrevHash]; !ok {
				continue
			}
		}
		if h.Height > bestHeight || (h.Height == bestHeight && hash < best) {
			best = hash
			bestHeight = h.Height
		}
	}
	if bestHeight < 0 {
		return
	}

	// Walk parent links back to genesis, then reverse.
	var chain []types.Hash
	current := best
	for {
		h, ok := headers[current]
		if !ok {
			return // broken walk, keep previous chain
		}
		chain = append(chain, current)
		if current == types.GenesisHash {
			break
		}
		current = h.PrevHash
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	// Contiguity check: chain[i] sits at height i and links to its
	// predecessor.
	if chain[0] != types.GenesisHash {
		return
	}
	for i, hash := range chain {
		h := headers[hash]
		if h.Height != i {
			return
		}
		if i > 0 && h.PrevHash != chain[i-1] {
			return
		}
	}

	s.bestChain = chain
	s.tip = best
	s.height = bestHeight
}

// HeadersAfter returns up to limit headers that follow fromBlock on
// the best chain, in chain order. An unknown locator yields an empty
// slice.
func (s *ChainStore) HeadersAfter(fromBlock types.Hash, limit int) []types.BlockHeader {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := -1
	for i, hash := range s.bestChain {
		if hash == fromBlock {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}

	end := start + limit
	if end > len(s.bestChain) {
		end = len(s.bestChain)
	}

	var headers []types.BlockHeader
	for _, hash := range s.bestChain[start:end] {
		h, ok := s.getHeader(hash)
		if !ok {
			break
		}
		headers = append(headers, h)
	}
	return headers
}

// InventoryFrom returns up to limit best-chain hashes starting at
// fromHeight for which a full block is stored.
func (s *ChainStore) InventoryFrom(fromHeight, limit int) []types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fromHeight < 0 {
		fromHeight = 0
	}

	var hashes []types.Hash
	end := fromHeight + limit
	if end > len(s.bestChain) {
		end = len(s.bestChain)
	}
	for i := fromHeight; i < end; i++ {
		hash := s.bestChain[i]
		if s.hasBlock(hash) {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// MissingBlocks returns the best-chain hashes with no stored block, in
// chain order.
func (s *ChainStore) MissingBlocks() []types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []types.Hash
	for _, hash := range s.bestChain {
		if !s.hasBlock(hash) {
			missing = append(missing, hash)
		}
	}
	return missing
}

// MissingCount returns the number of best-chain blocks not yet stored.
func (s *ChainStore) MissingCount() int {
	return len(s.MissingBlocks())
}

// HasHeader reports whether the header is stored.
func (s *ChainStore) HasHeader(hash types.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasHeader(hash)
}

// HasBlock reports whether the full block is stored.
func (s *ChainStore) HasBlock(hash types.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasBlock(hash)
}

// GetHeader loads a header by hash.
func (s *ChainStore) GetHeader(hash types.Hash) (types.BlockHeader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getHeader(hash)
}

// GetBlock loads a full block by hash.
func (s *ChainStore) GetBlock(hash types.Hash) (types.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get(BlockKey(hash))
	if err != nil || raw == nil {
		return types.Block{}, false
	}
	var b types.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return types.Block{}, false
	}
	return b, true
}

// MempoolTransactions returns every mempool transaction.
func (s *ChainStore) MempoolTransactions() []types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txs []types.Transaction
	it := s.db.NewIterator([]byte{PrefixMempool})
	defer it.Release()
	for it.Next() {
		var t types.Transaction
		if err := json.Unmarshal(it.Value(), &t); err != nil {
			continue
		}
		txs = append(txs, t)
	}
	return txs
}

// Tip returns the best-chain tip hash.
func (s *ChainStore) Tip() types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip
}

// Height returns the best-chain height.
func (s *ChainStore) Height() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// BestChain returns a copy of the best-chain hash vector.
func (s *ChainStore) BestChain() []types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := make([]types.Hash, len(s.bestChain))
	copy(chain, s.bestChain)
	return chain
}

// Counts returns the header, block and mempool record counts.
func (s *ChainStore) Counts() (headers, blocks, mempool int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headerCount, s.blockCount, s.mempoolCount
}

func (s *ChainStore) hasHeader(hash types.Hash) bool {
	ok, err := s.db.Has(HeaderKey(hash))
	return err == nil && ok
}

func (s *ChainStore) hasBlock(hash types.Hash) bool {
	ok, err := s.db.Has(BlockKey(hash))
	return err == nil && ok
}

func (s *ChainStore) getHeader(hash types.Hash) (types.BlockHeader, bool) {
	raw, err := s.db.Get(HeaderKey(hash))
	if err != nil || raw == nil {
		return types.BlockHeader{}, false
	}
	var h types.BlockHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return types.BlockHeader{}, false
	}
	return h, true
}

func (s *ChainStore) putHeader(h types.BlockHeader) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return s.db.Put(HeaderKey(h.Hash), raw)
}

func (s *ChainStore) putBlock(b types.Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Put(BlockKey(b.Header.Hash), raw)
}

// loadHeaders reads the full header index. Caller holds the lock.
func (s *ChainStore) loadHeaders() map[types.Hash]types.BlockHeader {
	headers := make(map[types.Hash]types.BlockHeader)
	it := s.db.NewIterator([]byte{PrefixHeader})
	defer it.Release()
	for it.Next() {
		var h types.BlockHeader
		if err := json.Unmarshal(it.Value(), &h); err != nil {
			continue
		}
		headers[h.Hash] = h
	}
	return headers
}
