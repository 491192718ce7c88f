package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsc-network/gscnode/pkg/types"
)

func newTestStore(t *testing.T) *ChainStore {
	t.Helper()
	s, err := NewChainStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testHeader builds a header with a synthetic hash. marker is a single
// hex char so tests can force lexicographic ordering.
func testHeader(marker string, prev types.Hash, height int) types.BlockHeader {
	return types.BlockHeader{
		Hash:       types.Hash(strings.Repeat(marker, types.HashLength)),
		PrevHash:   prev,
		MerkleRoot: types.ZeroHash,
		Timestamp:  1700000000,
		Difficulty: 1,
		Height:     height,
	}
}

func TestNewChainStoreHasGenesis(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, types.GenesisHash, s.Tip())
	assert.Equal(t, 0, s.Height())
	assert.Equal(t, []types.Hash{types.GenesisHash}, s.BestChain())
	assert.True(t, s.HasHeader(types.GenesisHash))
	assert.True(t, s.HasBlock(types.GenesisHash))

	headers, blocks, mempool := s.Counts()
	assert.Equal(t, 1, headers)
	assert.Equal(t, 1, blocks)
	assert.Equal(t, 0, mempool)
	assert.Empty(t, s.MissingBlocks())
}

func TestAddHeaderExtendsBestChain(t *testing.T) {
	s := newTestStore(t)

	h1 := testHeader("1", types.GenesisHash, 1)
	admitted, err := s.AddHeader(h1)
	require.NoError(t, err)
	require.True(t, admitted)

	assert.Equal(t, h1.Hash, s.Tip())
	assert.Equal(t, 1, s.Height())

	h2 := testHeader("2", h1.Hash, 2)
	admitted, err = s.AddHeader(h2)
	require.NoError(t, err)
	require.True(t, admitted)

	assert.Equal(t, []types.Hash{types.GenesisHash, h1.Hash, h2.Hash}, s.BestChain())
	assert.Equal(t, 2, s.Height())
}

func TestAddHeaderRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	orphan := testHeader("a", types.Hash(strings.Repeat("f", types.HashLength)), 1)
	_, err := s.AddHeader(orphan)
	assert.Error(t, err, "unknown parent must be rejected")

	badHeight := testHeader("b", types.GenesisHash, 1)
	badHeight.Height = -1
	_, err = s.AddHeader(badHeight)
	assert.Error(t, err)

	badDifficulty := testHeader("c", types.GenesisHash, 1)
	badDifficulty.Difficulty = 0
	_, err = s.AddHeader(badDifficulty)
	assert.Error(t, err)

	// Nothing slipped in.
	headers, _, _ := s.Counts()
	assert.Equal(t, 1, headers)
	assert.Equal(t, 0, s.Height())
}

func TestAddHeaderIdempotent(t *testing.T) {
	s := newTestStore(t)

	h1 := testHeader("1", types.GenesisHash, 1)
	admitted, err := s.AddHeader(h1)
	require.NoError(t, err)
	require.True(t, admitted)

	admitted, err = s.AddHeader(h1)
	require.NoError(t, err)
	assert.False(t, admitted, "duplicate header must be a no-op")

	headers, _, _ := s.Counts()
	assert.Equal(t, 2, headers)
	assert.Equal(t, 1, s.Height())
}

func TestBestChainTieBreaksOnSmallerHash(t *testing.T) {
	s := newTestStore(t)

	b := testHeader("b", types.GenesisHash, 1)
	a := testHeader("a", types.GenesisHash, 1)

	_, err := s.AddHeader(b)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, s.Tip())

	_, err = s.AddHeader(a)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, s.Tip(), "equal-height fork must resolve to the smaller hash")
}

func TestBestChainPrefersHigherFork(t *testing.T) {
	s := newTestStore(t)

	a1 := testHeader("a", types.GenesisHash, 1)
	b1 := testHeader("b", types.GenesisHash, 1)
	b2 := testHeader("c", b1.Hash, 2)

	for _, h := range []types.BlockHeader{a1, b1, b2} {
		_, err := s.AddHeader(h)
		require.NoError(t, err)
	}

	assert.Equal(t, b2.Hash, s.Tip())
	assert.Equal(t, []types.Hash{types.GenesisHash, b1.Hash, b2.Hash}, s.BestChain())
}

func TestBestChainKeptWhenCandidateBroken(t *testing.T) {
	s := newTestStore(t)

	h1 := testHeader("1", types.GenesisHash, 1)
	_, err := s.AddHeader(h1)
	require.NoError(t, err)

	// Parent linkage is fine but the claimed height breaks contiguity.
	skewed := testHeader("2", h1.Hash, 5)
	_, err = s.AddHeader(skewed)
	require.NoError(t, err)

	assert.Equal(t, h1.Hash, s.Tip(), "broken candidate must not replace the best chain")
	assert.Equal(t, 1, s.Height())
}

func TestAddHeadersBatch(t *testing.T) {
	s := newTestStore(t)

	h1 := testHeader("1", types.GenesisHash, 1)
	h2 := testHeader("2", h1.Hash, 2)
	orphan := testHeader("e", types.Hash(strings.Repeat("f", types.HashLength)), 9)

	admitted := s.AddHeaders([]types.BlockHeader{h1, orphan, h2, h1})
	assert.Equal(t, []types.Hash{h1.Hash, h2.Hash}, admitted)
	assert.Equal(t, 2, s.Height())
}

func TestAddBlockRequiresHeader(t *testing.T) {
	s := newTestStore(t)

	h1 := testHeader("1", types.GenesisHash, 1)
	block := types.Block{Header: h1}

	_, err := s.AddBlock(block)
	assert.Error(t, err, "block without a known header must be rejected")

	_, blocks, _ := s.Counts()
	assert.Equal(t, 1, blocks)

	_, err = s.AddHeader(h1)
	require.NoError(t, err)

	admitted, err := s.AddBlock(block)
	require.NoError(t, err)
	assert.True(t, admitted)

	// Second receipt is a no-op.
	admitted, err = s.AddBlock(block)
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestAddBlockRejectsMalformedTransaction(t *testing.T) {
	s := newTestStore(t)

	h1 := testHeader("1", types.GenesisHash, 1)
	_, err := s.AddHeader(h1)
	require.NoError(t, err)

	block := types.Block{
		Header: h1,
		Transactions: []types.Transaction{
			{TxID: "tx1", Sender: "", Receiver: "bob", Amount: 5},
		},
	}
	_, err = s.AddBlock(block)
	assert.Error(t, err)
	assert.False(t, s.HasBlock(h1.Hash))
}

func TestAddTx(t *testing.T) {
	s := newTestStore(t)

	tx := types.Transaction{TxID: "tx1", Sender: "alice", Receiver: "bob", Amount: 2.5}
	admitted, err := s.AddTx(tx)
	require.NoError(t, err)
	assert.True(t, admitted)

	admitted, err = s.AddTx(tx)
	require.NoError(t, err)
	assert.False(t, admitted)

	for _, bad := range []types.Transaction{
		{TxID: "", Sender: "a", Receiver: "b", Amount: 1},
		{TxID: "t", Sender: "", Receiver: "b", Amount: 1},
		{TxID: "t", Sender: "a", Receiver: "", Amount: 1},
		{TxID: "t2", Sender: "a", Receiver: "b", Amount: 0},
		{TxID: "t3", Sender: "a", Receiver: "b", Amount: -4},
	} {
		_, err := s.AddTx(bad)
		assert.Error(t, err)
	}

	_, _, mempool := s.Counts()
	assert.Equal(t, 1, mempool)
	assert.Len(t, s.MempoolTransactions(), 1)
}

func TestHeadersAfter(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, SeedChain(s, 3, 0))

	chain := s.BestChain()
	require.Len(t, chain, 4)

	// From genesis: everything after it.
	headers := s.HeadersAfter(types.GenesisHash, 2000)
	require.Len(t, headers, 3)
	assert.Equal(t, chain[1], headers[0].Hash)
	assert.Equal(t, chain[3], headers[2].Hash)

	// From the tip: nothing.
	assert.Empty(t, s.HeadersAfter(s.Tip(), 2000))

	// Unknown locator: nothing.
	unknown := types.Hash(strings.Repeat("d", types.HashLength))
	assert.Empty(t, s.HeadersAfter(unknown, 2000))

	// Limit applies.
	assert.Len(t, s.HeadersAfter(types.GenesisHash, 2), 2)
}

func TestInventoryAndMissing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, SeedChain(s, 3, 0))

	inv := s.InventoryFrom(1, 500)
	assert.Len(t, inv, 3)
	assert.Equal(t, s.BestChain()[1:], inv)

	assert.Len(t, s.InventoryFrom(0, 2), 2)
	assert.Empty(t, s.InventoryFrom(10, 500))
	assert.Empty(t, s.MissingBlocks())

	// A header-only extension shows up as missing.
	h := testHeader("9", s.Tip(), s.Height()+1)
	_, err := s.AddHeader(h)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{h.Hash}, s.MissingBlocks())
	assert.Equal(t, 1, s.MissingCount())
}

func TestSeedChain(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, SeedChain(s, 3, 3))

	assert.Equal(t, 3, s.Height())

	headers, blocks, mempool := s.Counts()
	assert.Equal(t, 4, headers)
	assert.Equal(t, 4, blocks)
	assert.Equal(t, 3, mempool)

	// Every seeded block carries well-formed transactions.
	for _, hash := range s.BestChain()[1:] {
		block, ok := s.GetBlock(hash)
		require.True(t, ok)
		assert.Len(t, block.Transactions, 2)
		for _, tx := range block.Transactions {
			assert.True(t, tx.WellFormed())
		}
	}
}
