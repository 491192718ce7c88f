package sync

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gsc-network/gscnode/pkg/network/peer"
	"github.com/gsc-network/gscnode/pkg/network/protocol"
	"github.com/gsc-network/gscnode/pkg/storage"
	"github.com/gsc-network/gscnode/pkg/types"
)

// Sync modes. The pipeline runs headers → blocks → mempool → live; in
// live mode the engine answers requests but initiates none.
const (
	ModeHeaders = "headers"
	ModeBlocks  = "blocks"
	ModeMempool = "mempool"
	ModeLive    = "live"
)

const (
	// maxInflightBlocks caps outstanding getdata requests per peer.
	maxInflightBlocks = 10

	// kickoffDelay keeps the sync start from racing the handshake's
	// first reads on a fresh session.
	kickoffDelay = 1 * time.Second
)

// MessageSender is the slice of a peer session the engine needs.
type MessageSender interface {
	Endpoint() string
	QueueMessage(msg *protocol.Message) bool
}

// Manager drives chain convergence against connected peers and serves
// the responder side of every sync message.
type Manager struct {
	chain  *storage.ChainStore
	nodeID string
	log    *zap.Logger

	mode        *atomic.String
	stopped     *atomic.Bool
	syncingWith mapset.Set // endpoints with an active sync session

	// Request bookkeeping. requestedBlocks deduplicates outstanding
	// getdata requests. requestedHeaders records the locators of sent
	// getheaders requests and is cleared when a headers response
	// arrives; it is not consulted before sending, so a repeated
	// getheaders is not suppressed. pending holds inventory entries
	// waiting for an in-flight slot.
	requestedHeaders mapset.Set
	requestedBlocks  mapset.Set

	mu       sync.Mutex
	inflight map[string]int          // endpoint -> outstanding getdata count
	pending  map[string][]types.Hash // endpoint -> queued block requests
}

// NewManager creates a sync engine over the chain store.
func NewManager(chain *storage.ChainStore, nodeID string, log *zap.Logger) *Manager {
	return &Manager{
		chain:            chain,
		nodeID:           nodeID,
		log:              log,
		mode:             atomic.NewString(ModeHeaders),
		stopped:          atomic.NewBool(false),
		syncingWith:      mapset.NewSet(),
		requestedHeaders: mapset.NewSet(),
		requestedBlocks:  mapset.NewSet(),
		inflight:         make(map[string]int),
		pending:          make(map[string][]types.Hash),
	}
}

// Mode returns the current sync mode.
func (m *Manager) Mode() string {
	return m.mode.Load()
}

// Stop disarms the engine: scheduled kickoffs become no-ops. Incoming
// requests are still answered until the sessions themselves close.
func (m *Manager) Stop() {
	m.stopped.Store(true)
}

// OnPeerConnected schedules a headers sync against a fresh session
// unless the node is already live.
func (m *Manager) OnPeerConnected(p *peer.Peer) {
	m.SchedulePeerSync(p)
}

// OnMessage dispatches a sync message from the session layer.
func (m *Manager) OnMessage(p *peer.Peer, msg *protocol.Message) {
	m.Dispatch(p, msg)
}

// SchedulePeerSync arms the delayed sync kickoff for a peer.
func (m *Manager) SchedulePeerSync(s MessageSender) {
	if m.stopped.Load() || m.Mode() == ModeLive || m.syncingWith.Contains(s.Endpoint()) {
		return
	}
	time.AfterFunc(kickoffDelay, func() {
		m.StartHeadersSync(s)
	})
}

// StartHeadersSync begins Phase 1 against a peer. No-op if a sync
// session with that peer already exists.
func (m *Manager) StartHeadersSync(s MessageSender) {
	if m.stopped.Load() || !m.syncingWith.Add(s.Endpoint()) {
		return
	}
	m.log.Info("starting headers sync", zap.String("peer", s.Endpoint()))
	m.requestHeaders(s, m.chain.Tip())
}

func (m *Manager) requestHeaders(s MessageSender, fromBlock types.Hash) {
	m.requestedHeaders.Add(fromBlock)
	s.QueueMessage(protocol.NewGetHeaders(fromBlock, m.nodeID))
}

// Dispatch routes one sync message. Unknown types are no-ops.
func (m *Manager) Dispatch(s MessageSender, msg *protocol.Message) {
	switch msg.Type {
	case protocol.CmdGetHeaders:
		headers := m.chain.HeadersAfter(msg.FromBlock, protocol.MaxHeadersPerMsg)
		s.QueueMessage(protocol.NewHeaders(headers))

	case protocol.CmdHeaders:
		m.handleHeaders(s, msg)

	case protocol.CmdGetBlocks:
		inv := m.chain.InventoryFrom(msg.FromHeight, protocol.MaxInvPerMsg)
		s.QueueMessage(protocol.NewInv(inv))

	case protocol.CmdInv:
		m.handleInv(s, msg)

	case protocol.CmdGetData:
		hash, err := msg.BlockHash()
		if err != nil {
			return
		}
		if block, ok := m.chain.GetBlock(hash); ok {
			s.QueueMessage(protocol.NewBlock(&block))
		}

	case protocol.CmdBlock:
		m.handleBlock(s, msg)

	case protocol.CmdMempool:
		s.QueueMessage(protocol.NewTx(m.chain.MempoolTransactions()))

	case protocol.CmdTx:
		m.handleTx(s, msg)
	}
}

// handleHeaders ingests a Phase 1 response. A full batch that advanced
// the tip means the responder has more; anything less moves the peer
// to Phase 2.
func (m *Manager) handleHeaders(s MessageSender, msg *protocol.Message) {
	m.requestedHeaders.Clear()

	if len(msg.Headers) == 0 {
		m.startBlocksSync(s)
		return
	}

	prevHeight := m.chain.Height()
	admitted := m.chain.AddHeaders(msg.Headers)
	if len(admitted) > 0 {
		m.log.Info("headers ingested",
			zap.String("peer", s.Endpoint()),
			zap.Int("received", len(msg.Headers)),
			zap.Int("new", len(admitted)),
			zap.Int("chainHeight", m.chain.Height()))
	}

	advanced := m.chain.Height() > prevHeight
	if len(msg.Headers) >= protocol.MaxHeadersPerMsg && advanced && len(admitted) > 0 {
		m.requestHeaders(s, admitted[len(admitted)-1])
		return
	}
	m.startBlocksSync(s)
}

// startBlocksSync begins Phase 2: request an inventory window starting
// at the first best-chain height with no stored block. With nothing
// missing the peer goes straight to Phase 3's end state.
func (m *Manager) startBlocksSync(s MessageSender) {
	m.mode.Store(ModeBlocks)

	missing := m.chain.MissingBlocks()
	if len(missing) == 0 {
		m.startMempoolSync(s)
		return
	}

	fromHeight := 0
	if h, ok := m.chain.GetHeader(missing[0]); ok {
		fromHeight = h.Height
	}

	m.log.Info("starting blocks sync",
		zap.String("peer", s.Endpoint()),
		zap.Int("missing", len(missing)),
		zap.Int("fromHeight", fromHeight))
	s.QueueMessage(protocol.NewGetBlocks(fromHeight, m.nodeID))
}

// handleInv queues getdata requests for the inventory entries we have
// neither stored nor already requested, bounded by the in-flight cap.
func (m *Manager) handleInv(s MessageSender, msg *protocol.Message) {
	endpoint := s.Endpoint()

	m.mu.Lock()
	for _, hash := range msg.Blocks {
		if m.chain.HasBlock(hash) {
			continue
		}
		if !m.requestedBlocks.Add(hash) {
			continue
		}
		m.pending[endpoint] = append(m.pending[endpoint], hash)
	}
	m.mu.Unlock()

	m.fillRequests(s)
}

// fillRequests sends getdata for queued hashes while the peer has free
// in-flight slots.
func (m *Manager) fillRequests(s MessageSender) {
	endpoint := s.Endpoint()

	m.mu.Lock()
	var toSend []types.Hash
	for m.inflight[endpoint] < maxInflightBlocks && len(m.pending[endpoint]) > 0 {
		hash := m.pending[endpoint][0]
		m.pending[endpoint] = m.pending[endpoint][1:]
		m.inflight[endpoint]++
		toSend = append(toSend, hash)
	}
	m.mu.Unlock()

	for _, hash := range toSend {
		s.QueueMessage(protocol.NewGetData(hash, m.nodeID))
	}
}

// handleBlock ingests a downloaded block, frees the in-flight slot and
// keeps Phase 3 moving: refill requests, advance to Phase 4 once
// nothing is missing, or ask for the next inventory window when this
// peer ran dry.
func (m *Manager) handleBlock(s MessageSender, msg *protocol.Message) {
	block, err := msg.FullBlock()
	if err != nil || block == nil {
		return
	}

	endpoint := s.Endpoint()
	hash := block.Header.Hash
	m.requestedBlocks.Remove(hash)

	m.mu.Lock()
	if m.inflight[endpoint] > 0 {
		m.inflight[endpoint]--
	}
	m.mu.Unlock()

	admitted, err := m.chain.AddBlock(*block)
	if err != nil {
		m.log.Debug("dropping invalid block",
			zap.String("peer", endpoint),
			zap.String("hash", hash.Short()),
			zap.Error(err))
		return
	}
	if admitted {
		m.log.Debug("block stored",
			zap.String("hash", hash.Short()),
			zap.Int("height", block.Header.Height),
			zap.String("peer", endpoint))
	}

	m.fillRequests(s)

	if m.chain.MissingCount() == 0 {
		m.startMempoolSync(s)
		return
	}

	m.mu.Lock()
	idle := m.inflight[endpoint] == 0 && len(m.pending[endpoint]) == 0
	m.mu.Unlock()
	if admitted && idle {
		// This peer's window is exhausted but blocks are still
		// missing; request the next inventory window.
		m.startBlocksSync(s)
	}
}

// startMempoolSync begins Phase 4.
func (m *Manager) startMempoolSync(s MessageSender) {
	m.mode.Store(ModeMempool)
	m.log.Info("starting mempool sync", zap.String("peer", s.Endpoint()))
	s.QueueMessage(protocol.NewMempool(m.nodeID))
}

// handleTx ingests the mempool transfer and completes the pipeline:
// the node enters live mode and the peer leaves the sync set.
func (m *Manager) handleTx(s MessageSender, msg *protocol.Message) {
	added := 0
	for _, tx := range msg.Transactions {
		ok, err := m.chain.AddTx(tx)
		if err == nil && ok {
			added++
		}
	}

	m.mode.Store(ModeLive)
	m.syncingWith.Remove(s.Endpoint())
	m.log.Info("sync complete",
		zap.String("peer", s.Endpoint()),
		zap.Int("newTransactions", added),
		zap.Int("chainHeight", m.chain.Height()))
}

// Status is an immutable snapshot of sync and chain state.
type Status struct {
	Mode            string     `json:"sync_mode"`
	ChainHeight     int        `json:"chain_height"`
	ChainTip        types.Hash `json:"chain_tip"`
	HeadersCount    int        `json:"headers_count"`
	BlocksCount     int        `json:"blocks_count"`
	MissingBlocks   int        `json:"missing_blocks"`
	MempoolSize     int        `json:"mempool_size"`
	SyncingWith     []string   `json:"syncing_with"`
	BestChainLength int        `json:"best_chain_length"`
}

// Status returns the current sync snapshot.
func (m *Manager) Status() Status {
	headers, blocks, mempool := m.chain.Counts()

	syncing := make([]string, 0)
	for _, v := range m.syncingWith.ToSlice() {
		if ep, ok := v.(string); ok {
			syncing = append(syncing, ep)
		}
	}

	return Status{
		Mode:            m.Mode(),
		ChainHeight:     m.chain.Height(),
		ChainTip:        m.chain.Tip(),
		HeadersCount:    headers,
		BlocksCount:     blocks,
		MissingBlocks:   m.chain.MissingCount(),
		MempoolSize:     mempool,
		SyncingWith:     syncing,
		BestChainLength: len(m.chain.BestChain()),
	}
}
