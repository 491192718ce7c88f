package sync

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gsc-network/gscnode/pkg/network/protocol"
	"github.com/gsc-network/gscnode/pkg/storage"
	"github.com/gsc-network/gscnode/pkg/types"
)

// fakeSender records queued messages without delivering them.
type fakeSender struct {
	endpoint string

	mu   sync.Mutex
	sent []*protocol.Message
}

func (f *fakeSender) Endpoint() string { return f.endpoint }

func (f *fakeSender) QueueMessage(msg *protocol.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeSender) messages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) countByType(msgType string) int {
	n := 0
	for _, m := range f.messages() {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// linkedSender delivers queued messages straight into another manager,
// wiring two engines together without sockets.
type linkedSender struct {
	endpoint string
	deliver  func(*protocol.Message)
}

func (l *linkedSender) Endpoint() string { return l.endpoint }

func (l *linkedSender) QueueMessage(msg *protocol.Message) bool {
	l.deliver(msg)
	return true
}

func newTestManager(t *testing.T, nodeID string) (*Manager, *storage.ChainStore) {
	t.Helper()
	chain, err := storage.NewChainStore()
	require.NoError(t, err)
	m := NewManager(chain, nodeID, zaptest.NewLogger(t))
	t.Cleanup(func() {
		m.Stop()
		chain.Close()
	})
	return m, chain
}

func TestGetHeadersResponder(t *testing.T) {
	m, chain := newTestManager(t, "n1")
	require.NoError(t, storage.SeedChain(chain, 3, 0))

	peer := &fakeSender{endpoint: "127.0.0.1:5001"}

	// From genesis: the rest of the chain.
	m.Dispatch(peer, protocol.NewGetHeaders(types.GenesisHash, "n2"))
	msgs := peer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.CmdHeaders, msgs[0].Type)
	assert.Len(t, msgs[0].Headers, 3)

	// From the tip: empty response.
	m.Dispatch(peer, protocol.NewGetHeaders(chain.Tip(), "n2"))
	msgs = peer.messages()
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].Headers)

	// Unknown locator: empty response.
	unknown := types.Hash("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	m.Dispatch(peer, protocol.NewGetHeaders(unknown, "n2"))
	msgs = peer.messages()
	require.Len(t, msgs, 3)
	assert.Empty(t, msgs[2].Headers)
}

func TestHeadersMoveToBlocksPhase(t *testing.T) {
	m, chain := newTestManager(t, "n1")
	src, _ := newTestManager(t, "n2")
	require.NoError(t, storage.SeedChain(src.chain, 3, 0))

	peer := &fakeSender{endpoint: "127.0.0.1:5001"}
	headers := src.chain.HeadersAfter(types.GenesisHash, protocol.MaxHeadersPerMsg)

	m.StartHeadersSync(peer)
	require.Equal(t, 1, peer.countByType(protocol.CmdGetHeaders))

	m.Dispatch(peer, protocol.NewHeaders(headers))

	assert.Equal(t, 3, chain.Height())
	assert.Equal(t, ModeBlocks, m.Mode())
	require.Equal(t, 1, peer.countByType(protocol.CmdGetBlocks))

	// The inventory request starts at the first missing height.
	for _, msg := range peer.messages() {
		if msg.Type == protocol.CmdGetBlocks {
			assert.Equal(t, 1, msg.FromHeight)
		}
	}
}

func TestEmptyHeadersSkipStraightToMempool(t *testing.T) {
	m, _ := newTestManager(t, "n1")
	peer := &fakeSender{endpoint: "127.0.0.1:5001"}

	m.StartHeadersSync(peer)
	m.Dispatch(peer, protocol.NewHeaders(nil))

	// Nothing missing (genesis block is present), so the engine goes
	// straight to the mempool request.
	assert.Equal(t, ModeMempool, m.Mode())
	assert.Equal(t, 1, peer.countByType(protocol.CmdMempool))
	assert.Zero(t, peer.countByType(protocol.CmdGetBlocks))
}

func TestInvRequestsAreCappedAndDeduplicated(t *testing.T) {
	m, _ := newTestManager(t, "n1")
	peer := &fakeSender{endpoint: "127.0.0.1:5001"}

	var inv []types.Hash
	for i := 0; i < 15; i++ {
		inv = append(inv, types.Hash(fmt.Sprintf("%064d", i+1)))
	}

	m.Dispatch(peer, protocol.NewInv(inv))
	assert.Equal(t, maxInflightBlocks, peer.countByType(protocol.CmdGetData),
		"in-flight getdata must stop at the cap")

	// The same inventory again adds nothing: every hash is already in
	// requested_blocks.
	m.Dispatch(peer, protocol.NewInv(inv))
	assert.Equal(t, maxInflightBlocks, peer.countByType(protocol.CmdGetData))
}

func TestFullPipelineBetweenTwoEngines(t *testing.T) {
	seeded, seededChain := newTestManager(t, "na")
	empty, emptyChain := newTestManager(t, "nb")
	require.NoError(t, storage.SeedChain(seededChain, 3, 3))

	var peerA, peerB *linkedSender
	peerA = &linkedSender{endpoint: "127.0.0.1:9001"}
	peerB = &linkedSender{endpoint: "127.0.0.1:9002"}
	peerA.deliver = func(msg *protocol.Message) { seeded.Dispatch(peerB, msg) }
	peerB.deliver = func(msg *protocol.Message) { empty.Dispatch(peerA, msg) }

	empty.StartHeadersSync(peerA)

	assert.Equal(t, ModeLive, empty.Mode())
	assert.Equal(t, 3, emptyChain.Height())
	assert.Equal(t, seededChain.BestChain(), emptyChain.BestChain())

	headers, blocks, mempool := emptyChain.Counts()
	assert.Equal(t, 4, headers)
	assert.Equal(t, 4, blocks)
	assert.Equal(t, 3, mempool)
	assert.Zero(t, emptyChain.MissingCount())

	st := empty.Status()
	assert.Equal(t, ModeLive, st.Mode)
	assert.Empty(t, st.SyncingWith, "peer must leave syncing_with when live")

	// A second run against the same peer changes nothing.
	empty.StartHeadersSync(peerA)
	headers, blocks, mempool = emptyChain.Counts()
	assert.Equal(t, 4, headers)
	assert.Equal(t, 4, blocks)
	assert.Equal(t, 3, mempool)
}

func TestSchedulePeerSyncSkipsWhenLive(t *testing.T) {
	m, _ := newTestManager(t, "n1")
	m.mode.Store(ModeLive)

	peer := &fakeSender{endpoint: "127.0.0.1:5001"}
	m.SchedulePeerSync(peer)

	time.Sleep(kickoffDelay + 300*time.Millisecond)
	assert.Empty(t, peer.messages(), "live nodes must not initiate sync")
}

func TestSchedulePeerSyncKicksOff(t *testing.T) {
	m, _ := newTestManager(t, "n1")
	peer := &fakeSender{endpoint: "127.0.0.1:5001"}

	m.SchedulePeerSync(peer)
	assert.Empty(t, peer.messages(), "kickoff must be delayed")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if peer.countByType(protocol.CmdGetHeaders) == 1 {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("headers sync never started")
}

func TestGetDataResponder(t *testing.T) {
	m, chain := newTestManager(t, "n1")
	require.NoError(t, storage.SeedChain(chain, 1, 0))

	peer := &fakeSender{endpoint: "127.0.0.1:5001"}
	tip := chain.Tip()

	m.Dispatch(peer, protocol.NewGetData(tip, "n2"))
	msgs := peer.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, protocol.CmdBlock, msgs[0].Type)

	block, err := msgs[0].FullBlock()
	require.NoError(t, err)
	assert.Equal(t, tip, block.Header.Hash)

	// Unknown hash: no reply at all.
	unknown := types.Hash("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	m.Dispatch(peer, protocol.NewGetData(unknown, "n2"))
	assert.Len(t, peer.messages(), 1)
}

func TestUnknownMessageTypeIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, "n1")
	peer := &fakeSender{endpoint: "127.0.0.1:5001"}

	m.Dispatch(peer, &protocol.Message{Type: "gossipsub"})
	assert.Empty(t, peer.messages())
}
