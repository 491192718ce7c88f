package network

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	mrand "math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gsc-network/gscnode/pkg/network/peer"
	"github.com/gsc-network/gscnode/pkg/network/protocol"
)

// DefaultBootstrapNodes are the hardcoded endpoints dialed at startup
// when the configuration does not supply its own.
var DefaultBootstrapNodes = []string{
	"127.0.0.1:5001",
	"127.0.0.1:5002",
	"127.0.0.1:5003",
}

const (
	// DefaultMaxPeers is the target connected-peer count.
	DefaultMaxPeers = 8

	dialTimeout      = 10 * time.Second
	handshakeTimeout = 30 * time.Second
	acceptTimeout    = 1 * time.Second
	pingInterval     = 30 * time.Second

	bootstrapStagger = 500 * time.Millisecond
	discoveryStagger = 1 * time.Second

	// discoveryDials is how many fresh endpoints one addr message may
	// trigger dials to.
	discoveryDials = 2
)

var (
	errIdenticalID = errors.New("identical node id")
	errBadVersion  = errors.New("invalid handshake message")
)

// Handler receives the messages the node itself does not consume
// (everything beyond handshake, keep-alive and address exchange) plus
// session-establishment events. The sync engine implements it.
type Handler interface {
	OnPeerConnected(p *peer.Peer)
	OnMessage(p *peer.Peer, msg *protocol.Message)
}

// Config holds the node's network configuration. Port is the only
// required field.
type Config struct {
	Port      int
	NodeID    string   // generated when empty
	Bootstrap []string // endpoints dialed at startup
	MaxPeers  int      // target connected count, DefaultMaxPeers when 0
}

// Node is the P2P node: TCP listener, outbound dialer, address book
// and keep-alive service. Sync behavior is layered on through the
// Handler.
type Node struct {
	cfg Config
	id  string
	log *zap.Logger

	book    *AddrBook
	handler Handler

	running  *atomic.Bool
	listener net.Listener
	port     int

	quit chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex // guards listener/quit across Start/Stop
}

// NewNode creates a node. The logger is required.
func NewNode(cfg Config, log *zap.Logger) (*Node, error) {
	if log == nil {
		return nil, errors.New("logger is a required parameter")
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}
	if cfg.Bootstrap == nil {
		cfg.Bootstrap = DefaultBootstrapNodes
	}

	id := cfg.NodeID
	if id == "" {
		id = randomID()
	}

	return &Node{
		cfg:     cfg,
		id:      id,
		log:     log,
		book:    NewAddrBook(),
		running: atomic.NewBool(false),
	}, nil
}

// randomID generates a short node identity (8 hex chars).
func randomID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// SetHandler installs the message handler. Must be called before
// Start.
func (n *Node) SetHandler(h Handler) {
	n.handler = h
}

// ID returns the node identity.
func (n *Node) ID() string {
	return n.id
}

// Port returns the actual listen port (useful when configured with
// port 0).
func (n *Node) Port() int {
	return n.port
}

// Book exposes the address book.
func (n *Node) Book() *AddrBook {
	return n.book
}

// Start binds the listener and launches the accept, keep-alive and
// bootstrap tasks. A bind failure is the only fatal error.
func (n *Node) Start() error {
	if !n.running.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", n.cfg.Port))
	if err != nil {
		n.running.Store(false)
		return fmt.Errorf("failed to listen: %w", err)
	}

	n.mu.Lock()
	n.listener = listener
	n.port = listener.Addr().(*net.TCPAddr).Port
	n.quit = make(chan struct{})
	n.mu.Unlock()

	n.wg.Add(2)
	go n.acceptLoop()
	go n.pingLoop()

	go n.connectToBootstrap()

	n.log.Info("node started",
		zap.String("nodeID", n.id),
		zap.Int("port", n.port))
	return nil
}

// Stop closes the listener and every session and waits for the node's
// long-lived loops to exit. Idempotent.
func (n *Node) Stop() {
	if !n.running.CompareAndSwap(true, false) {
		return
	}

	n.mu.Lock()
	close(n.quit)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Unlock()

	for _, p := range n.book.Sessions() {
		p.Close()
	}
	n.book.ClearSessions()
	n.wg.Wait()

	n.log.Info("node stopped", zap.String("nodeID", n.id))
}

// Running reports whether the node is started.
func (n *Node) Running() bool {
	return n.running.Load()
}

// connectToBootstrap dials the configured bootstrap endpoints
// sequentially with a stagger.
func (n *Node) connectToBootstrap() {
	if !n.sleep(bootstrapStagger) { // let the listener settle
		return
	}
	for _, ep := range n.cfg.Bootstrap {
		if !n.running.Load() {
			return
		}
		host, port, err := splitEndpoint(ep)
		if err != nil {
			n.log.Warn("bad bootstrap endpoint", zap.String("endpoint", ep))
			continue
		}
		if n.Connect(host, port) {
			n.log.Info("connected to bootstrap", zap.String("endpoint", ep))
		}
		if !n.sleep(bootstrapStagger) {
			return
		}
	}
}

// Connect dials an endpoint, runs the version/verack handshake and
// registers the session. Returns false on any failure; a failed dial
// does not taint the address book.
func (n *Node) Connect(host string, port int) bool {
	if !n.running.Load() {
		return false
	}

	// Self-connect guard, before any socket work.
	if (host == "127.0.0.1" || host == "localhost") && port == n.port {
		return false
	}

	endpoint := net.JoinHostPort(host, strconv.Itoa(port))
	if n.book.IsConnected(endpoint) {
		return true
	}

	conn, err := net.DialTimeout("tcp", endpoint, dialTimeout)
	if err != nil {
		n.log.Debug("dial failed", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}

	p := peer.New(conn, n.id, false, n.log)
	remoteID, err := n.handshakeOutbound(p)
	if err != nil {
		n.log.Debug("handshake failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		conn.Close()
		return false
	}

	p.FinishHandshake(endpoint, remoteID)
	n.registerPeer(p)

	// Prime discovery.
	p.QueueMessage(protocol.NewGetAddr(n.id))
	return true
}

// handshakeOutbound sends version and awaits exactly one verack,
// returning the remote node id.
func (n *Node) handshakeOutbound(p *peer.Peer) (string, error) {
	if err := p.WriteDirect(protocol.NewVersion(n.id, n.port), dialTimeout); err != nil {
		return "", fmt.Errorf("failed to send version: %w", err)
	}

	reply, err := p.ReadDirect(dialTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to read verack: %w", err)
	}
	if reply.Type != protocol.CmdVerAck || reply.NodeID == "" {
		return "", errBadVersion
	}
	if reply.NodeID == n.id {
		return "", errIdenticalID
	}
	return reply.NodeID, nil
}

// handleInbound runs the responder side of the handshake on a fresh
// connection. The session is keyed by the peer's source address plus
// the listen port it reports, not the source port.
func (n *Node) handleInbound(conn net.Conn) {
	p := peer.New(conn, n.id, true, n.log)

	msg, err := p.ReadDirect(handshakeTimeout)
	if err != nil {
		conn.Close()
		return
	}
	if msg.Type != protocol.CmdVersion || msg.NodeID == "" ||
		msg.Port < 1 || msg.Port > 65535 {
		n.log.Debug("rejecting inbound peer: bad version message",
			zap.String("remote", conn.RemoteAddr().String()))
		conn.Close()
		return
	}
	if msg.NodeID == n.id {
		// Loopback of our own dial.
		conn.Close()
		return
	}

	if err := p.WriteDirect(protocol.NewVerAck(n.id, n.port), dialTimeout); err != nil {
		conn.Close()
		return
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}
	endpoint := net.JoinHostPort(host, strconv.Itoa(msg.Port))

	p.FinishHandshake(endpoint, msg.NodeID)
	n.registerPeer(p)
}

// registerPeer adds a handshaken session to the address book, starts
// its loops and announces the fresh endpoint to the other peers.
func (n *Node) registerPeer(p *peer.Peer) {
	endpoint := p.Endpoint()
	if old := n.book.AddSession(endpoint, p); old != nil {
		old.Close()
	}

	p.Start()
	n.wg.Add(1)
	go n.handleMessages(p)

	n.log.Info("peer connected",
		zap.String("endpoint", endpoint),
		zap.String("remoteID", p.NodeID()),
		zap.Bool("inbound", p.Inbound()),
		zap.Int("peerCount", n.book.ConnectedCount()))

	// Address dissemination: let the rest of the fleet hear about the
	// newcomer without waiting for a getaddr round.
	addr := protocol.NewAddr([]string{endpoint})
	for _, other := range n.book.Sessions() {
		if other != p {
			other.QueueMessage(addr)
		}
	}

	if n.handler != nil {
		n.handler.OnPeerConnected(p)
	}
}

// handleMessages consumes one session's receive channel sequentially
// and cleans up when the session dies.
func (n *Node) handleMessages(p *peer.Peer) {
	defer n.wg.Done()

	quit := n.quitChan()
	for {
		select {
		case msg := <-p.Receive:
			n.processMessage(p, msg)
		case <-p.Quit:
			n.unregisterPeer(p)
			return
		case <-quit:
			return
		}
	}
}

func (n *Node) unregisterPeer(p *peer.Peer) {
	if n.book.RemoveSessionIf(p.Endpoint(), p) {
		n.log.Info("peer disconnected",
			zap.String("endpoint", p.Endpoint()),
			zap.Int("peerCount", n.book.ConnectedCount()))
	}
}

// processMessage handles the peer-layer messages and forwards the rest
// to the handler. Unknown types are no-ops.
func (n *Node) processMessage(p *peer.Peer, msg *protocol.Message) {
	switch msg.Type {
	case protocol.CmdPing:
		p.QueueMessage(protocol.NewPong(n.id))

	case protocol.CmdPong:
		// Peer is alive.

	case protocol.CmdGetAddr:
		peers := n.book.KnownExcept(p.Endpoint(), protocol.MaxAddrPerMsg)
		p.QueueMessage(protocol.NewAddr(peers))

	case protocol.CmdAddr:
		for _, ep := range msg.Peers {
			if _, _, err := splitEndpoint(ep); err == nil {
				n.book.AddKnown(ep)
			}
		}
		n.maybeDiscover()

	case protocol.CmdVersion, protocol.CmdVerAck:
		// Handshake is over; repeats are ignored.

	default:
		if n.handler != nil {
			n.handler.OnMessage(p, msg)
		}
	}
}

// maybeDiscover dials up to discoveryDials random unconnected known
// endpoints while the connected count is below target.
func (n *Node) maybeDiscover() {
	if n.book.ConnectedCount() >= n.cfg.MaxPeers {
		return
	}

	candidates := n.book.KnownUnconnected()
	if len(candidates) == 0 {
		return
	}

	shuffle(candidates)
	if len(candidates) > discoveryDials {
		candidates = candidates[:discoveryDials]
	}

	go func() {
		for _, ep := range candidates {
			if !n.running.Load() || n.book.ConnectedCount() >= n.cfg.MaxPeers {
				return
			}
			host, port, err := splitEndpoint(ep)
			if err != nil {
				continue
			}
			n.Connect(host, port)
			if !n.sleep(discoveryStagger) {
				return
			}
		}
	}()
}

// pingLoop is the keep-alive service: one ping per connected session
// every pingInterval. A session that cannot take the ping is closed.
func (n *Node) pingLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	quit := n.quitChan()
	for {
		select {
		case <-ticker.C:
			for _, p := range n.book.Sessions() {
				if !p.QueueMessage(protocol.NewPing(n.id)) {
					p.Close()
				}
			}
		case <-quit:
			return
		}
	}
}

// Status is an immutable snapshot of the node's peer state.
type Status struct {
	NodeID         string   `json:"node_id"`
	Port           int      `json:"port"`
	Running        bool     `json:"running"`
	ConnectedPeers int      `json:"connected_peers"`
	KnownPeers     int      `json:"known_peers"`
	PeerList       []string `json:"peer_list"`
}

// Status returns the current peer-state snapshot.
func (n *Node) Status() Status {
	return Status{
		NodeID:         n.id,
		Port:           n.port,
		Running:        n.running.Load(),
		ConnectedPeers: n.book.ConnectedCount(),
		KnownPeers:     n.book.KnownCount(),
		PeerList:       n.book.Connected(),
	}
}

// sleep waits for d unless the node is stopping first. Returns false
// when interrupted by shutdown.
func (n *Node) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-n.quitChan():
		return false
	}
}

func (n *Node) quitChan() chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.quit
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", endpoint)
	}
	return host, port, nil
}

// shuffle randomizes endpoint order for discovery dials.
func shuffle(endpoints []string) {
	mrand.Shuffle(len(endpoints), func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
	})
}
