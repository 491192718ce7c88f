package peer

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/gsc-network/gscnode/pkg/network/protocol"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Session states.
const (
	StateDialing int32 = iota // dial in flight, session does not own a socket yet
	StateHandshaking
	StateConnected
	StateClosed
)

const (
	sendQueueSize = 100

	// idleTimeout is the read-loop deadline; reaching it triggers a
	// keep-alive ping rather than a disconnect.
	idleTimeout = 60 * time.Second

	writeTimeout = 5 * time.Second

	// maxWriteFailures is how many consecutive write errors the
	// session tolerates before terminating.
	maxWriteFailures = 2
)

// Peer is one TCP session with a remote node. It owns the socket, the
// read loop and the send path. All writes to the socket go through the
// bounded Send queue and a single writer goroutine, so concurrent
// producers never interleave bytes on the wire.
type Peer struct {
	conn    net.Conn
	inbound bool
	localID string
	log     *zap.Logger

	endpoint atomic.String // canonical host:listen_port, known after handshake
	nodeID   atomic.String // remote node id, known after handshake
	state    *atomic.Int32

	Send    chan *protocol.Message
	Receive chan *protocol.Message
	Quit    chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wraps an established connection in a session in the handshaking
// state. The read and write loops start only after the handshake
// completes.
func New(conn net.Conn, localID string, inbound bool, log *zap.Logger) *Peer {
	p := &Peer{
		conn:    conn,
		inbound: inbound,
		localID: localID,
		log:     log,
		state:   atomic.NewInt32(StateHandshaking),
		Send:    make(chan *protocol.Message, sendQueueSize),
		Receive: make(chan *protocol.Message, sendQueueSize),
		Quit:    make(chan struct{}),
	}
	p.endpoint.Store(conn.RemoteAddr().String())
	return p
}

// WriteDirect writes a single message on the socket. Only valid during
// the handshake, before the writer goroutine owns the socket.
func (p *Peer) WriteDirect(msg *protocol.Message, timeout time.Duration) error {
	frame, err := msg.Serialize()
	if err != nil {
		return err
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err = p.conn.Write(frame)
	return err
}

// ReadDirect reads a single message from the socket. Only valid during
// the handshake, before the read loop owns the socket.
func (p *Peer) ReadDirect(timeout time.Duration) (*protocol.Message, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	return protocol.Deserialize(p.conn)
}

// FinishHandshake records the remote identity and marks the session
// connected. endpoint is the canonical host:listen_port key, using the
// port the peer reported rather than the socket's ephemeral port.
func (p *Peer) FinishHandshake(endpoint, remoteID string) {
	p.endpoint.Store(endpoint)
	p.nodeID.Store(remoteID)
	p.state.Store(StateConnected)
}

// Start launches the read and write loops.
func (p *Peer) Start() {
	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()
}

// QueueMessage enqueues a message for the writer goroutine. Returns
// false if the session is closed or the queue is full; a full queue
// means the peer is not draining its socket and the caller should
// treat the session as failing.
func (p *Peer) QueueMessage(msg *protocol.Message) bool {
	select {
	case <-p.Quit:
		return false
	default:
	}
	select {
	case p.Send <- msg:
		return true
	case <-p.Quit:
		return false
	default:
		p.log.Warn("send queue full, dropping message",
			zap.String("peer", p.Endpoint()),
			zap.String("type", msg.Type))
		return false
	}
}

// Close terminates the session. Idempotent; safe to call from any
// goroutine including the session's own loops. The owner observes the
// closure through the Quit channel.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.state.Store(StateClosed)
		close(p.Quit)
		p.conn.Close()
	})
}

// readLoop decodes messages off the socket sequentially and hands them
// to the owner through the Receive channel. An idle deadline produces
// a keep-alive ping; any other error ends the session.
func (p *Peer) readLoop() {
	defer p.wg.Done()
	defer p.Close()

	reader := bufio.NewReader(p.conn)
	for {
		select {
		case <-p.Quit:
			return
		default:
		}

		if err := p.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		msg, err := protocol.Deserialize(reader)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() && reader.Buffered() == 0 {
				// Idle, not dead. Probe the peer and keep reading.
				p.QueueMessage(protocol.NewPing(p.localID))
				continue
			}
			if p.State() != StateClosed {
				p.log.Debug("read loop ending",
					zap.String("peer", p.Endpoint()),
					zap.Error(err))
			}
			return
		}

		select {
		case p.Receive <- msg:
		case <-p.Quit:
			return
		}
	}
}

// writeLoop drains the send queue onto the socket.
func (p *Peer) writeLoop() {
	defer p.wg.Done()
	defer p.Close()

	failures := 0
	for {
		select {
		case msg := <-p.Send:
			frame, err := msg.Serialize()
			if err != nil {
				p.log.Warn("failed to serialize message",
					zap.String("type", msg.Type),
					zap.Error(err))
				continue
			}

			if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if _, err := p.conn.Write(frame); err != nil {
				failures++
				if failures >= maxWriteFailures {
					if p.State() != StateClosed {
						p.log.Debug("write loop ending",
							zap.String("peer", p.Endpoint()),
							zap.Error(err))
					}
					return
				}
				continue
			}
			failures = 0

		case <-p.Quit:
			return
		}
	}
}

// Wait blocks until both loops have exited.
func (p *Peer) Wait() {
	p.wg.Wait()
}

// Endpoint returns the session's canonical host:port key.
func (p *Peer) Endpoint() string {
	return p.endpoint.Load()
}

// NodeID returns the remote node id (empty before the handshake).
func (p *Peer) NodeID() string {
	return p.nodeID.Load()
}

// Inbound reports whether the remote side initiated the connection.
func (p *Peer) Inbound() bool {
	return p.inbound
}

// State returns the current session state.
func (p *Peer) State() int32 {
	return p.state.Load()
}
