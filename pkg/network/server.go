package network

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// acceptLoop accepts incoming connections with a short deadline so
// shutdown is noticed promptly, and hands each connection to a
// handshake goroutine.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	quit := n.quitChan()
	for {
		select {
		case <-quit:
			return
		default:
		}

		if tl, ok := n.listener.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(acceptTimeout))
		}

		conn, err := n.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || !n.running.Load() {
				return
			}
			n.log.Warn("accept error", zap.Error(err))
			continue
		}

		go n.handleInbound(conn)
	}
}
