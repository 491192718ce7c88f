package network

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/gsc-network/gscnode/pkg/network/peer"
)

// AddrBook tracks every endpoint the node has heard of and the subset
// with a live handshaken session. connected is always a subset of
// known: endpoints enter the session map only through a completed
// handshake, and losing the session removes the endpoint from
// connected while known retains it.
type AddrBook struct {
	known mapset.Set // endpoint strings

	mu       sync.Mutex
	sessions map[string]*peer.Peer
}

// NewAddrBook creates an empty address book.
func NewAddrBook() *AddrBook {
	return &AddrBook{
		known:    mapset.NewSet(),
		sessions: make(map[string]*peer.Peer),
	}
}

// AddKnown records an endpoint.
func (b *AddrBook) AddKnown(endpoint string) {
	b.known.Add(endpoint)
}

// IsKnown reports whether the endpoint has been heard of.
func (b *AddrBook) IsKnown(endpoint string) bool {
	return b.known.Contains(endpoint)
}

// KnownCount returns the number of known endpoints.
func (b *AddrBook) KnownCount() int {
	return b.known.Cardinality()
}

// Known returns all known endpoints.
func (b *AddrBook) Known() []string {
	return b.knownSlice()
}

// KnownExcept returns up to limit known endpoints, excluding the given
// one. Used to answer getaddr.
func (b *AddrBook) KnownExcept(endpoint string, limit int) []string {
	var peers []string
	for _, ep := range b.knownSlice() {
		if ep == endpoint {
			continue
		}
		peers = append(peers, ep)
		if len(peers) >= limit {
			break
		}
	}
	return peers
}

// KnownUnconnected returns known endpoints with no live session.
// These are the discovery dial candidates.
func (b *AddrBook) KnownUnconnected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for _, ep := range b.knownSlice() {
		if _, ok := b.sessions[ep]; !ok {
			out = append(out, ep)
		}
	}
	return out
}

// AddSession registers a handshaken session under its endpoint and
// marks the endpoint known. Returns the session it replaced, if any.
func (b *AddrBook) AddSession(endpoint string, p *peer.Peer) *peer.Peer {
	b.known.Add(endpoint)

	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.sessions[endpoint]
	b.sessions[endpoint] = p
	return old
}

// RemoveSessionIf drops the endpoint's session only if it still maps
// to p, so a replacement session is not torn down by its predecessor's
// cleanup.
func (b *AddrBook) RemoveSessionIf(endpoint string, p *peer.Peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[endpoint] != p {
		return false
	}
	delete(b.sessions, endpoint)
	return true
}

// ClearSessions empties the session map. Known endpoints survive;
// only shutdown uses this.
func (b *AddrBook) ClearSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]*peer.Peer)
}

// Session looks up the live session for an endpoint.
func (b *AddrBook) Session(endpoint string) (*peer.Peer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.sessions[endpoint]
	return p, ok
}

// Sessions returns a snapshot of the live sessions.
func (b *AddrBook) Sessions() []*peer.Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*peer.Peer, 0, len(b.sessions))
	for _, p := range b.sessions {
		out = append(out, p)
	}
	return out
}

// Connected returns the endpoints with a live session.
func (b *AddrBook) Connected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sessions))
	for ep := range b.sessions {
		out = append(out, ep)
	}
	return out
}

// ConnectedCount returns the number of live sessions.
func (b *AddrBook) ConnectedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// IsConnected reports whether the endpoint has a live session.
func (b *AddrBook) IsConnected(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[endpoint]
	return ok
}

func (b *AddrBook) knownSlice() []string {
	raw := b.known.ToSlice()
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if ep, ok := v.(string); ok {
			out = append(out, ep)
		}
	}
	return out
}
