package rdt

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jgoldverg/imgdrop/internal"
)

const (
	defaultInboxDepth = 256
	defaultPeerTTL    = 60 * time.Second
	defaultReapScan   = 10 * time.Second
)

// PeerMux splits one shared socket into per-source-address PacketConns so each
// client can be served by its own sequential loop.
type PeerMux struct {
	pc   net.PacketConn
	ttl  time.Duration
	scan time.Duration

	mu     sync.Mutex
	peers  map[string]*PeerConn
	accept chan *PeerConn
	done   chan struct{}
	once   sync.Once
}

func NewPeerMux(pc net.PacketConn, ttl, scan time.Duration) *PeerMux {
	if ttl <= 0 {
		ttl = defaultPeerTTL
	}
	if scan <= 0 {
		scan = defaultReapScan
	}
	return &PeerMux{
		pc:     pc,
		ttl:    ttl,
		scan:   scan,
		peers:  make(map[string]*PeerConn),
		accept: make(chan *PeerConn, 64),
		done:   make(chan struct{}),
	}
}

// Run reads the shared socket until ctx ends or the socket fails, handing
// datagrams to their peer's inbox.
func (m *PeerMux) Run(ctx context.Context) error {
	defer m.shutdown()

	buf := make([]byte, 64*1024)
	lastReap := time.Now()
	for {
		if now := time.Now(); now.Sub(lastReap) >= m.scan {
			m.reap(now)
			lastReap = now
		}

		n, addr, err := readDatagram(ctx, m.pc, buf, m.scan)
		if errors.Is(err, errWaitTimeout) {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		m.dispatch(addr, append([]byte(nil), buf[:n]...))
	}
}

// Accept blocks until a datagram arrives from a previously unseen peer.
func (m *PeerMux) Accept(ctx context.Context) (*PeerConn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, net.ErrClosed
	case c := <-m.accept:
		return c, nil
	}
}

// Len reports the number of live peers.
func (m *PeerMux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

func (m *PeerMux) dispatch(addr net.Addr, datagram []byte) {
	key := addr.String()

	m.mu.Lock()
	c, ok := m.peers[key]
	if !ok {
		c = newPeerConn(m, addr)
		m.peers[key] = c
	}
	m.mu.Unlock()

	c.deliver(datagram)
	if ok {
		return
	}

	select {
	case m.accept <- c:
		internal.Debug("new peer", internal.Fields{
			internal.FieldPeer:    key,
			internal.FieldSession: c.ID.String(),
		})
	default:
		internal.Warn("accept backlog full, dropping peer", internal.Fields{
			internal.FieldPeer: key,
		})
		c.Close()
	}
}

func (m *PeerMux) reap(now time.Time) {
	m.mu.Lock()
	var idle []*PeerConn
	for _, c := range m.peers {
		if now.Sub(c.lastSeen()) > m.ttl {
			idle = append(idle, c)
		}
	}
	m.mu.Unlock()

	for _, c := range idle {
		internal.Debug("reaping idle peer", internal.Fields{
			internal.FieldPeer:    c.remote.String(),
			internal.FieldSession: c.ID.String(),
		})
		c.Close()
	}
}

func (m *PeerMux) remove(c *PeerConn) {
	m.mu.Lock()
	if cur, ok := m.peers[c.remote.String()]; ok && cur == c {
		delete(m.peers, c.remote.String())
	}
	m.mu.Unlock()
}

func (m *PeerMux) shutdown() {
	m.once.Do(func() {
		close(m.done)
	})
	m.mu.Lock()
	peers := make([]*PeerConn, 0, len(m.peers))
	for _, c := range m.peers {
		peers = append(peers, c)
	}
	m.mu.Unlock()
	for _, c := range peers {
		c.Close()
	}
}

// PeerConn is the view of the shared socket seen by a single peer. Reads only
// return that peer's datagrams; writes go out through the shared socket.
type PeerConn struct {
	ID     uuid.UUID
	mux    *PeerMux
	remote net.Addr
	inbox  chan []byte

	mu           sync.Mutex
	readDeadline time.Time
	seen         time.Time
	closed       chan struct{}
	closeOnce    sync.Once
}

func newPeerConn(m *PeerMux, remote net.Addr) *PeerConn {
	return &PeerConn{
		ID:     uuid.New(),
		mux:    m,
		remote: remote,
		inbox:  make(chan []byte, defaultInboxDepth),
		seen:   time.Now(),
		closed: make(chan struct{}),
	}
}

func (c *PeerConn) RemoteAddr() net.Addr {
	return c.remote
}

func (c *PeerConn) deliver(datagram []byte) {
	c.mu.Lock()
	c.seen = time.Now()
	c.mu.Unlock()

	select {
	case <-c.closed:
	case c.inbox <- datagram:
	default:
		// A full inbox behaves like a dropped datagram.
	}
}

func (c *PeerConn) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen
}

func (c *PeerConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var timer <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}

	select {
	case datagram := <-c.inbox:
		return copy(b, datagram), c.remote, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-timer:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

func (c *PeerConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	return c.mux.pc.WriteTo(b, addr)
}

func (c *PeerConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mux.remove(c)
	})
	return nil
}

func (c *PeerConn) LocalAddr() net.Addr {
	return c.mux.pc.LocalAddr()
}

func (c *PeerConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *PeerConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *PeerConn) SetWriteDeadline(time.Time) error {
	return nil
}

var _ net.PacketConn = (*PeerConn)(nil)
