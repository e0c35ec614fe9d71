package rdt

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

var (
	ErrSizeAckTimeout     = errors.New("rdt: timed out waiting for size ack")
	ErrBadSizeAck         = errors.New("rdt: unexpected reply to size header")
	ErrChunkTimeout       = errors.New("rdt: timed out waiting for chunk")
	ErrHeaderTimeout      = errors.New("rdt: timed out waiting for size header")
	ErrRetriesExhausted   = errors.New("rdt: chunk retransmissions exhausted")
	ErrUnexpectedDatagram = errors.New("rdt: first datagram is not a size header")
	ErrPayloadTooLarge    = errors.New("rdt: payload exceeds 4 byte length header")
)

// pollInterval caps a single blocking read so context cancellation is noticed
// even while waiting without a deadline.
const pollInterval = 250 * time.Millisecond

var errWaitTimeout = errors.New("rdt: wait timed out")

// readDatagram waits up to timeout (zero waits forever) for one datagram.
func readDatagram(ctx context.Context, pc net.PacketConn, buf []byte, timeout time.Duration) (int, net.Addr, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	defer pc.SetReadDeadline(time.Time{})

	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		slice := time.Now().Add(pollInterval)
		if !deadline.IsZero() && deadline.Before(slice) {
			slice = deadline
		}
		if err := pc.SetReadDeadline(slice); err != nil {
			return 0, nil, err
		}

		n, addr, err := pc.ReadFrom(buf)
		if err == nil {
			return n, addr, nil
		}
		if !isTimeout(err) {
			return 0, nil, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, nil, errWaitTimeout
		}
	}
}

// readFromPeer is readDatagram restricted to datagrams from peer. Foreign
// datagrams are dropped without extending the overall deadline.
func readFromPeer(ctx context.Context, pc net.PacketConn, buf []byte, peer net.Addr, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		wait := time.Duration(0)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return 0, errWaitTimeout
			}
		}
		n, addr, err := readDatagram(ctx, pc, buf, wait)
		if err != nil {
			return 0, err
		}
		if peer == nil || sameAddr(addr, peer) {
			return n, nil
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.IP.Equal(ub.IP) && ua.Port == ub.Port
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

// Endpoint pairs a Sender and a Receiver over one PacketConn. Only one exchange
// may be in flight on an Endpoint at a time.
type Endpoint struct {
	*Sender
	*Receiver
	pc net.PacketConn
}

func NewEndpoint(pc net.PacketConn, params Params) *Endpoint {
	return &Endpoint{
		Sender:   NewSender(pc, params),
		Receiver: NewReceiver(pc, params),
		pc:       pc,
	}
}

func (e *Endpoint) LocalAddr() net.Addr {
	return e.pc.LocalAddr()
}

func (e *Endpoint) Close() error {
	return e.pc.Close()
}
