package rdt

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/rdtwire"
)

// preallocCap limits the up-front buffer taken on the word of a size header.
const preallocCap = 1 << 20

// Receiver accepts one payload at a time from whichever peer speaks first.
type Receiver struct {
	pc       net.PacketConn
	params   Params
	progress ProgressFunc
}

func NewReceiver(pc net.PacketConn, params Params) *Receiver {
	return &Receiver{
		pc:     pc,
		params: params,
	}
}

// SetProgress installs fn for subsequent receives. Pass nil to clear it.
func (r *Receiver) SetProgress(fn ProgressFunc) {
	r.progress = fn
}

// Receive waits for the next payload from any peer, bounded by the configured
// HeaderTimeout.
func (r *Receiver) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	return r.receive(ctx, nil, r.params.HeaderTimeout)
}

// ReceiveFrom waits for the next payload from peer only. Datagrams from other
// addresses are dropped. A zero headerTimeout waits until ctx ends.
func (r *Receiver) ReceiveFrom(ctx context.Context, peer net.Addr, headerTimeout time.Duration) ([]byte, error) {
	payload, _, err := r.receive(ctx, peer, headerTimeout)
	return payload, err
}

func (r *Receiver) receive(ctx context.Context, peer net.Addr, headerTimeout time.Duration) ([]byte, net.Addr, error) {
	payload, from, err := r.receivePayload(ctx, peer, headerTimeout)
	if !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		r.params.Metrics.ObserveTransfer(err == nil)
	}
	return payload, from, err
}

func (r *Receiver) receivePayload(ctx context.Context, peer net.Addr, headerTimeout time.Duration) ([]byte, net.Addr, error) {
	buf := make([]byte, 64*1024)

	var (
		n    int
		from net.Addr
		err  error
	)
	if peer != nil {
		n, err = readFromPeer(ctx, r.pc, buf, peer, headerTimeout)
		from = peer
	} else {
		n, from, err = readDatagram(ctx, r.pc, buf, headerTimeout)
	}
	if errors.Is(err, errWaitTimeout) {
		return nil, nil, ErrHeaderTimeout
	}
	if err != nil {
		return nil, nil, err
	}

	first := buf[:n]
	if !rdtwire.IsSizeHeader(first) {
		if !r.params.AllowShort {
			return nil, from, ErrUnexpectedDatagram
		}
		r.params.Metrics.ObserveShortMessage(n)
		return append([]byte(nil), first...), from, nil
	}

	var hdr rdtwire.SizeHeader
	if _, err := hdr.Decode(first); err != nil {
		return nil, from, err
	}
	total := int(hdr.TotalLen)
	if _, err := r.pc.WriteTo(rdtwire.SizeAckToken, from); err != nil {
		return nil, from, err
	}

	payload, err := r.collect(ctx, from, total, buf)
	if err != nil {
		return nil, from, err
	}
	return payload, from, nil
}

// collect runs the chunk stage. The first timeout aborts the whole receive.
func (r *Receiver) collect(ctx context.Context, from net.Addr, total int, buf []byte) ([]byte, error) {
	timeout := r.params.timeout()
	chunkBuf := buf[:rdtwire.SeqLen+r.params.chunkSize()]
	ackBuf := make([]byte, rdtwire.ChunkAckLen)

	received := make([]byte, 0, min(total, preallocCap))
	var expected uint32

	for len(received) < total {
		n, err := readFromPeer(ctx, r.pc, chunkBuf, from, timeout)
		if errors.Is(err, errWaitTimeout) {
			r.params.Metrics.ObserveChunkTimeout()
			internal.Warn("chunk wait timed out, abandoning payload", internal.Fields{
				internal.FieldPeer:  from.String(),
				internal.FieldSeq:   expected,
				internal.FieldBytes: len(received),
			})
			return nil, ErrChunkTimeout
		}
		if err != nil {
			return nil, err
		}

		var chunk rdtwire.Chunk
		if _, err := chunk.Decode(chunkBuf[:n]); err != nil {
			continue
		}

		// Every well-formed chunk is acknowledged with its own seq, including
		// stale ones whose earlier ACK was lost.
		ack := rdtwire.ChunkAck{Seq: chunk.Seq}
		if _, err := ack.Encode(ackBuf); err != nil {
			return nil, err
		}
		if _, err := r.pc.WriteTo(ackBuf, from); err != nil {
			return nil, err
		}

		if chunk.Seq != expected {
			r.params.Metrics.ObserveDuplicate()
			continue
		}
		received = append(received, chunk.Payload...)
		expected++
		r.params.Metrics.ObserveChunkReceived(len(chunk.Payload))
		if r.progress != nil {
			r.progress(len(received), total)
		}
	}
	return received, nil
}
