package rdt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/rdtwire"
)

// Sender pushes one payload at a time to a peer: size header, ACK_SIZE, then
// each chunk until its ACK arrives.
type Sender struct {
	pc       net.PacketConn
	params   Params
	progress ProgressFunc
}

func NewSender(pc net.PacketConn, params Params) *Sender {
	return &Sender{
		pc:     pc,
		params: params,
	}
}

// SetProgress installs fn for subsequent sends. Pass nil to clear it.
func (s *Sender) SetProgress(fn ProgressFunc) {
	s.progress = fn
}

// Send transfers payload to dest. It returns nil only after every chunk has
// been acknowledged in order.
func (s *Sender) Send(ctx context.Context, payload []byte, dest net.Addr) error {
	if dest == nil {
		return errors.New("remote addr required")
	}
	err := s.send(ctx, payload, dest)
	s.params.Metrics.ObserveTransfer(err == nil)
	return err
}

func (s *Sender) send(ctx context.Context, payload []byte, dest net.Addr) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrPayloadTooLarge
	}
	timeout := s.params.timeout()

	if err := s.sendHeader(ctx, uint32(len(payload)), dest, timeout); err != nil {
		return err
	}

	chunks := rdtwire.Split(payload, s.params.chunkSize())
	out := make([]byte, rdtwire.SeqLen+s.params.chunkSize())
	in := make([]byte, 64*1024)
	sent := 0

	for i := range chunks {
		if err := s.sendChunk(ctx, &chunks[i], dest, timeout, out, in); err != nil {
			return err
		}
		sent += len(chunks[i].Payload)
		if s.progress != nil {
			s.progress(sent, len(payload))
		}
	}

	internal.Trace("payload delivered", internal.Fields{
		internal.FieldPeer:  dest.String(),
		internal.FieldBytes: len(payload),
	})
	return nil
}

// sendHeader makes a single attempt. A lost header or ACK_SIZE fails the send.
func (s *Sender) sendHeader(ctx context.Context, total uint32, dest net.Addr, timeout time.Duration) error {
	hdr := rdtwire.SizeHeader{TotalLen: total}
	buf := make([]byte, rdtwire.SizeHeaderLen)
	if _, err := hdr.Encode(buf); err != nil {
		return err
	}
	if _, err := s.pc.WriteTo(buf, dest); err != nil {
		return fmt.Errorf("send size header: %w", err)
	}

	reply := make([]byte, 64)
	n, err := readFromPeer(ctx, s.pc, reply, dest, timeout)
	if errors.Is(err, errWaitTimeout) {
		s.params.Metrics.ObserveSizeAckTimeout()
		internal.Warn("no ACK_SIZE from peer", internal.Fields{
			internal.FieldPeer: dest.String(),
		})
		return ErrSizeAckTimeout
	}
	if err != nil {
		return err
	}
	if !rdtwire.IsSizeAck(reply[:n]) {
		internal.Warn("peer answered size header with unexpected datagram", internal.Fields{
			internal.FieldPeer:  dest.String(),
			internal.FieldBytes: n,
		})
		return ErrBadSizeAck
	}
	return nil
}

func (s *Sender) sendChunk(ctx context.Context, chunk *rdtwire.Chunk, dest net.Addr, timeout time.Duration, out, in []byte) error {
	n, err := chunk.Encode(out)
	if err != nil {
		return err
	}

	for tries := 0; ; tries++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.params.MaxRetries > 0 && tries > s.params.MaxRetries {
			return fmt.Errorf("chunk %d: %w", chunk.Seq, ErrRetriesExhausted)
		}

		sentAt := time.Now()
		if _, err := s.pc.WriteTo(out[:n], dest); err != nil {
			return fmt.Errorf("send chunk %d: %w", chunk.Seq, err)
		}
		s.params.Metrics.ObserveChunkSent(len(chunk.Payload), tries > 0)

		rn, from, err := readDatagram(ctx, s.pc, in, timeout)
		if errors.Is(err, errWaitTimeout) {
			internal.Debug("chunk ack timeout, retransmitting", internal.Fields{
				internal.FieldSeq:  chunk.Seq,
				internal.FieldPeer: dest.String(),
			})
			continue
		}
		if err != nil {
			return err
		}

		// Anything but the matching ACK from dest triggers a retransmission.
		if !sameAddr(from, dest) {
			continue
		}
		var ack rdtwire.ChunkAck
		if _, err := ack.Decode(in[:rn]); err != nil || ack.Seq != chunk.Seq {
			continue
		}
		s.params.Metrics.ObserveAck(time.Since(sentAt))
		return nil
	}
}
