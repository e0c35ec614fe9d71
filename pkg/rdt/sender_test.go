package rdt

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/jgoldverg/imgdrop/pkg/rdtwire"
)

func listenLoopback(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

// recordingConn remembers every datagram written and can drop or duplicate
// them before they reach the wire.
type recordingConn struct {
	net.PacketConn

	mu     sync.Mutex
	writes [][]byte
	drop   func(idx int, b []byte) bool
	dup    bool
}

func (r *recordingConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	r.mu.Lock()
	idx := len(r.writes)
	r.writes = append(r.writes, append([]byte(nil), b...))
	drop := r.drop != nil && r.drop(idx, b)
	dup := r.dup
	r.mu.Unlock()

	if drop {
		return len(b), nil
	}
	if dup {
		if _, err := r.PacketConn.WriteTo(b, addr); err != nil {
			return 0, err
		}
	}
	return r.PacketConn.WriteTo(b, addr)
}

func (r *recordingConn) chunkSeqs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seqs []uint32
	for i, w := range r.writes {
		if i == 0 {
			continue // size header
		}
		seqs = append(seqs, binary.BigEndian.Uint32(w[:4]))
	}
	return seqs
}

func (r *recordingConn) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

type receiveResult struct {
	payload []byte
	from    net.Addr
	err     error
}

func receiveAsync(ctx context.Context, r *Receiver) <-chan receiveResult {
	out := make(chan receiveResult, 1)
	go func() {
		payload, from, err := r.Receive(ctx)
		out <- receiveResult{payload: payload, from: from, err: err}
	}()
	return out
}

func TestSendReceiveRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 1023, 1024, 1025, 2048, 5000}
	for _, size := range sizes {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		receiverConn := listenLoopback(t)
		senderConn := listenLoopback(t)

		receiver := NewReceiver(receiverConn, ServerParams(time.Second, 0))
		sender := NewSender(senderConn, ClientParams(time.Second, 0, 0))

		data := randomPayload(t, size)
		results := receiveAsync(ctx, receiver)

		if err := sender.Send(ctx, data, receiverConn.LocalAddr()); err != nil {
			cancel()
			t.Fatalf("size %d: send failed: %v", size, err)
		}
		res := <-results
		cancel()
		if res.err != nil {
			t.Fatalf("size %d: receive failed: %v", size, res.err)
		}
		if !bytes.Equal(res.payload, data) {
			t.Fatalf("size %d: payload mismatch (got %d bytes)", size, len(res.payload))
		}
		if !sameAddr(res.from, senderConn.LocalAddr()) {
			t.Fatalf("size %d: unexpected source %v", size, res.from)
		}
	}
}

func TestExactMultipleSendsNoExtraChunk(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receiverConn := listenLoopback(t)
	rec := &recordingConn{PacketConn: listenLoopback(t)}

	receiver := NewReceiver(receiverConn, ServerParams(time.Second, 0))
	sender := NewSender(rec, ClientParams(time.Second, 0, 0))

	results := receiveAsync(ctx, receiver)
	if err := sender.Send(ctx, randomPayload(t, 2048), receiverConn.LocalAddr()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if res := <-results; res.err != nil || len(res.payload) != 2048 {
		t.Fatalf("receive: %d bytes, err %v", len(res.payload), res.err)
	}

	if got := rec.count(); got != 3 {
		t.Fatalf("expected header plus 2 chunks, got %d datagrams", got)
	}
	seqs := rec.chunkSeqs()
	for i, seq := range seqs {
		if seq != uint32(i) {
			t.Fatalf("chunk %d carried seq %d", i, seq)
		}
	}
}

func TestSenderRetransmitsLostChunks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	receiverConn := listenLoopback(t)
	seen := make(map[uint32]bool)
	rec := &recordingConn{
		PacketConn: listenLoopback(t),
		drop: func(idx int, b []byte) bool {
			if idx == 0 {
				return false
			}
			seq := binary.BigEndian.Uint32(b[:4])
			if seen[seq] {
				return false
			}
			seen[seq] = true
			return true
		},
	}

	collector := metrics.NewTransferCollector("")
	params := ClientParams(50*time.Millisecond, 0, 0)
	params.Metrics = collector

	// The receiver waits longer than the sender's retransmit timer.
	receiver := NewReceiver(receiverConn, ServerParams(2*time.Second, 0))
	sender := NewSender(rec, params)

	data := randomPayload(t, 3000)
	results := receiveAsync(ctx, receiver)
	if err := sender.Send(ctx, data, receiverConn.LocalAddr()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	res := <-results
	if res.err != nil {
		t.Fatalf("receive failed: %v", res.err)
	}
	if !bytes.Equal(res.payload, data) {
		t.Fatal("payload mismatch after retransmission")
	}

	snap := collector.Snapshot()
	if snap.Retransmissions < 3 {
		t.Fatalf("expected at least 3 retransmissions, got %d", snap.Retransmissions)
	}
	if snap.TransfersOK != 1 {
		t.Fatalf("expected one completed transfer, got %d", snap.TransfersOK)
	}
}

func TestDuplicatedDatagramsDeliverOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receiverConn := listenLoopback(t)
	// Duplicate everything after the header; a doubled header would be read
	// as a reply to ACK_SIZE.
	rec := &recordingConn{PacketConn: listenLoopback(t)}

	receiver := NewReceiver(receiverConn, ServerParams(time.Second, 0))
	sender := NewSender(rec, ClientParams(time.Second, 0, 0))

	data := randomPayload(t, 4096)
	results := receiveAsync(ctx, receiver)

	go func() {
		// Flip to duplicating once the header is out.
		for rec.count() == 0 {
			time.Sleep(time.Millisecond)
		}
		rec.mu.Lock()
		rec.dup = true
		rec.mu.Unlock()
	}()

	if err := sender.Send(ctx, data, receiverConn.LocalAddr()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	res := <-results
	if res.err != nil {
		t.Fatalf("receive failed: %v", res.err)
	}
	if !bytes.Equal(res.payload, data) {
		t.Fatalf("payload mismatch: got %d bytes want %d", len(res.payload), len(data))
	}
}

func TestSizeAckTimeoutSendsNoChunks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	silent := listenLoopback(t)
	rec := &recordingConn{PacketConn: listenLoopback(t)}
	collector := metrics.NewTransferCollector("")
	params := ClientParams(100*time.Millisecond, 0, 0)
	params.Metrics = collector

	sender := NewSender(rec, params)
	err := sender.Send(ctx, randomPayload(t, 2048), silent.LocalAddr())
	if !errors.Is(err, ErrSizeAckTimeout) {
		t.Fatalf("expected ErrSizeAckTimeout, got %v", err)
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("expected only the size header on the wire, got %d datagrams", got)
	}
	if snap := collector.Snapshot(); snap.SizeAckTimeouts != 1 || snap.TransfersFailed != 1 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
}

func TestBadSizeAckFailsSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := listenLoopback(t)
	senderConn := listenLoopback(t)

	go func() {
		buf := make([]byte, 64)
		_, from, err := peer.ReadFrom(buf)
		if err != nil {
			return
		}
		peer.WriteTo([]byte("NOPE"), from)
	}()

	sender := NewSender(senderConn, ClientParams(time.Second, 0, 0))
	if err := sender.Send(ctx, []byte("payload"), peer.LocalAddr()); !errors.Is(err, ErrBadSizeAck) {
		t.Fatalf("expected ErrBadSizeAck, got %v", err)
	}
}

func TestSenderMaxRetriesBoundsChunkStage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := listenLoopback(t)
	rec := &recordingConn{PacketConn: listenLoopback(t)}

	// Acknowledge the header, then go quiet.
	go func() {
		buf := make([]byte, 64)
		_, from, err := peer.ReadFrom(buf)
		if err != nil {
			return
		}
		peer.WriteTo(rdtwire.SizeAckToken, from)
	}()

	sender := NewSender(rec, ClientParams(50*time.Millisecond, 0, 2))
	err := sender.Send(ctx, []byte("never acked"), peer.LocalAddr())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if got := rec.count(); got != 4 {
		t.Fatalf("expected header plus 3 chunk attempts, got %d datagrams", got)
	}
}

func TestSenderStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	peer := listenLoopback(t)
	senderConn := listenLoopback(t)
	go func() {
		buf := make([]byte, 64)
		_, from, err := peer.ReadFrom(buf)
		if err != nil {
			return
		}
		peer.WriteTo(rdtwire.SizeAckToken, from)
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	sender := NewSender(senderConn, ClientParams(50*time.Millisecond, 0, 0))
	err := sender.Send(ctx, []byte("never acked"), peer.LocalAddr())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
