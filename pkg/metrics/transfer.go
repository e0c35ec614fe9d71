package metrics

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "imgdrop"
	subsystemRdt     = "rdt"
)

// TransferCollector keeps track of stop-and-wait statistics for one endpoint and
// exposes them via Prometheus compatible collectors. A nil collector is valid and
// records nothing.
type TransferCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	startTime       time.Time
	bytesSent       uint64
	bytesRetransmit uint64
	bytesReceived   uint64
	chunksSent      uint64
	chunksReceived  uint64
	retransmissions uint64
	duplicates      uint64
	sizeAckTimeouts uint64
	chunkTimeouts   uint64
	transfersOK     uint64
	transfersFailed uint64
	shortMessages   uint64
	ackSamples      uint64
	lastAckMs       float64
	rttAvgMs        float64
	jitterMs        float64
}

// TransferSnapshot represents a point-in-time view of the collected metrics.
type TransferSnapshot struct {
	Elapsed         time.Duration
	BytesSent       uint64
	BytesReceived   uint64
	BytesRetransmit uint64
	ChunksSent      uint64
	ChunksReceived  uint64
	Retransmissions uint64
	Duplicates      uint64
	SizeAckTimeouts uint64
	ChunkTimeouts   uint64
	TransfersOK     uint64
	TransfersFailed uint64
	ShortMessages   uint64
	GoodputBps      float64
	RetransmitRate  float64
	RttMs           float64
	JitterMs        float64
}

// NewTransferCollector creates a collector and wires up prometheus collectors.
func NewTransferCollector(namespace string) *TransferCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	tc := &TransferCollector{
		namespace: namespace,
		registry:  reg,
	}
	tc.registerMetrics()
	return tc
}

// Registry returns the prometheus registry managed by this collector.
func (c *TransferCollector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveChunkSent records one chunk transmission. Retransmissions are accounted
// separately so goodput can be derived.
func (c *TransferCollector) ObserveChunkSent(bytes int, retransmit bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.chunksSent++
	if retransmit {
		c.bytesRetransmit += uint64(bytes)
		c.retransmissions++
		return
	}
	c.bytesSent += uint64(bytes)
}

// ObserveChunkReceived records an accepted in-sequence chunk.
func (c *TransferCollector) ObserveChunkReceived(bytes int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.chunksReceived++
	c.bytesReceived += uint64(bytes)
}

func (c *TransferCollector) ObserveDuplicate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.duplicates++
	c.mu.Unlock()
}

func (c *TransferCollector) ObserveShortMessage(bytes int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.shortMessages++
	c.bytesReceived += uint64(bytes)
	c.mu.Unlock()
}

func (c *TransferCollector) ObserveSizeAckTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sizeAckTimeouts++
	c.mu.Unlock()
}

func (c *TransferCollector) ObserveChunkTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunkTimeouts++
	c.mu.Unlock()
}

// ObserveTransfer records the outcome of one whole send or receive.
func (c *TransferCollector) ObserveTransfer(ok bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if ok {
		c.transfersOK++
	} else {
		c.transfersFailed++
	}
	c.mu.Unlock()
}

// ObserveAck stores RTT/jitter data derived from chunk ACK round trips.
func (c *TransferCollector) ObserveAck(d time.Duration) {
	if c == nil || d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	sample := float64(d) / float64(time.Millisecond)
	if c.ackSamples == 0 {
		c.rttAvgMs = sample
		c.jitterMs = 0
	} else {
		diff := math.Abs(sample - c.lastAckMs)
		if c.jitterMs == 0 {
			c.jitterMs = diff
		} else {
			c.jitterMs = (c.jitterMs*0.7 + diff*0.3)
		}
		c.rttAvgMs = (c.rttAvgMs*float64(c.ackSamples) + sample) / float64(c.ackSamples+1)
	}
	c.lastAckMs = sample
	c.ackSamples++
}

// Snapshot creates a read-only view of the collected metrics.
func (c *TransferCollector) Snapshot() TransferSnapshot {
	if c == nil {
		return TransferSnapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildSnapshotLocked(time.Now())
}

func (c *TransferCollector) buildSnapshotLocked(now time.Time) TransferSnapshot {
	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = now.Sub(c.startTime)
	}

	primary := c.bytesSent
	if c.bytesReceived > primary {
		primary = c.bytesReceived
	}

	var retransRatio float64
	if c.bytesSent+c.bytesRetransmit > 0 {
		retransRatio = float64(c.bytesRetransmit) / float64(c.bytesSent+c.bytesRetransmit)
	}

	return TransferSnapshot{
		Elapsed:         elapsed,
		BytesSent:       c.bytesSent,
		BytesReceived:   c.bytesReceived,
		BytesRetransmit: c.bytesRetransmit,
		ChunksSent:      c.chunksSent,
		ChunksReceived:  c.chunksReceived,
		Retransmissions: c.retransmissions,
		Duplicates:      c.duplicates,
		SizeAckTimeouts: c.sizeAckTimeouts,
		ChunkTimeouts:   c.chunkTimeouts,
		TransfersOK:     c.transfersOK,
		TransfersFailed: c.transfersFailed,
		ShortMessages:   c.shortMessages,
		GoodputBps:      rateFromBytes(primary, elapsed),
		RetransmitRate:  retransRatio,
		RttMs:           c.rttAvgMs,
		JitterMs:        c.jitterMs,
	}
}

func (c *TransferCollector) registerMetrics() {
	makeGauge := func(name, help string, valueFn func(TransferSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemRdt,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked(time.Now()))
		})
	}

	makeCounter := func(name, help string, field *uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemRdt,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(*field)
		})
	}

	c.registry.MustRegister(makeGauge(
		"goodput_bytes_per_second",
		"Effective payload rate excluding retransmissions.",
		func(s TransferSnapshot) float64 { return s.GoodputBps },
	))
	c.registry.MustRegister(makeGauge(
		"rtt_milliseconds",
		"Average round-trip time between a chunk and its ACK.",
		func(s TransferSnapshot) float64 { return s.RttMs },
	))
	c.registry.MustRegister(makeGauge(
		"jitter_milliseconds",
		"Smoothed jitter between ACK samples.",
		func(s TransferSnapshot) float64 { return s.JitterMs },
	))
	c.registry.MustRegister(makeGauge(
		"retransmission_ratio",
		"Ratio of retransmitted bytes to total transmitted bytes.",
		func(s TransferSnapshot) float64 { return s.RetransmitRate },
	))

	c.registry.MustRegister(makeCounter("bytes_sent_total", "Payload bytes sent in first transmissions.", &c.bytesSent))
	c.registry.MustRegister(makeCounter("bytes_retransmitted_total", "Payload bytes resent after an ACK timeout.", &c.bytesRetransmit))
	c.registry.MustRegister(makeCounter("bytes_received_total", "Payload bytes accepted by the receiver.", &c.bytesReceived))
	c.registry.MustRegister(makeCounter("chunks_sent_total", "Chunk datagrams transmitted.", &c.chunksSent))
	c.registry.MustRegister(makeCounter("chunks_received_total", "In-sequence chunks accepted.", &c.chunksReceived))
	c.registry.MustRegister(makeCounter("retransmissions_total", "Chunk retransmission events.", &c.retransmissions))
	c.registry.MustRegister(makeCounter("duplicates_total", "Out-of-sequence chunks answered with a stale ACK.", &c.duplicates))
	c.registry.MustRegister(makeCounter("size_ack_timeouts_total", "Sends that failed waiting for ACK_SIZE.", &c.sizeAckTimeouts))
	c.registry.MustRegister(makeCounter("chunk_timeouts_total", "Receives aborted by a chunk-stage timeout.", &c.chunkTimeouts))
	c.registry.MustRegister(makeCounter("transfers_ok_total", "Completed sends and receives.", &c.transfersOK))
	c.registry.MustRegister(makeCounter("transfers_failed_total", "Failed sends and receives.", &c.transfersFailed))
	c.registry.MustRegister(makeCounter("short_messages_total", "Unframed single-datagram messages received.", &c.shortMessages))
}

func (c *TransferCollector) ensureStartTimeLocked() {
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
}

func rateFromBytes(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
