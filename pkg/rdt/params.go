package rdt

import (
	"time"

	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/jgoldverg/imgdrop/pkg/rdtwire"
)

const DefaultTimeout = 2 * time.Second

// ProgressFunc is called with the number of payload bytes moved so far and the
// announced total.
type ProgressFunc func(done, total int)

// Params configures one side of a stop-and-wait exchange.
type Params struct {
	// ChunkSize bounds the content carried by one chunk.
	ChunkSize int
	// Timeout is the per-packet wait T.
	Timeout time.Duration
	// MaxRetries bounds chunk retransmissions. Zero retries forever.
	MaxRetries int
	// HeaderTimeout bounds the wait for the first datagram of a receive.
	// Zero blocks until a datagram arrives or the context ends.
	HeaderTimeout time.Duration
	// AllowShort accepts a first datagram that is not a size header as a
	// complete unframed message.
	AllowShort bool

	Metrics *metrics.TransferCollector
}

// ServerParams matches the listening side: blocking first read, short
// messages accepted.
func ServerParams(timeout time.Duration, chunkSize int) Params {
	return Params{
		ChunkSize:  chunkSize,
		Timeout:    timeout,
		AllowShort: true,
	}
}

// ClientParams matches the requesting side: the reply must start with a size
// header within one timeout.
func ClientParams(timeout time.Duration, chunkSize, maxRetries int) Params {
	return Params{
		ChunkSize:     chunkSize,
		Timeout:       timeout,
		MaxRetries:    maxRetries,
		HeaderTimeout: timeout,
	}
}

func (p Params) chunkSize() int {
	if p.ChunkSize <= 0 {
		return rdtwire.DefaultChunkSize
	}
	return p.ChunkSize
}

func (p Params) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}
