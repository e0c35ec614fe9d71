package imgserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jgoldverg/imgdrop/backend/catalog"
	"github.com/jgoldverg/imgdrop/backend/localfs"
	"github.com/jgoldverg/imgdrop/backend/thumbnail"
	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/jgoldverg/imgdrop/pkg/rdt"
)

// Options are the protocol knobs of a running server.
type Options struct {
	PacketTimeout   time.Duration
	FollowUpTimeout time.Duration
	ChunkSize       int
	// Concurrent gives every client address its own session loop. Otherwise a
	// single loop serves one command at a time.
	Concurrent  bool
	SessionTTL  time.Duration
	SessionScan time.Duration
}

func OptionsFromConfig(cfg *internal.ServerConfig) Options {
	return Options{
		PacketTimeout:   cfg.PacketTimeout(),
		FollowUpTimeout: cfg.FollowUpTimeout(),
		ChunkSize:       cfg.ChunkSize,
		Concurrent:      cfg.ConcurrentSessions,
		SessionTTL:      time.Duration(cfg.SessionTTL) * time.Second,
		SessionScan:     time.Duration(cfg.SessionScan) * time.Second,
	}
}

type Server struct {
	opts    Options
	catalog catalog.Store
	files   *localfs.FileStore
	thumbs  thumbnail.Generator
	metrics *metrics.TransferCollector
}

func New(opts Options, store catalog.Store, files *localfs.FileStore, thumbs thumbnail.Generator, m *metrics.TransferCollector) *Server {
	return &Server{
		opts:    opts,
		catalog: store,
		files:   files,
		thumbs:  thumbs,
		metrics: m,
	}
}

func (s *Server) params() rdt.Params {
	p := rdt.ServerParams(s.opts.PacketTimeout, s.opts.ChunkSize)
	p.Metrics = s.metrics
	return p
}

// Serve answers commands arriving on pc until ctx ends or pc is closed.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn) error {
	internal.Info("image server ready", internal.Fields{
		internal.FieldServer:            pc.LocalAddr().String(),
		internal.FieldKey("concurrent"): s.opts.Concurrent,
	})
	if !s.opts.Concurrent {
		return s.serveSession(ctx, pc, "")
	}
	return s.serveConcurrent(ctx, pc)
}

func (s *Server) serveConcurrent(ctx context.Context, pc net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mux := rdt.NewPeerMux(pc, s.opts.SessionTTL, s.opts.SessionScan)
	muxErr := make(chan error, 1)
	go func() {
		muxErr <- mux.Run(ctx)
		cancel()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := mux.Accept(ctx)
		if err != nil {
			break
		}
		wg.Add(1)
		go func(c *rdt.PeerConn) {
			defer wg.Done()
			defer c.Close()
			_ = s.serveSession(ctx, c, c.ID.String())
		}(conn)
	}

	cancel()
	if err := <-muxErr; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) serveSession(ctx context.Context, pc net.PacketConn, session string) error {
	ep := rdt.NewEndpoint(pc, s.params())
	for {
		data, peer, err := ep.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			internal.Warn("command receive failed", internal.Fields{
				internal.FieldSession: session,
				internal.FieldError:   err.Error(),
			})
			continue
		}
		if len(data) == 0 {
			continue
		}
		s.handle(ctx, ep, data, peer)
	}
}
