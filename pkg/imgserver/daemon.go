package imgserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jgoldverg/imgdrop/backend/catalog"
	"github.com/jgoldverg/imgdrop/backend/localfs"
	"github.com/jgoldverg/imgdrop/backend/thumbnail"
	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run wires storage, the catalog and the listener from cfg and serves until
// ctx is cancelled.
func Run(ctx context.Context, cfg *internal.ServerConfig) error {
	store, err := catalog.NewStore(catalog.Options{
		Backend:   cfg.CatalogBackend,
		TomlPath:  cfg.CatalogFile,
		RedisAddr: cfg.RedisAddr,
		RedisKey:  cfg.RedisKey,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	files, err := localfs.NewFileStore(cfg.BaseDir)
	if err != nil {
		return err
	}
	logStorage(ctx, files, store)

	collector := metrics.NewTransferCollector("")
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, collector)
		defer stop()
	}

	pc, err := Listen(ctx, cfg.ListenAddr(), ListenOptions{
		ReadBufferSize:  cfg.UDPReadBufferSize,
		WriteBufferSize: cfg.UDPWriteBufferSize,
	})
	if err != nil {
		return err
	}
	defer pc.Close()

	srv := New(OptionsFromConfig(cfg), store, files, thumbnail.NewResizer(cfg.ThumbSize), collector)
	return srv.Serve(ctx, pc)
}

func logStorage(ctx context.Context, files *localfs.FileStore, store catalog.Store) {
	stored, err := files.List()
	if err != nil {
		internal.Warn("image directory unreadable", internal.Fields{
			internal.FieldKey("base_dir"): files.BaseDir(),
			internal.FieldError:           err.Error(),
		})
		return
	}
	records, err := store.All(ctx)
	if err != nil {
		internal.Warn("catalog unreadable at startup", internal.Fields{
			internal.FieldError: err.Error(),
		})
		return
	}
	internal.Info("storage ready", internal.Fields{
		internal.FieldKey("base_dir"): files.BaseDir(),
		internal.FieldKey("files"):    len(stored),
		internal.FieldKey("records"):  len(records),
	})
}

func serveMetrics(addr string, collector *metrics.TransferCollector) func() {
	reg := collector.Registry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		internal.Info("metrics endpoint listening", internal.Fields{
			internal.FieldServer: addr,
		})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			internal.Error("metrics endpoint failed", internal.Fields{
				internal.FieldError: err.Error(),
			})
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}
}
