package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-aside/v1/aside"
	"github.com/mirkobrombin/go-aside/v1/events"
	"github.com/mirkobrombin/go-aside/v1/metrics"
)

const outcomeHeader = "X-Aside-Outcome"

func newServeCmd(opts *rootOptions) *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cached timestamps over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, trace)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "print spans to stdout")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, trace bool) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	b, err := openBackends(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	var cacheOpts []aside.Option[time.Time]
	if trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
		cacheOpts = append(cacheOpts, aside.WithTracing[time.Time](tp))
	}
	cache, err := b.timestampCache(cacheOpts...)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	b.Metrics.MustRegister(reg)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newMux(cache, b.Watcher, reg, cfg.HTTP.ProduceDelay(), cfg.HTTP.TTL(), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTP.Addr),
			zap.String("store", cfg.Store.Backend),
			zap.String("lock", cfg.Lock.Backend),
			zap.String("events", cfg.Events.Backend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(sctx)
}

// newMux routes the cache, event and metrics endpoints.
func newMux(cache *aside.Cache[time.Time], w events.Watcher, reg *prometheus.Registry, delay, ttl time.Duration, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cache/{key}", func(rw http.ResponseWriter, r *http.Request) {
		res, err := cache.Fetch(r.Context(), r.PathValue("key"), sleepingClock(delay), ttl)
		writeResult(rw, res, err, log)
	})
	mux.HandleFunc("GET /cache-async/{key}", func(rw http.ResponseWriter, r *http.Request) {
		res, err := cache.FetchAsync(r.Context(), r.PathValue("key"), timerClock(delay), ttl).Await(r.Context())
		writeResult(rw, res, err, log)
	})
	mux.Handle("GET /events", events.SSEHandler(w))
	mux.Handle("GET /events/ws", events.WebSocketHandler(w))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// sleepingClock returns the current UTC time after holding the goroutine
// for delay.
func sleepingClock(delay time.Duration) aside.Producer[time.Time] {
	return func(context.Context) (time.Time, error) {
		time.Sleep(delay)
		return time.Now().UTC(), nil
	}
}

// timerClock returns the current UTC time after delay, giving up early when
// ctx is done.
func timerClock(delay time.Duration) aside.Producer[time.Time] {
	return func(ctx context.Context) (time.Time, error) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			return time.Now().UTC(), nil
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	}
}

func writeResult(rw http.ResponseWriter, res aside.Result[time.Time], err error, log *zap.Logger) {
	if err != nil {
		log.Error("get-or-set failed", zap.Error(err))
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set(outcomeHeader, string(res.Outcome))
	_ = json.NewEncoder(rw).Encode(res.Value)
}
