// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/vproxy"
	"github.com/absmach/vproxy/examples/simple"
	"github.com/absmach/vproxy/pkg/breaker"
	"github.com/absmach/vproxy/pkg/handler"
	"github.com/absmach/vproxy/pkg/health"
	"github.com/absmach/vproxy/pkg/metrics"
	"github.com/absmach/vproxy/pkg/proxy"
	"github.com/absmach/vproxy/pkg/ratelimit"
	"github.com/absmach/vproxy/pkg/route"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const httpShutdownTimeout = 5 * time.Second

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the proxy and serve until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

			if err := writePIDFile(cfg.PIDFile); err != nil {
				logger.Warn("failed to write pid file", slog.String("path", cfg.PIDFile), slog.String("error", err.Error()))
			} else {
				defer os.Remove(cfg.PIDFile)
			}

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error(fmt.Sprintf("vproxy service terminated with error: %s", err))
				return err
			}
			logger.Info("vproxy service stopped")
			return nil
		},
	}
}

// run serves the proxy and its observability endpoints until a stop signal
// arrives or one of them fails.
func run(ctx context.Context, cfg vproxy.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	table, err := route.LoadFile(cfg.RoutesFile)
	if err != nil {
		return err
	}
	store := route.NewStore(table)
	logger.Info("routes loaded",
		slog.String("file", cfg.RoutesFile),
		slog.Int("routes", table.Len()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New("vproxy", reg)
	m.RoutesLoaded.Set(float64(table.Len()))

	h, closeHandler := newHandler(cfg, m, logger)
	defer closeHandler()

	breakers := newBreakers(cfg, m, logger)
	p := proxy.NewHost(proxy.HostConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		DialTimeout:     cfg.DialTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		HeadTimeout:     cfg.HeadTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		BufferSize:      cfg.BufferSize,
		MaxHeadBytes:    cfg.MaxHeadBytes,
		MaxConnections:  cfg.MaxConnections,
		TCPKeepAlive:    cfg.TCPKeepAlive,
		Breakers:        breakers,
		Logger:          logger,
	}, store, h)
	checker := newChecker(store, p, breakers, m)

	g.Go(func() error {
		logger.Info("starting proxy", slog.String("address", cfg.Address()))
		return p.Listen(ctx)
	})

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", cfg.MetricsPort, mux, logger)
		})
	}

	if cfg.HealthPort > 0 {
		g.Go(func() error {
			return serveHTTP(ctx, "health", cfg.HealthPort, health.NewMux(checker), logger)
		})
	}

	if cfg.WatchRoutes {
		w := route.NewWatcher(cfg.RoutesFile, store, logger)
		w.OnReload = func(t *route.Table, err error) {
			m.ObserveReload(t.Len(), err)
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

// newHandler builds the lifecycle hook chain: instrumentation around
// optional rate limiting around logging. The returned func releases it.
func newHandler(cfg vproxy.Config, m *metrics.Metrics, logger *slog.Logger) (handler.Handler, func()) {
	var h handler.Handler = simple.New(logger)
	closeFn := func() {}

	if cfg.RateLimitCapacity > 0 {
		limiter := ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitMaxClients)
		closeFn = limiter.Close
		h = &RateLimitedHandler{
			handler: h,
			limiter: limiter,
			metrics: m,
			logger:  logger,
		}
	}

	return &InstrumentedHandler{handler: h, metrics: m}, closeFn
}

// newBreakers returns the per-upstream dial breakers, or nil when disabled.
func newBreakers(cfg vproxy.Config, m *metrics.Metrics, logger *slog.Logger) *breaker.Set {
	if cfg.BreakerMaxFailures <= 0 {
		return nil
	}

	set := breaker.NewSet(breaker.Config{
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	})
	set.OnStateChange(func(name string, from, to breaker.State) {
		logger.Warn("circuit breaker state changed",
			slog.String("upstream", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		m.ObserveBreaker(name, int(to), to == breaker.StateOpen)
	})
	return set
}

// listener reports the address a server is accepting on, nil when it is not.
type listener interface {
	Addr() net.Addr
}

// newChecker registers the proxy health checks. Only a proxy that is not
// accepting connections is unhealthy; an empty route table or an open
// breaker degrades it.
func newChecker(store *route.Store, ln listener, breakers *breaker.Set, m *metrics.Metrics) *health.Checker {
	checker := health.NewChecker(10 * time.Second)

	checker.RegisterCritical("listener", func(ctx context.Context) error {
		if ln.Addr() == nil {
			return errors.New("proxy is not accepting connections")
		}
		return nil
	})

	checker.Register("routes", func(ctx context.Context) error {
		if store.Load().Len() == 0 {
			return errors.New("no routes loaded")
		}
		return nil
	})

	if breakers != nil {
		checker.Register("breakers", func(ctx context.Context) error {
			var open []string
			for upstream, state := range breakers.States() {
				if state == breaker.StateOpen {
					open = append(open, upstream)
				}
			}
			if len(open) > 0 {
				sort.Strings(open)
				return fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
			}
			return nil
		})
	}

	checker.Register("goroutines", func(ctx context.Context) error {
		m.GoroutinesActive.Set(float64(runtime.NumGoroutine()))
		return nil
	})

	checker.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.MemoryAllocated.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
		m.MemoryAllocated.WithLabelValues("sys").Set(float64(stats.Sys))
		return nil
	})

	return checker
}

// serveHTTP runs an HTTP server on port until ctx is cancelled.
func serveHTTP(ctx context.Context, name string, port int, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting "+name+" server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	}
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
