// Command webpool serves static pages from a fixed-size worker pool.
//
// Usage:
//
//	webpool [config.yaml]
//
// The config path may also be given in WEBPOOL_CONFIG. Every key can be
// overridden with WEBPOOL_<SECTION>_<FIELD>, e.g. WEBPOOL_SERVER_WORKERS=8.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/webpool/pkg/config"
	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/core/concurrency"
	"github.com/fluxorio/webpool/pkg/events"
	"github.com/fluxorio/webpool/pkg/httpd"
	"github.com/fluxorio/webpool/pkg/observability/prometheus"
	"github.com/fluxorio/webpool/pkg/observability/tracing"
	"github.com/fluxorio/webpool/pkg/tcp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadFile(configPath(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "webpool: %v\n", err)
		os.Exit(1)
	}

	logger, err := core.NewLoggerFor(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webpool: %v\n", err)
		os.Exit(1)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Errorf("startup failed: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received %s, shutting down", sig)
		_ = a.acceptor.Stop()
	}()

	serveErr := a.acceptor.Serve()
	a.shutdown()
	if serveErr != nil {
		logger.Errorf("accept loop failed: %v", serveErr)
		os.Exit(1)
	}
}

func configPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return os.Getenv("WEBPOOL_CONFIG")
}

// app holds every running component in startup order.
type app struct {
	logger   core.Logger
	pool     *concurrency.ThreadPool
	acceptor *tcp.Acceptor
	metrics  *prometheus.MetricsServer

	publisher       events.AccessPublisher
	tracingShutdown tracing.ShutdownFunc
}

func newApp(cfg *config.Config, logger core.Logger) (_ *app, err error) {
	a := &app{logger: logger, publisher: events.NopPublisher{}}
	defer func() {
		if err != nil {
			a.shutdown()
		}
	}()

	a.tracingShutdown, err = tracing.Setup(cfg.Tracing, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	var obs *prometheus.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		obs = prometheus.NewMetrics(prom.WrapRegistererWith(prom.Labels{"service": "webpool"}, reg))
		a.metrics = prometheus.NewMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path, reg, logger.With("component", "metrics"))
		if err = a.metrics.Start(); err != nil {
			return nil, err
		}
	}

	if cfg.Events.NATSURL != "" {
		pub, perr := events.NewNATSPublisher(events.NATSConfig{
			URL:     cfg.Events.NATSURL,
			Subject: cfg.Events.Subject,
			Name:    "webpool",
		})
		if perr != nil {
			return nil, perr
		}
		a.publisher = pub
	}

	poolOpts := []concurrency.Option{
		concurrency.WithLogger(logger),
		concurrency.WithName("http"),
	}
	if obs != nil {
		poolOpts = append(poolOpts, concurrency.WithObserver(obs))
	}
	a.pool, err = concurrency.NewThreadPool(cfg.Server.Workers, poolOpts...)
	if err != nil {
		return nil, err
	}

	site, err := httpd.LoadSite(cfg.Static)
	if err != nil {
		return nil, err
	}
	handlerOpts := []httpd.HandlerOption{
		httpd.WithLogger(logger.With("component", "httpd")),
		httpd.WithPublisher(a.publisher),
	}
	if obs != nil {
		handlerOpts = append(handlerOpts, httpd.WithRecorder(obs))
	}
	handler := httpd.NewHandler(site, handlerOpts...)

	acceptorOpts := []tcp.AcceptorOption{tcp.WithLogger(logger.With("component", "acceptor"))}
	if obs != nil {
		acceptorOpts = append(acceptorOpts, tcp.WithObserver(obs))
	}
	a.acceptor = tcp.NewAcceptor(tcp.AcceptorConfig{
		Addr:         cfg.Server.Addr,
		MaxConns:     cfg.Server.MaxConns,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}, a.pool, handler.Serve, acceptorOpts...)
	if err = a.acceptor.Listen(); err != nil {
		return nil, err
	}

	logger.Infof("webpool listening on %s with %d workers", a.acceptor.ListeningAddr(), cfg.Server.Workers)
	return a, nil
}

// shutdown stops components in reverse dependency order. Jobs already
// queued on the pool run to completion before the publisher closes.
func (a *app) shutdown() {
	if a.acceptor != nil {
		if err := a.acceptor.Stop(); err != nil {
			a.logger.Warnf("stop acceptor: %v", err)
		}
	}
	if a.pool != nil && !a.pool.IsClosed() {
		a.pool.Shutdown()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warnf("close publisher: %v", err)
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(); err != nil {
			a.logger.Warnf("stop metrics server: %v", err)
		}
	}
	if a.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracingShutdown(ctx); err != nil {
			a.logger.Warnf("flush traces: %v", err)
		}
	}
	a.logger.Info("shutdown complete")
}
