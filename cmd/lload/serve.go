package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/lload/internal/admin"
	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/logging"
	"github.com/KilimcininKorOglu/lload/internal/metrics"
	"github.com/KilimcininKorOglu/lload/internal/server"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	var (
		logLevel string
		noWatch  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the load balancer",
		Long: `Run the load balancer with the given configuration file.

The configuration is reloaded on SIGHUP, on POST /config/reload of the admin
API and, unless --no-watch is given, whenever the file changes. SIGINT and
SIGTERM stop accepting clients and drain outstanding operations.

Examples:
  lload serve --config /etc/lload/lload.yaml
  lload serve --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAndValidate(*cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			lb, err := NewLoadBalancer(cfg, *cfgFile)
			if err != nil {
				return err
			}
			lb.watch = !noWatch

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return lb.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload when the config file changes")
	return cmd
}

// LoadBalancer ties the proxy to its operational surfaces: configuration
// reload, metrics and the admin API.
type LoadBalancer struct {
	config        *config.Config
	configFile    string
	configManager *config.ConfigManager
	logger        logging.Logger
	collector     *metrics.Collector
	proxy         *server.Proxy
	admin         *admin.Server
	watch         bool

	// listeners override configured addresses in tests
	ldapListeners []net.Listener
	metricsLn     net.Listener
	adminLn       net.Listener
}

// NewLoadBalancer builds every component from cfg without opening any
// connection.
func NewLoadBalancer(cfg *config.Config, configFile string) (*LoadBalancer, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	lb := &LoadBalancer{
		config:        cfg,
		configFile:    configFile,
		configManager: config.NewConfigManager(cfg, configFile),
		logger:        logger,
	}

	if cfg.Metrics.Enabled {
		lb.collector = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.NewRegistry())
	}

	proxy, err := server.New(cfg, server.Options{
		Logger:  logger.WithFields("component", "proxy"),
		Metrics: lb.collector,
	})
	if err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}
	lb.proxy = proxy

	if cfg.Admin.Enabled {
		lb.admin = admin.NewServer(admin.ServerConfigFrom(cfg.Admin), proxy.Registry(), logger.WithFields("component", "admin"))
		lb.admin.Handlers().SetConfigManager(lb.configManager)
		lb.admin.Handlers().SetReloadFunc(lb.Reload)
		lb.admin.Handlers().SetVersion(version)
	}

	lb.configManager.SetOnUpdate(func(old, new *config.Config) {
		if old.Logging != new.Logging {
			logger.Warn("logging changes take effect after a restart")
		}
		if !sameListeners(old, new) || old.TLS != new.TLS {
			logger.Warn("listener and TLS changes take effect after a restart")
		}
		proxy.Reload(new)
	})

	return lb, nil
}

// Reload re-reads the configuration file and applies it.
func (lb *LoadBalancer) Reload() error {
	err := lb.configManager.Reload()
	lb.collector.ConfigReloaded(err == nil)
	if err != nil {
		lb.logger.Error("configuration reload failed", "file", lb.configFile, "error", err.Error())
		return err
	}
	lb.logger.Info("configuration reloaded", "file", lb.configFile)
	return nil
}

// Run starts every component and blocks until ctx is done or one of them
// fails. The proxy drains outstanding operations before Run returns.
func (lb *LoadBalancer) Run(ctx context.Context) error {
	defer logging.Sync(lb.logger)

	lb.proxy.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if len(lb.ldapListeners) == 0 {
			return lb.proxy.ListenAndServe(gctx)
		}
		return lb.serveListeners(gctx)
	})

	if lb.collector != nil {
		g.Go(func() error { return lb.serveMetrics(gctx) })
	}

	if lb.admin != nil {
		g.Go(func() error {
			if lb.adminLn != nil {
				return lb.admin.Serve(gctx, lb.adminLn)
			}
			return lb.admin.ListenAndServe(gctx)
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				lb.logger.Info("SIGHUP received")
				_ = lb.Reload()
			}
		}
	})

	if lb.watch && lb.configFile != "" {
		watcher, err := config.NewConfigWatcher(&config.WatcherConfig{
			FilePath: lb.configFile,
			OnChange: lb.Reload,
		})
		if err != nil {
			lb.logger.Warn("config file watching disabled", "file", lb.configFile, "error", err.Error())
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	lb.logger.Info("lload started",
		"version", version,
		"listeners", len(lb.config.Listeners),
		"backends", len(lb.config.Backends),
	)

	err := g.Wait()
	lb.logger.Info("lload stopped")
	return err
}

// serveListeners serves pre-bound listeners and shuts the proxy down when
// ctx is done.
func (lb *LoadBalancer) serveListeners(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, ln := range lb.ldapListeners {
		ln := ln
		ldaps := i < len(lb.config.Listeners) && lb.config.Listeners[i].TLS
		g.Go(func() error {
			err := lb.proxy.Serve(ln, ldaps)
			if errors.Is(err, server.ErrProxyClosed) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), lb.config.Timeouts.Shutdown)
		defer cancel()
		return lb.proxy.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (lb *LoadBalancer) serveMetrics(ctx context.Context) error {
	r := chi.NewRouter()
	r.Handle(lb.config.Metrics.Path, lb.collector.Handler())

	srv := &http.Server{
		Addr:              lb.config.Metrics.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln := lb.metricsLn
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", lb.config.Metrics.Address)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
	}
	lb.logger.Info("metrics server started", "address", ln.Addr().String(), "path", lb.config.Metrics.Path)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sameListeners(a, b *config.Config) bool {
	if len(a.Listeners) != len(b.Listeners) {
		return false
	}
	for i := range a.Listeners {
		if a.Listeners[i] != b.Listeners[i] {
			return false
		}
	}
	return true
}
