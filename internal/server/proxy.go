package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
	"github.com/KilimcininKorOglu/lload/internal/logging"
	"github.com/KilimcininKorOglu/lload/internal/metrics"
)

// Proxy errors
var (
	// ErrProxyClosed is returned by Serve after Shutdown
	ErrProxyClosed = errors.New("server: proxy closed")
	// ErrNoListeners is returned when no listener is configured
	ErrNoListeners = errors.New("server: no listeners configured")
)

// settings is the reloadable part of the configuration read by
// connections at use.
type settings struct {
	operationTimeout       time.Duration
	idleTimeout            time.Duration
	writeTimeout           time.Duration
	abandonGrace           time.Duration
	shutdownTimeout        time.Duration
	maxPDUsPerCycle        int
	maxPendingClientOps    int
	maxUpstreamPDUSize     int
	maxPDUSize             int
	writeQueueLimit        int
	maxBindQueue           int
	forwardUnknownExtended bool
}

func newSettings(cfg *config.Config) *settings {
	s := &settings{
		operationTimeout:       cfg.Timeouts.Operation,
		idleTimeout:            cfg.Timeouts.Idle,
		writeTimeout:           cfg.Timeouts.Write,
		abandonGrace:           cfg.Timeouts.AbandonGrace,
		shutdownTimeout:        cfg.Timeouts.Shutdown,
		maxPDUsPerCycle:        cfg.Limits.MaxPDUsPerCycle,
		maxPendingClientOps:    cfg.Limits.MaxPendingClientOps,
		maxUpstreamPDUSize:     cfg.Limits.MaxUpstreamPDUSize,
		maxPDUSize:             cfg.Limits.MaxPDUSize,
		writeQueueLimit:        cfg.Limits.WriteQueueLimit,
		maxBindQueue:           cfg.Limits.MaxBindQueue,
		forwardUnknownExtended: cfg.Features.ForwardUnknownExtended,
	}
	if s.maxPDUsPerCycle < 1 {
		s.maxPDUsPerCycle = 1
	}
	return s
}

// Options are the collaborators of a Proxy.
type Options struct {
	// Logger is the proxy's logger. Defaults to a no-op logger.
	Logger logging.Logger
	// Metrics receives proxy metrics. Optional.
	Metrics *metrics.Collector
	// TLSConfig overrides the listener TLS configuration built from the
	// tls section.
	TLSConfig *tls.Config
	// Now is replaced in tests.
	Now func() time.Time
}

// Proxy is the LDAP load balancer. It accepts client connections, owns the
// backend registry and runs the periodic sweep.
type Proxy struct {
	// logger is the proxy's logger
	logger logging.Logger
	// metrics receives proxy metrics (nil-safe)
	metrics *metrics.Collector
	// registry holds the backends
	registry *backend.Registry
	// extended maps extended operation OIDs to proxy-side handlers
	extended *ExtendedDispatcher
	// startTLS carries the listener TLS configuration
	startTLS *StartTLSHandler
	// cur holds the current reloadable settings
	cur atomic.Pointer[settings]
	// listeners are the configured listener addresses
	listeners []config.ListenerConfig
	// now is the clock
	now func() time.Time
	// opSeq numbers operations
	opSeq atomic.Uint64
	// cron runs the sweep
	cron *cron.Cron

	// mu protects clients, active and closed
	mu      sync.Mutex
	clients map[*ClientConn]struct{}
	active  map[net.Listener]struct{}
	closed  bool
	// wg tracks accept loops
	wg sync.WaitGroup
}

// New builds a proxy from cfg. Call Start to open backend connections and
// Serve or ListenAndServe to accept clients.
func New(cfg *config.Config, opts Options) (*Proxy, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = ListenerTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("load TLS configuration: %w", err)
		}
	}

	p := &Proxy{
		logger:    logger,
		metrics:   opts.Metrics,
		extended:  NewExtendedDispatcher(),
		startTLS:  NewStartTLSHandler(tlsConfig),
		listeners: cfg.Listeners,
		now:       now,
		clients:   make(map[*ClientConn]struct{}),
		active:    make(map[net.Listener]struct{}),
	}
	p.cur.Store(newSettings(cfg))

	if err := p.extended.Register(p.startTLS); err != nil {
		return nil, err
	}
	if err := p.extended.Register(NewWhoAmIHandler()); err != nil {
		return nil, err
	}

	p.registry = backend.NewRegistry(cfg.Backends, backend.Options{
		Retry:       cfg.Retry,
		DialTimeout: cfg.Timeouts.Dial,
		Dial:        p.dialUpstream,
		Logger:      logger.WithFields("component", "backend"),
		Metrics:     opts.Metrics,
		Now:         opts.Now,
	})

	p.cron = cron.New()
	spec := "@every " + cfg.Timeouts.SweepInterval.String()
	if _, err := p.cron.AddFunc(spec, func() { p.Sweep(p.now()) }); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	return p, nil
}

func (p *Proxy) settings() *settings {
	return p.cur.Load()
}

func (p *Proxy) nextOpID() uint64 {
	return p.opSeq.Add(1)
}

// Registry returns the backend registry.
func (p *Proxy) Registry() *backend.Registry {
	return p.registry
}

// Extended returns the extended operation dispatcher.
func (p *Proxy) Extended() *ExtendedDispatcher {
	return p.extended
}

// Start opens backend connections and starts the sweep.
func (p *Proxy) Start() {
	p.registry.Start()
	p.cron.Start()
	p.logger.Info("proxy started", "backends", len(p.registry.Backends()))
}

// ListenAndServe binds every configured listener and serves until ctx is
// done, then shuts down gracefully.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	if len(p.listeners) == 0 {
		return ErrNoListeners
	}

	var lns []net.Listener
	for _, lc := range p.listeners {
		ln, err := net.Listen("tcp", lc.Address)
		if err != nil {
			for _, l := range lns {
				_ = l.Close()
			}
			return fmt.Errorf("listen on %s: %w", lc.Address, err)
		}
		lns = append(lns, ln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, ln := range lns {
		ln, ldaps := ln, p.listeners[i].TLS
		g.Go(func() error {
			err := p.Serve(ln, ldaps)
			if errors.Is(err, ErrProxyClosed) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), p.settings().shutdownTimeout)
		defer cancel()
		return p.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Serve accepts clients on ln until Shutdown. With ldaps set every client
// completes a TLS handshake before its first PDU is read.
func (p *Proxy) Serve(ln net.Listener, ldaps bool) error {
	if ldaps && p.startTLS.GetTLSConfig() == nil {
		return ErrNoTLSConfig
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProxyClosed
	}
	p.active[ln] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	p.logger.Info("listening", "address", ln.Addr().String(), "tls", ldaps)

	for {
		nc, err := ln.Accept()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return ErrProxyClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}

		c := newClientConn(p, nc)
		if !p.addClient(c) {
			_ = nc.Close()
			return ErrProxyClosed
		}
		c.serve(ldaps)
	}
}

func (p *Proxy) addClient(c *ClientConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.clients[c] = struct{}{}
	return true
}

func (p *Proxy) removeClient(c *ClientConn) {
	p.mu.Lock()
	delete(p.clients, c)
	p.mu.Unlock()
}

func (p *Proxy) clientList() []*ClientConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := make([]*ClientConn, 0, len(p.clients))
	for c := range p.clients {
		list = append(list, c)
	}
	return list
}

// ClientCount returns the number of connected clients.
func (p *Proxy) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Shutdown stops accepting, lets outstanding operations finish until ctx
// is done, then disconnects every client with a Notice of Disconnection and
// closes the backends.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for ln := range p.active {
		_ = ln.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()

	p.logger.Info("shutting down", "clients", p.ClientCount())

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
wait:
	for p.outstanding() > 0 {
		select {
		case <-ctx.Done():
			p.logger.Warn("shutdown deadline reached with operations outstanding")
			break wait
		case <-ticker.C:
		}
	}

	for _, c := range p.clientList() {
		c := c
		if !c.post(func() { c.disconnect(ldap.ResultUnavailable, diagShutdown) }) {
			c.Close()
		}
	}

	<-p.cron.Stop().Done()
	p.registry.Close()
	p.logger.Info("proxy stopped")
	return nil
}

// outstanding counts operations across clients by asking each task loop.
func (p *Proxy) outstanding() int {
	total := 0
	for _, c := range p.clientList() {
		c := c
		n := make(chan int, 1)
		if !c.post(func() { n <- c.outstanding() }) {
			continue
		}
		select {
		case v := <-n:
			total += v
		case <-c.loopDone:
		}
	}
	return total
}

// Reload applies a new configuration. Listener and TLS changes need a
// restart; everything else takes effect at once. Backends whose
// configuration did not change keep their connections and operations.
func (p *Proxy) Reload(cfg *config.Config) {
	p.cur.Store(newSettings(cfg))
	p.registry.SetRetry(cfg.Retry)
	added, removed := p.registry.Apply(cfg.Backends)
	p.logger.Info("configuration applied", "backends_added", added, "backends_removed", removed)
}

// Sweep runs the periodic timeout checks on every connection: operation
// and idle timeouts on clients, abandoned link reclamation on upstreams.
// Each check runs on the connection's own task loop.
func (p *Proxy) Sweep(now time.Time) {
	for _, c := range p.clientList() {
		c := c
		c.post(func() { c.sweep(now) })
	}
	for _, bc := range p.registry.Conns() {
		u, ok := bc.(*UpstreamConn)
		if !ok {
			continue
		}
		u.post(func() { u.sweep(now) })
	}
	p.registry.Publish()
}
