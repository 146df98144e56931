package backend

import (
	"sync"
	"time"

	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/logging"
	"github.com/KilimcininKorOglu/lload/internal/metrics"
)

// Options configures a Registry and every Backend it creates.
type Options struct {
	// Retry is the reconnection backoff policy.
	Retry config.RetryConfig
	// DialTimeout bounds each dial including TLS and the service bind.
	DialTimeout time.Duration
	// Dial establishes upstream connections. Required.
	Dial DialFunc
	// Logger receives pool events. Defaults to a no-op logger.
	Logger logging.Logger
	// Metrics receives backend gauges. Optional.
	Metrics *metrics.Collector

	// Now and Jitter are replaced in tests.
	Now    func() time.Time
	Jitter func(time.Duration) time.Duration
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Options) jitter(d time.Duration) time.Duration {
	if o.Jitter != nil {
		return o.Jitter(d)
	}
	return Jitter(d)
}

// Registry is the ordered set of configured backends. Configuration order
// is the final tie-break of the selector.
type Registry struct {
	opts *Options

	mu       sync.RWMutex
	backends []*Backend
	// retired backends were removed by Apply and are draining.
	retired []*Backend
}

// NewRegistry builds a registry from backend configurations. Call Start to
// open connections.
func NewRegistry(cfgs []config.BackendConfig, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	r := &Registry{opts: &opts}
	for _, cfg := range cfgs {
		r.backends = append(r.backends, newBackend(cfg, r.opts))
	}
	return r
}

// Start fills every backend's pool.
func (r *Registry) Start() {
	for _, b := range r.Backends() {
		b.Start()
	}
}

// Backends returns the active backends in configuration order.
func (r *Registry) Backends() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Backend(nil), r.backends...)
}

// Get returns the active backend with the given name.
func (r *Registry) Get(name string) (*Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, ErrUnknownBackend
}

// SetAdminDown enables or disables the named backend.
func (r *Registry) SetAdminDown(name string, down bool) error {
	b, err := r.Get(name)
	if err != nil {
		return err
	}
	b.SetAdminDown(down)
	return nil
}

// Status returns a snapshot of every active backend.
func (r *Registry) Status() []Status {
	backends := r.Backends()
	out := make([]Status, 0, len(backends))
	for _, b := range backends {
		out = append(out, b.Status())
	}
	return out
}

// Publish refreshes backend metrics and forgets retired backends whose
// connections have all closed.
func (r *Registry) Publish() {
	for _, b := range r.Backends() {
		b.publish()
	}

	r.mu.Lock()
	kept := r.retired[:0]
	for _, b := range r.retired {
		if !b.Idle() {
			kept = append(kept, b)
		}
	}
	r.retired = kept
	r.mu.Unlock()
}

// Conns returns every established upstream connection, including those of
// retired backends still draining.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	all := append(append([]*Backend(nil), r.backends...), r.retired...)
	r.mu.RUnlock()

	var conns []Conn
	for _, b := range all {
		conns = append(conns, b.Conns()...)
	}
	return conns
}

// SetRetry replaces the backoff policy for subsequent failures.
func (r *Registry) SetRetry(retry config.RetryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Retry = retry
	for _, b := range r.backends {
		b.mu.Lock()
		b.retry = retry
		b.mu.Unlock()
	}
}

// Apply reconciles the registry with a new backend list. Backends whose
// configuration is unchanged are kept along with their connections and
// in-flight operations. New backends are created and started. Removed or
// changed backends are drained. It returns the names added and removed;
// a changed backend appears in both.
func (r *Registry) Apply(cfgs []config.BackendConfig) (added, removed []string) {
	r.mu.Lock()

	current := make(map[string]*Backend, len(r.backends))
	for _, b := range r.backends {
		current[b.Name()] = b
	}

	next := make([]*Backend, 0, len(cfgs))
	var started []*Backend
	kept := make(map[*Backend]bool)
	for _, cfg := range cfgs {
		config.ApplyBackendDefaults(&cfg)
		if b, ok := current[cfg.Name]; ok && b.cfg == cfg {
			next = append(next, b)
			kept[b] = true
			continue
		}
		b := newBackend(cfg, r.opts)
		next = append(next, b)
		started = append(started, b)
		added = append(added, cfg.Name)
	}

	var drained []*Backend
	for _, b := range r.backends {
		if !kept[b] {
			drained = append(drained, b)
			removed = append(removed, b.Name())
		}
	}

	r.backends = next
	r.retired = append(r.retired, drained...)
	r.mu.Unlock()

	for _, b := range drained {
		b.Drain()
		if r.opts.Metrics != nil {
			r.opts.Metrics.BackendRemoved(b.Name())
		}
	}
	for _, b := range started {
		b.Start()
	}

	r.opts.Logger.Info("backends reconfigured",
		"added", added,
		"removed", removed,
		"total", len(next))
	return added, removed
}

// Close closes every connection of every backend.
func (r *Registry) Close() {
	r.mu.Lock()
	all := append(append([]*Backend(nil), r.backends...), r.retired...)
	r.mu.Unlock()
	for _, b := range all {
		b.Close()
	}
}
