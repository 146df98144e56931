package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/logging"
)

// Backend errors.
var (
	// ErrNoBackend is returned when no backend can serve an operation.
	ErrNoBackend = errors.New("backend: no backend available")
	// ErrNoConnection is returned when eligible backends exist but none has
	// a ready connection with spare capacity. A dial may have been started.
	ErrNoConnection = errors.New("backend: no connections available")
	// ErrUnknownBackend is returned when a backend name is not configured.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)

// EntryState is the lifecycle state of one pooled upstream connection.
type EntryState int

// Pool entry states.
const (
	// StateConnecting covers dialing, TLS and the service bind.
	StateConnecting EntryState = iota
	// StateReady entries are shared and selectable.
	StateReady
	// StateBoundExclusive entries are pinned to one client.
	StateBoundExclusive
	// StateDraining entries take no new work and close once idle.
	StateDraining
	// StateDown entries are gone from the pool.
	StateDown
)

// String returns the state name.
func (s EntryState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateBoundExclusive:
		return "bound-exclusive"
	case StateDraining:
		return "draining"
	case StateDown:
		return "down"
	default:
		return fmt.Sprintf("EntryState(%d)", int(s))
	}
}

// Conn is the handle the pool keeps for an established upstream connection.
type Conn interface {
	// ID returns the connection id used in logs.
	ID() string
	// Close tears the connection down. It must be safe to call more than once
	// and must not call back into the Backend synchronously.
	Close()
}

// DialFunc establishes an upstream connection for entry e, including TLS and
// the service bind. It runs on its own goroutine.
type DialFunc func(ctx context.Context, b *Backend, e *Entry) (Conn, error)

// Entry is one slot in a backend's connection pool. Its mutable fields are
// guarded by the owning Backend's mutex.
type Entry struct {
	id      uint64
	backend *Backend

	state    EntryState
	conn     Conn
	assigned int
}

// ID returns the entry's dial sequence number within its backend.
func (e *Entry) ID() uint64 { return e.id }

// Backend returns the owning backend.
func (e *Entry) Backend() *Backend { return e.backend }

// Conn returns the established connection, or nil while connecting.
func (e *Entry) Conn() Conn {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	return e.conn
}

// State returns the entry state.
func (e *Entry) State() EntryState {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	return e.state
}

// Assigned returns the number of operations currently assigned to the entry.
func (e *Entry) Assigned() int {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	return e.assigned
}

// Backend is one configured upstream directory server together with its
// connection pool and health state.
type Backend struct {
	cfg  config.BackendConfig
	opts *Options

	logger logging.Logger
	sem    *semaphore.Weighted

	mu         sync.Mutex
	retry      config.RetryConfig
	entries    []*Entry
	nextID     uint64
	failures   int
	retryAfter time.Time
	retryTimer *time.Timer
	adminDown  bool
	draining   bool
	closed     bool
}

func newBackend(cfg config.BackendConfig, opts *Options) *Backend {
	config.ApplyBackendDefaults(&cfg)
	return &Backend{
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger.WithFields("backend", cfg.Name),
		sem:    semaphore.NewWeighted(int64(cfg.MaxPendingDials)),
		retry:  opts.Retry,
	}
}

// Name returns the configured backend name.
func (b *Backend) Name() string { return b.cfg.Name }

// Config returns a copy of the backend configuration.
func (b *Backend) Config() config.BackendConfig { return b.cfg }

// Strategy returns the configured bind strategy.
func (b *Backend) Strategy() string { return b.cfg.BindStrategy }

// ProxyAuthz reports whether forwarded operations carry a proxied
// authorization control.
func (b *Backend) ProxyAuthz() bool {
	return b.cfg.ProxyAuthz && b.cfg.BindStrategy == config.BindVerifyCredentials
}

// Failures returns the consecutive failure count.
func (b *Backend) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RetryAfter returns the end of the current backoff window.
func (b *Backend) RetryAfter() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryAfter
}

// AdminDown reports whether the backend was disabled by an operator.
func (b *Backend) AdminDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adminDown
}

// SetAdminDown enables or disables selection of the backend. Existing
// operations are unaffected.
func (b *Backend) SetAdminDown(down bool) {
	b.mu.Lock()
	b.adminDown = down
	b.mu.Unlock()
	b.logger.Info("admin state changed", "admin_down", down)
	b.publish()
}

// eligibleLocked reports whether new work may be assigned to the backend.
func (b *Backend) eligibleLocked(now time.Time) bool {
	return !b.adminDown && !b.draining && !b.closed && !now.Before(b.retryAfter)
}

// liveLocked counts entries that occupy a pool slot.
func (b *Backend) liveLocked() int {
	n := 0
	for _, e := range b.entries {
		if e.state != StateDown && e.state != StateDraining {
			n++
		}
	}
	return n
}

// Start fills the pool up to its configured size.
func (b *Backend) Start() {
	b.fill()
}

// fill starts dials until the pool is full or the dial limit is reached.
func (b *Backend) fill() {
	for b.grow(b.opts.now()) {
	}
}

// grow starts one dial if the pool has room. It reports whether a dial was
// started.
func (b *Backend) grow(now time.Time) bool {
	b.mu.Lock()
	if b.draining || b.closed || now.Before(b.retryAfter) {
		b.mu.Unlock()
		return false
	}
	if b.liveLocked() >= b.cfg.Connections {
		b.mu.Unlock()
		return false
	}
	if !b.sem.TryAcquire(1) {
		b.mu.Unlock()
		return false
	}
	b.nextID++
	e := &Entry{id: b.nextID, backend: b, state: StateConnecting}
	b.entries = append(b.entries, e)
	b.mu.Unlock()

	go b.dial(e)
	return true
}

// connectingLocked reports whether a dial is in progress.
func (b *Backend) connectingLocked() bool {
	for _, e := range b.entries {
		if e.state == StateConnecting {
			return true
		}
	}
	return false
}

func (b *Backend) dial(e *Entry) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.DialTimeout)
	conn, err := b.opts.Dial(ctx, b, e)
	cancel()
	b.sem.Release(1)

	b.mu.Lock()
	if err != nil {
		b.removeLocked(e)
		delay := b.failLocked()
		b.mu.Unlock()
		b.logger.Warn("upstream dial failed",
			"address", b.cfg.Address,
			"error", err.Error(),
			"failures", b.Failures(),
			"retry_in_ms", delay.Milliseconds())
		b.publish()
		return
	}
	if e.state == StateDown || b.draining || b.closed {
		b.removeLocked(e)
		b.mu.Unlock()
		conn.Close()
		return
	}
	e.conn = conn
	e.state = StateReady
	b.failures = 0
	b.retryAfter = time.Time{}
	b.mu.Unlock()

	b.logger.Info("upstream connected",
		"address", b.cfg.Address,
		"conn_id", conn.ID(),
		"duration_ms", time.Since(start).Milliseconds())
	b.publish()
	b.fill()
}

// failLocked records one failure and schedules a retry. It returns the
// scheduled delay.
func (b *Backend) failLocked() time.Duration {
	b.failures++
	delay := Backoff(b.failures, b.retry.Base, b.retry.Max)
	delay += b.opts.jitter(delay)
	b.retryAfter = b.opts.now().Add(delay)
	if b.retryTimer != nil {
		b.retryTimer.Stop()
	}
	if !b.closed && !b.draining {
		b.retryTimer = time.AfterFunc(delay, b.fill)
	}
	return delay
}

func (b *Backend) removeLocked(e *Entry) {
	e.state = StateDown
	for i, x := range b.entries {
		if x == e {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// ConnectionLost removes e from the pool after its connection closed. A
// non-nil cause counts as one backend failure regardless of how many
// operations were outstanding. Repeated calls for the same entry are no-ops.
func (b *Backend) ConnectionLost(e *Entry, cause error) {
	b.mu.Lock()
	if e.state == StateDown {
		b.mu.Unlock()
		return
	}
	prev := e.state
	b.removeLocked(e)
	e.assigned = 0
	var delay time.Duration
	failed := cause != nil && prev != StateDraining && !b.draining && !b.closed
	if failed {
		delay = b.failLocked()
	}
	b.mu.Unlock()

	if failed {
		b.logger.Warn("upstream connection lost",
			"error", cause.Error(),
			"failures", b.Failures(),
			"retry_in_ms", delay.Milliseconds())
	} else {
		b.logger.Debug("upstream connection closed", "entry", e.id)
	}
	b.publish()
	if !failed {
		b.fill()
	}
}

// Reserve assigns one more operation to an entry chosen outside the
// selector, such as a client's pinned connection.
func (b *Backend) Reserve(e *Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.conn == nil || e.state == StateDown || e.state == StateConnecting {
		return false
	}
	if e.assigned >= b.cfg.MaxPendingOps {
		return false
	}
	e.assigned++
	return true
}

// Release returns the capacity taken by one operation. Draining entries
// are closed once their last operation is released.
func (b *Backend) Release(e *Entry) {
	b.mu.Lock()
	if e.assigned > 0 {
		e.assigned--
	}
	var toClose Conn
	if e.state == StateDraining && e.assigned == 0 {
		toClose = e.conn
	}
	b.mu.Unlock()

	if toClose != nil {
		toClose.Close()
	}
}

// Pin marks a ready entry bound-exclusive so the selector skips it. The
// caller's own reservation must be the only operation on the entry.
func (b *Backend) Pin(e *Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.state != StateReady || e.assigned > 1 {
		return false
	}
	e.state = StateBoundExclusive
	return true
}

// Unpin returns a bound-exclusive entry to the shared pool. The caller must
// already have restored the connection's identity.
func (b *Backend) Unpin(e *Entry) {
	b.mu.Lock()
	if e.state != StateBoundExclusive {
		b.mu.Unlock()
		return
	}
	var toClose Conn
	if b.draining || b.closed {
		e.state = StateDraining
		if e.assigned == 0 {
			toClose = e.conn
		}
	} else {
		e.state = StateReady
	}
	b.mu.Unlock()

	if toClose != nil {
		toClose.Close()
	}
}

// Drain stops assigning work to the backend. Idle connections close at
// once; busy and pinned ones close when their last operation finishes.
func (b *Backend) Drain() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	if b.retryTimer != nil {
		b.retryTimer.Stop()
	}
	var toClose []Conn
	for _, e := range b.entries {
		switch e.state {
		case StateReady:
			e.state = StateDraining
			if e.assigned == 0 {
				toClose = append(toClose, e.conn)
			}
		}
	}
	b.mu.Unlock()

	b.logger.Info("backend draining", "idle_closed", len(toClose))
	for _, c := range toClose {
		c.Close()
	}
}

// Close closes every connection of the backend.
func (b *Backend) Close() {
	b.mu.Lock()
	b.closed = true
	if b.retryTimer != nil {
		b.retryTimer.Stop()
	}
	var toClose []Conn
	for _, e := range b.entries {
		if e.conn != nil {
			toClose = append(toClose, e.conn)
		}
	}
	b.mu.Unlock()

	for _, c := range toClose {
		c.Close()
	}
}

// Idle reports whether the backend has no entries left.
func (b *Backend) Idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) == 0
}

// Conns returns the established connections of the backend.
func (b *Backend) Conns() []Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := make([]Conn, 0, len(b.entries))
	for _, e := range b.entries {
		if e.conn != nil {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// Status is a point-in-time view of a backend.
type Status struct {
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	BindStrategy   string    `json:"bindStrategy"`
	Ready          int       `json:"ready"`
	BoundExclusive int       `json:"boundExclusive"`
	Connecting     int       `json:"connecting"`
	Draining       int       `json:"draining"`
	Pending        int       `json:"pending"`
	Failures       int       `json:"failures"`
	RetryAfter     time.Time `json:"retryAfter,omitempty"`
	AdminDown      bool      `json:"adminDown"`
}

// Status returns a snapshot of the backend.
func (b *Backend) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Name:         b.cfg.Name,
		Address:      b.cfg.Address,
		BindStrategy: b.cfg.BindStrategy,
		Failures:     b.failures,
		RetryAfter:   b.retryAfter,
		AdminDown:    b.adminDown,
	}
	for _, e := range b.entries {
		switch e.state {
		case StateReady:
			st.Ready++
		case StateBoundExclusive:
			st.BoundExclusive++
		case StateConnecting:
			st.Connecting++
		case StateDraining:
			st.Draining++
		}
		st.Pending += e.assigned
	}
	return st
}

func (b *Backend) publish() {
	if b.opts.Metrics == nil {
		return
	}
	b.mu.Lock()
	retired := b.draining || b.closed
	b.mu.Unlock()
	if retired {
		return
	}
	st := b.Status()
	b.opts.Metrics.BackendState(st.Name, st.Ready+st.BoundExclusive > 0, st.Failures, st.Pending)
}
