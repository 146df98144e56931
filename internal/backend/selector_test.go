package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/lload/internal/config"
)

func startAll(t *testing.T, r *Registry) {
	t.Helper()
	r.Start()
	for _, b := range r.Backends() {
		waitReady(t, b, b.Config().Connections)
	}
}

func TestSelectFewestAssignedThenPriority(t *testing.T) {
	a := backendCfg("a", 1)
	a.Priority = 1
	b := backendCfg("b", 1)
	b.Priority = 0
	r := newTestRegistry(t, []config.BackendConfig{a, b}, &fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)

	var picks []string
	for i := 0; i < 4; i++ {
		e, err := r.Select(nil)
		require.NoError(t, err)
		picks = append(picks, e.Backend().Name())
	}
	// Loads tie at every even step; priority 0 wins those ties.
	assert.Equal(t, []string{"b", "a", "b", "a"}, picks)
}

func TestSelectWeightBreaksTiesOnly(t *testing.T) {
	a := backendCfg("a", 1)
	a.Weight = 1
	b := backendCfg("b", 1)
	b.Weight = 10
	r := newTestRegistry(t, []config.BackendConfig{a, b}, &fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)

	first, err := r.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, "b", first.Backend().Name(), "higher weight wins a load tie")

	second, err := r.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, "a", second.Backend().Name(), "weight never overrides load")
}

func TestSelectConfigurationOrder(t *testing.T) {
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 1), backendCfg("b", 1)},
		&fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)

	e, err := r.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, "a", e.Backend().Name())
}

func TestSelectReleasedCapacityIsReused(t *testing.T) {
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 1), backendCfg("b", 1)},
		&fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)

	ea, err := r.Select(nil)
	require.NoError(t, err)
	eb, err := r.Select(nil)
	require.NoError(t, err)
	require.NotSame(t, ea, eb)

	ea.Backend().Release(ea)
	e, err := r.Select(nil)
	require.NoError(t, err)
	assert.Same(t, ea, e)
}

func TestSelectFilter(t *testing.T) {
	vc := backendCfg("vc", 1)
	vc.BindStrategy = config.BindVerifyCredentials
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("pin", 1), vc},
		&fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)

	for i := 0; i < 3; i++ {
		e, err := r.Select(StrategyFilter(config.BindVerifyCredentials))
		require.NoError(t, err)
		assert.Equal(t, "vc", e.Backend().Name())
	}

	_, err := r.Select(func(*Backend) bool { return false })
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestSelectSkipsBackendInBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 1), backendCfg("b", 1)},
		&fakeDialer{}, clock)
	startAll(t, r)

	a, _ := r.Get("a")
	ea, err := r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "a", ea.Backend().Name())

	// Losing a's only connection puts it in backoff; b serves everything.
	a.ConnectionLost(ea, assert.AnError)
	for i := 0; i < 3; i++ {
		e, err := r.Select(nil)
		require.NoError(t, err)
		assert.Equal(t, "b", e.Backend().Name())
	}
}

func TestSelectExclusiveTakesOnlyIdleConnections(t *testing.T) {
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 2)}, &fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)
	b, _ := r.Get("a")

	busy, err := r.Select(nil)
	require.NoError(t, err)

	pinned, err := r.SelectExclusive(nil)
	require.NoError(t, err)
	assert.NotSame(t, busy, pinned, "a connection carrying operations is never pinned")
	assert.Equal(t, StateBoundExclusive, pinned.State())
	assert.Equal(t, 1, pinned.Assigned())

	_, err = r.SelectExclusive(nil)
	assert.ErrorIs(t, err, ErrNoConnection)

	b.Release(busy)
	e, err := r.SelectExclusive(nil)
	require.NoError(t, err)
	assert.Same(t, busy, e)
}
