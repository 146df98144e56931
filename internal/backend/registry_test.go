package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/lload/internal/config"
)

func TestApplyKeepsUnchangedBackends(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 1), backendCfg("b", 1)},
		d, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)

	a, _ := r.Get("a")
	b, _ := r.Get("b")
	bConns := b.Conns()
	require.Len(t, bConns, 1)

	added, removed := r.Apply([]config.BackendConfig{backendCfg("a", 1), backendCfg("c", 1)})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"b"}, removed)

	kept, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, kept)

	_, err = r.Get("b")
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.True(t, bConns[0].(*fakeConn).closed.Load(), "idle connections of removed backends close")

	c, err := r.Get("c")
	require.NoError(t, err)
	waitReady(t, c, 1)

	names := []string{}
	for _, st := range r.Status() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"a", "c"}, names)
}

func TestApplyReplacesChangedBackend(t *testing.T) {
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 1)}, &fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)
	old, _ := r.Get("a")

	changed := backendCfg("a", 1)
	changed.Weight = 5
	added, removed := r.Apply([]config.BackendConfig{changed})
	assert.Equal(t, []string{"a"}, added)
	assert.Equal(t, []string{"a"}, removed)

	current, _ := r.Get("a")
	assert.NotSame(t, old, current)
	assert.Equal(t, 5, current.Config().Weight)
}

func TestDrainWaitsForBusyConnections(t *testing.T) {
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 1)}, &fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)
	a, _ := r.Get("a")

	e, err := r.Select(nil)
	require.NoError(t, err)
	conn := e.Conn().(*fakeConn)

	r.Apply(nil)
	assert.Equal(t, StateDraining, e.State())
	assert.False(t, conn.closed.Load(), "in-flight operation keeps the connection open")
	assert.Len(t, r.Conns(), 1, "retired connections are still visible to the sweep")

	a.Release(e)
	assert.True(t, conn.closed.Load())

	a.ConnectionLost(e, nil)
	assert.Equal(t, 0, a.Failures(), "closing a drained connection is not a failure")
	r.Publish()
	assert.Empty(t, r.Conns())
}

func TestDrainClosesPinnedOnUnpin(t *testing.T) {
	r := newTestRegistry(t, []config.BackendConfig{backendCfg("a", 1)}, &fakeDialer{}, &fakeClock{now: time.Unix(0, 0)})
	startAll(t, r)
	a, _ := r.Get("a")

	e, err := r.Select(nil)
	require.NoError(t, err)
	require.True(t, a.Pin(e))
	a.Release(e)
	conn := e.Conn().(*fakeConn)

	a.Drain()
	assert.False(t, conn.closed.Load())

	a.Unpin(e)
	assert.True(t, conn.closed.Load())
}
