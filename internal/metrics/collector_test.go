package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ConnectionOpened(KindClient)
	c.ConnectionClosed(KindClient)
	c.OperationCompleted("ldap1", "search", "success", time.Millisecond)
	c.OperationRejected("unavailable")
	c.OperationAbandoned()
	c.BackendState("ldap1", true, 0, 0)
	c.BackendRemoved("ldap1")
	c.BindCompleted("vc", "success")
	c.ConfigReloaded(true)
	assert.Nil(t, c.Registry())
}

func TestConnectionGauges(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.ConnectionOpened(KindClient)
	c.ConnectionOpened(KindClient)
	c.ConnectionOpened(KindUpstream)
	c.ConnectionClosed(KindClient)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsActive.WithLabelValues(KindClient)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsTotal.WithLabelValues(KindClient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsActive.WithLabelValues(KindUpstream)))
}

func TestOperationCounters(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.OperationCompleted("ldap1", "search", "success", 20*time.Millisecond)
	c.OperationCompleted("ldap1", "search", "success", 30*time.Millisecond)
	c.OperationRejected("unavailable")
	c.OperationAbandoned()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("ldap1", "search", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected.WithLabelValues("unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.abandoned))
	assert.Equal(t, 1, testutil.CollectAndCount(c.operationDuration))
}

func TestBackendStateAndRemoval(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.BackendState("ldap1", true, 0, 3)
	c.BackendState("ldap2", false, 2, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backendUp.WithLabelValues("ldap1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.backendFailure.WithLabelValues("ldap2")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.backendPending.WithLabelValues("ldap1")))

	c.BackendRemoved("ldap2")
	assert.Equal(t, 1, testutil.CollectAndCount(c.backendUp))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector("lload", nil)
	c.BindCompleted("pinning", "success")
	c.ConfigReloaded(false)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `lload_binds_total{result="success",strategy="pinning"} 1`), out)
	assert.Contains(t, out, `lload_config_reloads_total{result="error"} 1`)
}
