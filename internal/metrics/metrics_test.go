package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("driftnet", reg)

	c.RecordRun("youtube", true)
	c.RecordRun("youtube", false)
	c.RecordSession(true, 42.0)
	c.RecordProxyProbe(true)
	c.RecordProxyProbe(false)
	c.SetWorkingProxies(7)
	c.SessionStarted()
	c.SessionStarted()
	c.SessionFinished()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["driftnet_runs_total"])
	assert.True(t, names["driftnet_sessions_total"])
	assert.True(t, names["driftnet_working_proxies"])

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("youtube", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("youtube", "failure")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.workingProxies))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeSessions))
}

func TestCollectorsAreIsolatedByRegistry(t *testing.T) {
	// Two collectors must be constructible as long as they use separate
	// registries; a shared default registry would panic on the second.
	a := NewCollector("driftnet", prometheus.NewRegistry())
	b := NewCollector("driftnet", prometheus.NewRegistry())
	a.RecordRun("website", true)
	b.RecordRun("website", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.runsTotal.WithLabelValues("website", "success")))
}
