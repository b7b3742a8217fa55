package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	require.NotNil(t, c)
	assert.NotNil(t, c.cyclesTotal)
	assert.NotNil(t, c.transactionsTotal)
	assert.NotNil(t, c.providerCalls)
	assert.NotNil(t, c.commandsTotal)
	assert.NotNil(t, c.workersActive)
	assert.NotNil(t, c.cycleDuration)
}

func TestRecordCycleAndTransaction(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCycle(0.5)
	c.RecordCycle(1.2)
	c.RecordTransaction("SUKSES")
	c.RecordTransaction("SUKSES")
	c.RecordTransaction("GAGAL")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cyclesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transactionsTotal.WithLabelValues("SUKSES")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactionsTotal.WithLabelValues("GAGAL")))
}

func TestWorkerGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.WorkerStarted()
	c.WorkerStarted()
	c.WorkerExited()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.workersActive))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordCycle(1)
		c.RecordTransaction("SUKSES")
		c.RecordProviderCall("status_idv", "ok")
		c.RecordCommand("stop")
		c.WorkerStarted()
		c.WorkerExited()
	})
}
