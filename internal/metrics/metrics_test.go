package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, "success", Status(true))
	assert.Equal(t, "failed", Status(false))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestDeploymentTasksTotal_Increments(t *testing.T) {
	c := DeploymentTasksTotal.WithLabelValues("metrics-test", "success", "false")
	before := counterValue(t, c)
	c.Inc()
	assert.Equal(t, before+1, counterValue(t, c))
}

func TestCertificateExpiryDays_Set(t *testing.T) {
	g := CertificateExpiryDays.WithLabelValues("metrics-test")
	g.Set(42)

	var m dto.Metric
	require.NoError(t, g.Write(&m))
	assert.Equal(t, float64(42), m.GetGauge().GetValue())
}
