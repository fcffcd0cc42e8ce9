package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("audit:access-denied").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("audit:access-denied").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("audit:access-denied", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("audit:access-denied")))
}

func TestAddDenial(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddDenial("viewer", "members:read")
	m.AddDenial("", "members:read")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.denials.WithLabelValues("viewer", "members:read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.denials.WithLabelValues("unknown", "members:read")))

	var nilMetrics *Metrics
	nilMetrics.AddDenial("viewer", "members:read")
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
