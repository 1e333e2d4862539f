package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.GatewayAttempt("AUTHORIZE", "SUCCESS", 20*time.Millisecond)
	m.GatewayAttempt("AUTHORIZE", "SUCCESS", 30*time.Millisecond)
	m.JobRun("detect-late-returns", errors.New("boom"), time.Second)
	m.Discrepancy("AMOUNT_MISMATCH", 2)
	m.Event("rental.confirmed", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gatewayAttempts.WithLabelValues("AUTHORIZE", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("detect-late-returns", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.discrepancies.WithLabelValues("AMOUNT_MISMATCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("rental.confirmed", "dropped")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.GatewayAttempt("CAPTURE", "SUCCESS", time.Millisecond)
		m.JobRun("job", nil, time.Millisecond)
		m.Discrepancy("STATUS_MISMATCH", 1)
		m.LateStatusChange("LATE")
		m.Event("x", true)
	})
}
