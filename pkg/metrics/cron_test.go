package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	before := time.Now().Unix()
	m.ObserveRun("pledge-repair", 250*time.Millisecond, nil)
	m.ObserveRun("outbox-retention", time.Second, errors.New("db down"))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	repair, err := series(mfs, "donorledger_cron_job_runs_total", "job", "pledge-repair")
	require.NoError(t, err)
	assert.Equal(t, float64(1), repair.GetCounter().GetValue())

	failed, err := series(mfs, "donorledger_cron_job_runs_total", "outcome", "failure")
	require.NoError(t, err)
	assert.Equal(t, float64(1), failed.GetCounter().GetValue())

	sum, err := fetchHistogramSum(mfs, "donorledger_cron_job_duration_seconds", "job", "pledge-repair")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, sum, 1e-9)

	last, err := series(mfs, "donorledger_cron_job_last_success_timestamp_seconds", "job", "pledge-repair")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(last.GetGauge().GetValue()), before)

	_, err = series(mfs, "donorledger_cron_job_last_success_timestamp_seconds", "job", "outbox-retention")
	assert.Error(t, err, "a failed run must not move the last-success gauge")
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("x", time.Second, nil)
	NewCronJobMetrics(nil).ObserveRun("", time.Second, errors.New("ignored"))
}
