package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRecord(t *testing.T) {
	m := New()

	m.ObserveRecord("found", 20*time.Millisecond)
	m.ObserveRecord("found", 30*time.Millisecond)
	m.ObserveRecord("not_found", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Records.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("not_found")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Records.WithLabelValues("error")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.Records))
}

func TestObserveRun(t *testing.T) {
	m := New()
	end := time.Unix(1700000000, 0)

	m.ObserveRun(1500*time.Millisecond, true, end)
	assert.Equal(t, 1.5, testutil.ToFloat64(m.RunDuration))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastRunTimestamp))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastRunSuccess))

	m.ObserveRun(time.Second, false, end)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastRunSuccess))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRecord("found", time.Millisecond)
	m.ObserveRun(time.Second, true, time.Now())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "unused.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveRecord("error", 5*time.Millisecond)
	m.ObserveRun(time.Second, false, time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "ldap_endpoint_verify.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, `ldap_endpoint_verify_records_total{status="error"} 1`)
	assert.Contains(t, content, `ldap_endpoint_verify_records_total{status="found"} 0`)
	assert.Contains(t, content, "ldap_endpoint_verify_last_run_success 0")
	assert.Contains(t, content, "ldap_endpoint_verify_query_duration_seconds_count 1")

	expected := `
# HELP ldap_endpoint_verify_run_duration_seconds Duration of the last verification run
# TYPE ldap_endpoint_verify_run_duration_seconds gauge
ldap_endpoint_verify_run_duration_seconds 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"ldap_endpoint_verify_run_duration_seconds"))
}
