package metrics

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveCommitRecordsLatencyAndStatus(t *testing.T) {
	m := New("metrics_test_commit")

	m.ObserveCommit("memkv", 5*time.Millisecond, true)
	m.ObserveCommit("memkv", 9*time.Millisecond, false)

	require.Equal(t, float64(1), counterValue(t, m.CommitTotal.WithLabelValues("memkv", "committed")))
	require.Equal(t, float64(1), counterValue(t, m.CommitTotal.WithLabelValues("memkv", "failed")))
}

func TestSamplerSamplesWithoutError(t *testing.T) {
	m := New("metrics_test_sampler")
	s := NewSampler(m, time.Millisecond, ".")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)
}
