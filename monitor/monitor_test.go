package monitor

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mpromonet/flowercam/detector"
)

func TestMonitor(t *testing.T) {
	stats := detector.Stats{Submitted: 10, Dropped: 3, Processed: 6, Empty: 2, Failed: 1, LastInferenceMs: 42}
	m, err := New(func() detector.Stats { return stats }, zaptest.NewLogger(t))
	require.NoError(t, err)

	m.Sample()
	m.Captures.WithLabelValues("ok").Inc()
	m.Requests.WithLabelValues("/api/ping", "200").Inc()

	n, err := testutil.GatherAndCount(m.Registry(), "frames_dropped_total", "captures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Captures.WithLabelValues("ok")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "frames_dropped_total 3")
	assert.Contains(t, string(body), "inference_time_milliseconds 42")
	assert.Contains(t, string(body), "memory_usage_megabytes")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	m.Run(ctx, 10*time.Millisecond)
}
