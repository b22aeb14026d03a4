package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAdvance(t *testing.T) {
	m := NewMetrics()
	m.Advance(2*time.Second, 1, 4)
	m.Advance(2*time.Second, 2, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesCaptured))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.exposureTime))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.progress))
}

func TestMetricsObserveSettle(t *testing.T) {
	m := NewMetrics()
	m.ObserveSettle("TargetTemp", 30*time.Second, true)
	m.ObserveSettle("TargetTemp", time.Second, false)
	m.ObserveSettle("Gain", 10*time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.settleTimeouts.WithLabelValues("TargetTemp")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.settleTimeouts.WithLabelValues("Gain")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.settleDuration))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Advance(time.Second, 1, 1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "darkframes_frames_captured_total 1"))
	assert.Contains(t, string(body), "darkframes_session_progress_ratio 1")
}
