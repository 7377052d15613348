package utils

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrementRequests()
	mc.IncrementErrors()
	mc.RecordToggle("like", "changed")
	mc.IncrementTransactionFailures("SetLike")
	mc.AddOperationLatency("ToggleLike", 3*time.Millisecond)

	// A second collector must not collide with the first.
	_ = NewMetricsCollector()

	srv := httptest.NewServer(mc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "feedline_requests_total 1")
	assert.Contains(t, text, `feedline_toggles_total{kind="like",outcome="changed"} 1`)
	assert.Contains(t, text, `feedline_transaction_failures_total{operation="SetLike"} 1`)
	assert.Contains(t, text, `feedline_operation_duration_seconds_count{operation="ToggleLike"} 1`)
}
