package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/taskrun/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.ErrorLevel, Format: logging.TextFormat, Output: discardWriter{}})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleSnapshotServesSourceJSON(t *testing.T) {
	want := Snapshot{Workers: 4, Pending: 2, Dequeued: 10, ContainerSize: 100, ContainerCap: 128}
	s := NewServer(testLogger(), func() Snapshot { return want })

	req := httptest.NewRequest(http.MethodGet, "/api/pool", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, want, got)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := NewServer(testLogger(), func() Snapshot { return Snapshot{Workers: 1} })
	s.Broadcast()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskrun_pool_workers")
}
