package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/permit-api/internal/models"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/authority/inbox", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/authority/inbox", http.StatusOK, 40*time.Millisecond)
	m.ObserveDBQuery("inbox_stage", 10*time.Millisecond)
	m.RecordTransition("FORWARD_TO_SP", OutcomeApplied)
	m.RecordTransition("FORWARD_TO_SP", OutcomeApplied)
	m.RecordTransition("APPROVE", OutcomeRejected)
	m.RecordTransition("APPROVE", OutcomeFailed)
	m.RecordInboxFailure(models.StageOCPending)

	snapshot := m.Snapshot()
	require.Equal(t, uint64(2), snapshot.RequestsTotal)
	require.InDelta(t, 30, snapshot.AverageRequestDurationMs, 0.5)
	require.Equal(t, uint64(1), snapshot.DBQueryCount)
	require.Equal(t, map[string]uint64{"FORWARD_TO_SP": 2}, snapshot.Transitions)
	require.Equal(t, uint64(1), snapshot.TransitionsRejected)
	require.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("APPROVE", OutcomeFailed)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.inboxFailures.WithLabelValues(string(models.StageOCPending))))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.RecordTransition("APPROVE", OutcomeApplied)
	m.RecordNotification(NotificationDropped)
	require.Nil(t, m.Registry())
	require.Equal(t, models.SystemMetrics{}, m.Snapshot())

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
