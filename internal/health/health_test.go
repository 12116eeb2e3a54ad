package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Readiness(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewTracker(time.Minute)
	tracker.now = func() time.Time { return now }

	probe := func() int {
		rec := httptest.NewRecorder()
		tracker.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, probe())

	tracker.SetReady(true)
	tracker.Register("eth-mainnet")
	assert.Equal(t, http.StatusServiceUnavailable, probe(), "registered watcher without a head")

	tracker.Update("eth-mainnet", 100)
	assert.Equal(t, http.StatusOK, probe())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, http.StatusServiceUnavailable, probe(), "stale head")

	tracker.Touch("eth-mainnet")
	assert.Equal(t, http.StatusOK, probe())
	assert.Equal(t, uint64(100), tracker.Statuses()[0].LastBlock)
}

func TestTracker_Liveness(t *testing.T) {
	tracker := NewTracker(0)
	rec := httptest.NewRecorder()
	tracker.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
