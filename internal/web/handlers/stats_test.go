package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func getStats(t *testing.T, h *StatsHandler) StatsResponse {
	t.Helper()
	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	var result StatsResponse
	parseJSONResponse(t, recorder, &result)
	return result
}

func TestStatsHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "Alice", "alice-1", 0, 0)
	h := NewStatsHandler(env.service)

	stats := getStats(t, h)
	if stats.People != 1 || stats.Descriptors != 1 {
		t.Errorf("unexpected counts %+v", stats)
	}
	if stats.DistanceThreshold != 0.6 || stats.Dim != 2 {
		t.Errorf("unexpected matcher settings %+v", stats)
	}
}

func TestStatsHandler_CacheInvalidatedByEnroll(t *testing.T) {
	env := newTestEnv(t)
	stats := NewStatsHandler(env.service)
	ih := NewIdentifyHandler(env.service, stats)

	if got := getStats(t, stats); got.People != 0 {
		t.Fatalf("expected empty gallery, got %+v", got)
	}

	// writes that bypass the handlers are not seen until the cache expires
	env.enroll(t, "Alice", "alice", 0, 0)
	if got := getStats(t, stats); got.People != 0 {
		t.Errorf("expected cached stats, got %+v", got)
	}

	env.face("bob", 1, 1)
	recorder := httptest.NewRecorder()
	ih.Enroll(recorder, multipartRequest(t, "/api/v1/enroll", []byte("bob"), map[string]string{"display_name": "Bob"}))
	assertStatusCode(t, recorder, http.StatusCreated)

	if got := getStats(t, stats); got.People != 2 {
		t.Errorf("expected fresh stats after enroll, got %+v", got)
	}
}

func TestStatsHandler_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gallery.StatsError = http.ErrHandlerTimeout
	h := NewStatsHandler(env.service)

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}
