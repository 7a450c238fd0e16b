package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-gallery/internal/identify"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     any
		expected string
	}{
		{"nil data", http.StatusOK, nil, ""},
		{"empty map", http.StatusOK, map[string]string{}, "{}\n"},
		{"created", http.StatusCreated, map[string]string{"person_id": "p1"}, "{\"person_id\":\"p1\"}\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.status, tc.data)

			assertStatusCode(t, recorder, tc.status)
			assertContentType(t, recorder, "application/json")
			if recorder.Body.String() != tc.expected {
				t.Errorf("expected body %q, got %q", tc.expected, recorder.Body.String())
			}
		})
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	var result map[string]any
	parseJSONResponse(t, recorder, &result)
	if result["error"] != "something went wrong" {
		t.Errorf("unexpected error %v", result["error"])
	}
	if _, ok := result["kind"]; ok {
		t.Error("plain errors carry no kind")
	}
}

func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		kind       string
		retryAfter string
	}{
		{"input", &identify.Error{Kind: identify.KindInput, Code: identify.CodeNoFaceDetected}, http.StatusUnprocessableEntity, "input", ""},
		{"not found", &identify.Error{Kind: identify.KindNotFound, Code: identify.CodePersonNotFound}, http.StatusNotFound, "not_found", ""},
		{"transient", &identify.Error{Kind: identify.KindTransient, Code: identify.CodeStorageUnavailable, Retryable: true}, http.StatusServiceUnavailable, "transient", "5"},
		{"unknown", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/people", nil)
			respondServiceError(recorder, req, tc.err)

			assertStatusCode(t, recorder, tc.status)
			if got := recorder.Header().Get("Retry-After"); got != tc.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tc.retryAfter)
			}
			var result ErrorResponse
			parseJSONResponse(t, recorder, &result)
			if result.Kind != tc.kind {
				t.Errorf("kind = %q, want %q", result.Kind, tc.kind)
			}
			if strings.Contains(recorder.Body.String(), "pq:") {
				t.Error("collaborator details must not leak")
			}
		})
	}
}

func TestServiceErrorHidesCause(t *testing.T) {
	recorder := httptest.NewRecorder()
	err := &identify.Error{Kind: identify.KindTransient, Code: identify.CodeExtractorUnavailable, Err: errors.New("dial tcp 10.0.0.7:8000: connection refused")}
	respondServiceError(recorder, httptest.NewRequest(http.MethodPost, "/", nil), err)

	if strings.Contains(recorder.Body.String(), "10.0.0.7") {
		t.Errorf("response leaks cause: %s", recorder.Body.String())
	}
}

func TestFiniteOrNil(t *testing.T) {
	if finiteOrNil(math.Inf(1)) != nil {
		t.Error("+Inf must be omitted")
	}
	if d := finiteOrNil(0.25); d == nil || *d != 0.25 {
		t.Errorf("expected 0.25, got %v", d)
	}

	data, err := json.Marshal(IdentifyResponse{Outcome: "unmatched", Distance: finiteOrNil(math.Inf(1))})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "distance") {
		t.Errorf("expected distance omitted, got %s", data)
	}
}

func TestValidationMessage(t *testing.T) {
	err := validate.Struct(enrollForm{PersonID: "not-a-uuid"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if msg := validationMessage(err); !strings.Contains(msg, "PersonID") || !strings.Contains(msg, "uuid") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}
