package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/fingerprint"
)

func TestEnroll_CreatesPerson(t *testing.T) {
	env := newTestEnv(t)
	env.face("alice", 0.1, 0.2)
	h := NewIdentifyHandler(env.service, NewStatsHandler(env.service))

	recorder := httptest.NewRecorder()
	h.Enroll(recorder, multipartRequest(t, "/api/v1/enroll", []byte("alice"), map[string]string{"display_name": "Alice"}))

	assertStatusCode(t, recorder, http.StatusCreated)
	var resp EnrollResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.PersonID == "" || resp.DescriptorID == "" || resp.ImageRef == "" {
		t.Errorf("incomplete response %+v", resp)
	}

	p, err := env.gallery.GetPerson(context.Background(), resp.PersonID)
	if err != nil || p == nil || p.DisplayName != "Alice" {
		t.Fatalf("person not stored: %+v, %v", p, err)
	}
}

func TestEnroll_AppendsWithPersonID(t *testing.T) {
	env := newTestEnv(t)
	id := env.enroll(t, "Alice", "alice-1", 0.1, 0.2)
	env.face("alice-2", 0.15, 0.2)
	h := NewIdentifyHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	h.Enroll(recorder, multipartRequest(t, "/api/v1/enroll", []byte("alice-2"), map[string]string{"person_id": id}))

	assertStatusCode(t, recorder, http.StatusOK)
	p, _ := env.gallery.GetPerson(context.Background(), id)
	if p == nil || len(p.Descriptors) != 2 {
		t.Errorf("expected 2 descriptors, got %+v", p)
	}
}

func TestEnroll_NewPersonIDIsCreated(t *testing.T) {
	env := newTestEnv(t)
	env.face("alice", 0.1, 0.2)
	h := NewIdentifyHandler(env.service, nil)
	id := "6f1c2a8e-4b7d-4e0a-9c3f-2d5e8b1a7c40"

	recorder := httptest.NewRecorder()
	h.Enroll(recorder, multipartRequest(t, "/api/v1/enroll", []byte("alice"), map[string]string{"person_id": id, "display_name": "Alice"}))

	assertStatusCode(t, recorder, http.StatusCreated)
	var resp EnrollResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.PersonID != id {
		t.Errorf("expected the supplied person id, got %q", resp.PersonID)
	}
}

func TestEnroll_InputErrors(t *testing.T) {
	env := newTestEnv(t)
	env.face("alice", 0.1, 0.2)
	h := NewIdentifyHandler(env.service, nil)

	tests := []struct {
		name   string
		image  []byte
		fields map[string]string
		code   string
	}{
		{"missing image", nil, map[string]string{"display_name": "Alice"}, "invalid_request"},
		{"missing name", []byte("alice"), nil, "display_name_required"},
		{"bad person id", []byte("alice"), map[string]string{"person_id": "123"}, "invalid_request"},
		{"long name", []byte("alice"), map[string]string{"display_name": strings.Repeat("a", 201)}, "invalid_request"},
		{"no face", []byte("landscape"), map[string]string{"display_name": "Alice"}, "no_face_detected"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.Enroll(recorder, multipartRequest(t, "/api/v1/enroll", tc.image, tc.fields))

			assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
			assertErrorKind(t, recorder, "input", tc.code)
		})
	}

	if stats, _ := env.gallery.Stats(context.Background()); stats.People != 0 {
		t.Errorf("failed enrollments must not write, got %d people", stats.People)
	}
}

func TestIdentify_Matched(t *testing.T) {
	env := newTestEnv(t)
	alice := env.enroll(t, "Alice", "alice", 0, 0)
	env.enroll(t, "Bob", "bob", 0.9, 0)
	env.face("query", 0, 0.3)
	h := NewIdentifyHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	h.Identify(recorder, multipartRequest(t, "/api/v1/identify", []byte("query"), map[string]string{"max_results": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp IdentifyResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Matched || resp.Outcome != "matched" || resp.PersonID != alice || resp.DisplayName != "Alice" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Distance == nil || *resp.Distance < 0.29 || *resp.Distance > 0.31 {
		t.Errorf("expected distance 0.3, got %v", resp.Distance)
	}
	if len(resp.Alternatives) != 1 {
		t.Errorf("expected 1 alternative, got %d", len(resp.Alternatives))
	}
	if resp.Fingerprint != fingerprint.QueryFingerprint([]byte("query")) {
		t.Errorf("unexpected fingerprint %s", resp.Fingerprint)
	}

	recs, _ := env.audit.List(context.Background(), database.AuditFilter{})
	if len(recs) != 1 || recs[0].CallerID != "test-caller" || recs[0].RequestID != resp.RequestID {
		t.Errorf("unexpected audit trail %+v", recs)
	}
}

func TestIdentify_EmptyGalleryOmitsDistance(t *testing.T) {
	env := newTestEnv(t)
	env.face("query", 0, 0)
	h := NewIdentifyHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	h.Identify(recorder, multipartRequest(t, "/api/v1/identify", []byte("query"), nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var raw map[string]any
	parseJSONResponse(t, recorder, &raw)
	if raw["outcome"] != "unmatched" || raw["matched"] != false {
		t.Errorf("unexpected response %v", raw)
	}
	if _, ok := raw["distance"]; ok {
		t.Errorf("distance must be omitted for an empty gallery: %v", raw)
	}
	if _, ok := raw["person_id"]; ok {
		t.Errorf("person_id must be absent: %v", raw)
	}
}

func TestIdentify_ExtractorUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.err = &fingerprint.ExtractionError{Kind: fingerprint.KindExtractorUnavailable}
	h := NewIdentifyHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	h.Identify(recorder, multipartRequest(t, "/api/v1/identify", []byte("query"), nil))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	if recorder.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	var resp ErrorResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Code != "extractor_unavailable" || !resp.Retryable || resp.RequestID == "" {
		t.Errorf("unexpected error %+v", resp)
	}

	recs, _ := env.audit.List(context.Background(), database.AuditFilter{})
	if len(recs) != 1 || recs[0].Outcome != database.OutcomeExtractionFailed {
		t.Errorf("expected an extractionFailed record, got %+v", recs)
	}
}

func TestIdentify_InvalidMaxResults(t *testing.T) {
	env := newTestEnv(t)
	env.face("query", 0, 0)
	h := NewIdentifyHandler(env.service, nil)

	for _, v := range []string{"abc", "-1", "51"} {
		recorder := httptest.NewRecorder()
		h.Identify(recorder, multipartRequest(t, "/api/v1/identify", []byte("query"), map[string]string{"max_results": v}))
		assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
		assertErrorKind(t, recorder, "input", "invalid_request")
	}

	recs, _ := env.audit.List(context.Background(), database.AuditFilter{})
	if len(recs) != 3 {
		t.Fatalf("expected every rejected request audited, got %d records", len(recs))
	}
	for _, rec := range recs {
		if rec.Outcome != database.OutcomeExtractionFailed || rec.Reason != "InvalidRequest" {
			t.Errorf("unexpected record %+v", rec)
		}
		if rec.QueryFingerprint != fingerprint.QueryFingerprint([]byte("query")) {
			t.Errorf("expected the upload fingerprint, got %s", rec.QueryFingerprint)
		}
	}
}

func TestIdentify_MissingImageIsAudited(t *testing.T) {
	env := newTestEnv(t)
	h := NewIdentifyHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	h.Identify(recorder, multipartRequest(t, "/api/v1/identify", nil, nil))

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	var resp ErrorResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Code != "invalid_request" || resp.Error != "image file is required" || resp.RequestID == "" {
		t.Errorf("unexpected error %+v", resp)
	}

	recs, _ := env.audit.List(context.Background(), database.AuditFilter{})
	if len(recs) != 1 {
		t.Fatalf("expected one audit record, got %d", len(recs))
	}
	if recs[0].RequestID != resp.RequestID || recs[0].CallerID != "test-caller" {
		t.Errorf("record does not match the response: %+v", recs[0])
	}
	if recs[0].Outcome != database.OutcomeExtractionFailed || recs[0].Reason != "MalformedImage" {
		t.Errorf("expected a MalformedImage extraction failure, got %+v", recs[0])
	}
}
