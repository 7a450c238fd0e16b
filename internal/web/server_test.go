package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-gallery/internal/config"
	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/database/memory"
	"github.com/kozaktomas/face-gallery/internal/facematch"
	"github.com/kozaktomas/face-gallery/internal/fingerprint"
	"github.com/kozaktomas/face-gallery/internal/identify"
	"github.com/kozaktomas/face-gallery/internal/ops"
	"github.com/kozaktomas/face-gallery/internal/web/middleware"
)

type fixedExtractor map[string][]float32

func (f fixedExtractor) Extract(_ context.Context, image []byte) (*fingerprint.Descriptor, error) {
	v, ok := f[string(image)]
	if !ok {
		return nil, fingerprint.ErrNoFaceDetected
	}
	return &fingerprint.Descriptor{Vector: v}, nil
}

func newTestServer(t *testing.T, secret string) (*Server, *memory.AuditLog) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = secret
	cfg.Web.Port = 0

	audit := memory.NewAuditLog()
	svc := identify.New(identify.Options{
		Extractor:               fixedExtractor{"alice": {0, 0}, "query": {0.1, 0}},
		Gallery:                 memory.NewGallery(),
		Audit:                   audit,
		Matcher:                 facematch.NewMatcher(0.6),
		Ops:                     ops.Discard(),
		Dim:                     2,
		MaxDescriptorsPerPerson: 5,
	})
	return NewServer(cfg, svc), audit
}

func upload(t *testing.T, path, image string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "face.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write([]byte(image))
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", recorder.Code)
	}
	if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	for _, path := range []string{"/api/v1/people", "/api/v1/audit", "/api/v1/stats"} {
		recorder := httptest.NewRecorder()
		s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		if recorder.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, recorder.Code)
		}
	}

	token, err := s.auth.IssueToken("operator", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/people", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestEnrollThenIdentify(t *testing.T) {
	s, audit := newTestServer(t, "")

	req := upload(t, "/api/v1/enroll", "alice", map[string]string{"display_name": "Alice"})
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("enroll: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	req = upload(t, "/api/v1/identify", "query", nil)
	req.Header.Set(middleware.CallerHeader, "door-7")
	recorder = httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("identify: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Outcome     string `json:"outcome"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != "matched" || resp.DisplayName != "Alice" {
		t.Errorf("unexpected decision %+v", resp)
	}

	recs, _ := audit.List(context.Background(), database.AuditFilter{})
	if len(recs) != 1 || recs[0].CallerID != "door-7" {
		t.Errorf("expected one audit record from door-7, got %+v", recs)
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, "")

	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/photos", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", recorder.Code)
	}
}
