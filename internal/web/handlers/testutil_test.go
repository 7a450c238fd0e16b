package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-gallery/internal/database/mock"
	"github.com/kozaktomas/face-gallery/internal/facematch"
	"github.com/kozaktomas/face-gallery/internal/fingerprint"
	"github.com/kozaktomas/face-gallery/internal/identify"
	"github.com/kozaktomas/face-gallery/internal/ops"
	"github.com/kozaktomas/face-gallery/internal/web/middleware"
)

// stubExtractor returns a fixed descriptor per image content
type stubExtractor struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
}

func (s *stubExtractor) Extract(_ context.Context, image []byte) (*fingerprint.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.vectors[string(image)]
	if !ok {
		return nil, fingerprint.ErrNoFaceDetected
	}
	return &fingerprint.Descriptor{Vector: v}, nil
}

type testEnv struct {
	service   *identify.Service
	extractor *stubExtractor
	gallery   *mock.MockGallery
	audit     *mock.MockAuditLog
}

// newTestEnv creates a service over in-memory storage with 2-d descriptors
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		extractor: &stubExtractor{vectors: map[string][]float32{}},
		gallery:   mock.NewMockGallery(),
		audit:     mock.NewMockAuditLog(),
	}
	images, err := fingerprint.NewImageStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create image store: %v", err)
	}
	env.service = identify.New(identify.Options{
		Extractor:               env.extractor,
		Gallery:                 env.gallery,
		Audit:                   env.audit,
		Matcher:                 facematch.NewMatcher(0.6),
		Images:                  images,
		Ops:                     ops.Discard(),
		Dim:                     2,
		MaxDescriptorsPerPerson: 5,
	})
	return env
}

// face registers the descriptor returned for image
func (e *testEnv) face(image string, v ...float32) {
	e.extractor.mu.Lock()
	defer e.extractor.mu.Unlock()
	e.extractor.vectors[image] = v
}

// enroll creates a person directly through the service
func (e *testEnv) enroll(t *testing.T, name, image string, v ...float32) string {
	t.Helper()
	e.face(image, v...)
	res, err := e.service.Enroll(context.Background(), identify.EnrollRequest{Image: []byte(image), DisplayName: name})
	if err != nil {
		t.Fatalf("enroll %s: %v", name, err)
	}
	return res.PersonID
}

// multipartRequest builds a multipart upload with an "image" part and fields
func multipartRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if image != nil {
		part, err := w.CreateFormFile("image", "face.jpg")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(image)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req.WithContext(middleware.SetCallerInContext(req.Context(), "test-caller"))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertErrorKind checks the kind and code of a JSON error response
func assertErrorKind(t *testing.T, recorder *httptest.ResponseRecorder, kind, code string) {
	t.Helper()
	var result ErrorResponse
	parseJSONResponse(t, recorder, &result)
	if result.Kind != kind || result.Code != code {
		t.Errorf("expected error %s/%s, got %s/%s (%q)", kind, code, result.Kind, result.Code, result.Error)
	}
}
