package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/facematch"
)

// ErrorKind classifies why no descriptor could be produced.
type ErrorKind string

const (
	KindNoFaceDetected         ErrorKind = "NoFaceDetected"
	KindMultipleFacesAmbiguous ErrorKind = "MultipleFacesAmbiguous"
	KindMalformedImage         ErrorKind = "MalformedImage"
	KindExtractorUnavailable   ErrorKind = "ExtractorUnavailable"
)

// Sentinel errors, matched with errors.Is against any *ExtractionError of the same kind.
var (
	ErrNoFaceDetected         = &ExtractionError{Kind: KindNoFaceDetected}
	ErrMultipleFacesAmbiguous = &ExtractionError{Kind: KindMultipleFacesAmbiguous}
	ErrMalformedImage         = &ExtractionError{Kind: KindMalformedImage}
	ErrExtractorUnavailable   = &ExtractionError{Kind: KindExtractorUnavailable}
)

// ExtractionError is returned by Extract for every failure.
type ExtractionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is matches on kind only.
func (e *ExtractionError) Is(target error) bool {
	t, ok := target.(*ExtractionError)
	return ok && t.Kind == e.Kind
}

// Transient reports whether retrying the same image later may succeed.
func (e *ExtractionError) Transient() bool {
	return e.Kind == KindExtractorUnavailable
}

func extractionError(kind ErrorKind, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Err: err}
}

// KindOf returns the extraction error kind of err, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// Descriptor is the single face descriptor extracted from an image.
type Descriptor struct {
	Vector   []float32 `cbor:"1,keyasint"`
	BBox     []float64 `cbor:"2,keyasint"`
	DetScore float64   `cbor:"3,keyasint"`
	Model    string    `cbor:"4,keyasint"`
}

// Extractor produces exactly one descriptor per image. Implementations are
// pure functions of the image bytes.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*Descriptor, error)
}

// MultiFacePolicy decides what happens when an image holds several faces.
type MultiFacePolicy string

const (
	// PolicyBest keeps the most confident detection, then the largest box.
	PolicyBest MultiFacePolicy = "best"
	// PolicyReject refuses images with more than one face.
	PolicyReject MultiFacePolicy = "reject"
)

// HTTPExtractor extracts descriptors through the embedding server.
type HTTPExtractor struct {
	client  *EmbeddingClient
	dim     int
	timeout time.Duration
	policy  MultiFacePolicy
}

// NewHTTPExtractor creates an extractor expecting dim-length descriptors.
func NewHTTPExtractor(client *EmbeddingClient, dim int, timeout time.Duration, policy MultiFacePolicy) *HTTPExtractor {
	if policy == "" {
		policy = PolicyBest
	}
	return &HTTPExtractor{client: client, dim: dim, timeout: timeout, policy: policy}
}

// Extract validates the image, calls the embedding server within the
// configured timeout and selects a single face.
func (e *HTTPExtractor) Extract(ctx context.Context, imageData []byte) (*Descriptor, error) {
	if _, err := ValidateImage(imageData); err != nil {
		return nil, extractionError(KindMalformedImage, err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, classifyClientError(ctx, err)
	}

	face, err := SelectFace(resp.Faces, e.policy)
	if err != nil {
		return nil, err
	}

	if len(face.Embedding) != e.dim {
		return nil, extractionError(KindExtractorUnavailable,
			fmt.Errorf("descriptor has %d dimensions, expected %d", len(face.Embedding), e.dim))
	}
	if !database.IsFinite(face.Embedding) {
		return nil, extractionError(KindExtractorUnavailable, errors.New("descriptor has non-finite components"))
	}

	return &Descriptor{
		Vector:   face.Embedding,
		BBox:     face.BBox,
		DetScore: face.DetScore,
		Model:    resp.Model,
	}, nil
}

// classifyClientError maps embedding server failures. The server answers 4xx
// for images it cannot read; everything else is the server's problem.
func classifyClientError(ctx context.Context, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity ||
			apiErr.StatusCode == http.StatusUnsupportedMediaType {
			return extractionError(KindMalformedImage, err)
		}
		return extractionError(KindExtractorUnavailable, err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return extractionError(KindExtractorUnavailable, fmt.Errorf("extractor timed out: %w", err))
	}
	return extractionError(KindExtractorUnavailable, err)
}

// SelectFace applies the multi-face policy to the detections of one image.
// Overlapping detections of the same face are merged first.
func SelectFace(faces []FaceDetection, policy MultiFacePolicy) (*FaceDetection, error) {
	faces = mergeDuplicateDetections(faces)

	switch len(faces) {
	case 0:
		return nil, extractionError(KindNoFaceDetected, nil)
	case 1:
		return &faces[0], nil
	}

	if policy == PolicyReject {
		return nil, extractionError(KindMultipleFacesAmbiguous, fmt.Errorf("%d faces detected", len(faces)))
	}

	sort.SliceStable(faces, func(i, j int) bool {
		if faces[i].DetScore != faces[j].DetScore {
			return faces[i].DetScore > faces[j].DetScore
		}
		return facematch.BoxArea(faces[i].BBox) > facematch.BoxArea(faces[j].BBox)
	})

	if faces[0].DetScore == faces[1].DetScore && facematch.BoxArea(faces[0].BBox) == facematch.BoxArea(faces[1].BBox) {
		return nil, extractionError(KindMultipleFacesAmbiguous,
			fmt.Errorf("%d faces detected with no most prominent face", len(faces)))
	}
	return &faces[0], nil
}

// mergeDuplicateDetections drops detections that overlap a more confident one
// by at least facematch.DuplicateDetectionIoU.
func mergeDuplicateDetections(faces []FaceDetection) []FaceDetection {
	if len(faces) < 2 {
		return faces
	}

	sorted := append([]FaceDetection(nil), faces...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DetScore > sorted[j].DetScore })

	kept := make([]FaceDetection, 0, len(sorted))
	for _, f := range sorted {
		duplicate := false
		for _, k := range kept {
			if facematch.ComputeIoU(f.BBox, k.BBox) >= facematch.DuplicateDetectionIoU {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, f)
		}
	}
	return kept
}
