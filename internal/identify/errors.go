package identify

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/fingerprint"
)

// Kind is the category of a failure crossing the service boundary.
type Kind string

const (
	// KindInput covers problems with the request itself. Resubmitting the
	// same input will fail the same way.
	KindInput Kind = "input"
	// KindTransient covers extractor and storage outages; retry later.
	KindTransient Kind = "transient"
	// KindIntegrity is a data consistency violation. It is reported to the
	// operational channel and never returned to callers.
	KindIntegrity Kind = "integrity"
	// KindNotFound means the referenced person or image does not exist.
	KindNotFound Kind = "not_found"
)

// Error codes
const (
	CodeNoFaceDetected         = "no_face_detected"
	CodeMultipleFacesAmbiguous = "multiple_faces_ambiguous"
	CodeMalformedImage         = "malformed_image"
	CodeExtractorUnavailable   = "extractor_unavailable"
	CodeStorageUnavailable     = "storage_unavailable"
	CodeInvalidRequest         = "invalid_request"
	CodeDescriptorLimit        = "descriptor_limit"
	CodeDisplayNameRequired    = "display_name_required"
	CodePersonNotFound         = "person_not_found"
	CodeImageNotFound          = "image_not_found"
)

var codeMessages = map[string]string{
	CodeNoFaceDetected:         "no face detected, retry with a different image",
	CodeMultipleFacesAmbiguous: "several faces detected, retry with an image of a single face",
	CodeMalformedImage:         "image could not be decoded",
	CodeExtractorUnavailable:   "face extractor unavailable, retry later",
	CodeStorageUnavailable:     "storage unavailable, retry later",
	CodeDescriptorLimit:        "person already has the maximum number of descriptors",
	CodeDisplayNameRequired:    "display name is required to enroll a new person",
	CodePersonNotFound:         "person not found",
	CodeImageNotFound:          "image not found",
}

// Error is returned by every Service operation. Error() is safe to show to
// callers; the underlying cause is only available through Unwrap.
type Error struct {
	Kind      Kind
	Code      string
	Retryable bool
	Detail    string // caller-facing detail for invalid requests
	RequestID string // set on identify failures, matches the audit record
	Err       error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if msg, ok := codeMessages[e.Code]; ok {
		return msg
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns the service error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInput, Code: CodeInvalidRequest, Detail: fmt.Sprintf(format, args...)}
}

func storageUnavailable(err error) *Error {
	return &Error{Kind: KindTransient, Code: CodeStorageUnavailable, Retryable: true, Err: err}
}

func notFound(code string) *Error {
	return &Error{Kind: KindNotFound, Code: code}
}

// fromExtraction maps extractor failures; anything unclassified counts as the
// extractor being unavailable.
func fromExtraction(err error) *Error {
	switch fingerprint.KindOf(err) {
	case fingerprint.KindNoFaceDetected:
		return &Error{Kind: KindInput, Code: CodeNoFaceDetected, Err: err}
	case fingerprint.KindMultipleFacesAmbiguous:
		return &Error{Kind: KindInput, Code: CodeMultipleFacesAmbiguous, Err: err}
	case fingerprint.KindMalformedImage:
		return &Error{Kind: KindInput, Code: CodeMalformedImage, Err: err}
	default:
		return &Error{Kind: KindTransient, Code: CodeExtractorUnavailable, Retryable: true, Err: err}
	}
}

// fromAddDescriptor maps gallery write failures.
func fromAddDescriptor(err error) *Error {
	switch {
	case errors.Is(err, database.ErrDescriptorLimit):
		return &Error{Kind: KindInput, Code: CodeDescriptorLimit, Err: err}
	case errors.Is(err, database.ErrDisplayNameRequired):
		return &Error{Kind: KindInput, Code: CodeDisplayNameRequired, Err: err}
	default:
		return storageUnavailable(err)
	}
}

// ReasonInvalidRequest is the audit reason for an identification refused
// because of a request option rather than the image.
const ReasonInvalidRequest = "InvalidRequest"

// extractionReason is the audit reason for a failed extraction.
func extractionReason(err error) string {
	if kind := fingerprint.KindOf(err); kind != "" {
		return string(kind)
	}
	return string(fingerprint.KindExtractorUnavailable)
}
