package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kozaktomas/face-gallery/internal/constants"
	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/identify"
)

// errInvalidMultipart is a shared error message for unreadable upload forms.
const errInvalidMultipart = "invalid multipart form"

var validate = validator.New()

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondInvalid sends a 422 for a request that failed validation.
func respondInvalid(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error: message,
		Kind:  string(identify.KindInput),
		Code:  identify.CodeInvalidRequest,
	})
}

// respondServiceError maps a service error to its HTTP status. Causes are
// logged, never returned.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr, ok := identify.AsError(err)
	if !ok {
		log.Printf("Unexpected error on %s %s: %v", r.Method, sanitizeForLog(r.URL.Path), err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch svcErr.Kind {
	case identify.KindInput:
		status = http.StatusUnprocessableEntity
	case identify.KindNotFound:
		status = http.StatusNotFound
	case identify.KindTransient:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", strconv.Itoa(constants.RetryAfterSeconds))
	}

	respondJSON(w, status, ErrorResponse{
		Error:     svcErr.Error(),
		Kind:      string(svcErr.Kind),
		Code:      svcErr.Code,
		Retryable: svcErr.Retryable,
		RequestID: svcErr.RequestID,
	})
}

// readImageUpload parses the multipart form and returns the "image" part.
func readImageUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("upload exceeds %d bytes", constants.MaxUploadSize)
		}
		return nil, errors.New(errInvalidMultipart)
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, errors.New("image file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("image file is empty")
	}
	return data, nil
}

// validationMessage turns validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// CandidateResponse is a ranked person with distance.
type CandidateResponse struct {
	PersonID string  `json:"person_id"`
	Distance float64 `json:"distance"`
}

func candidatesResponse(people []database.NearestPerson) []CandidateResponse {
	out := make([]CandidateResponse, 0, len(people))
	for _, p := range people {
		out = append(out, CandidateResponse{PersonID: p.PersonID, Distance: p.Distance})
	}
	return out
}

// finiteOrNil drops +Inf distances, which JSON cannot carry.
func finiteOrNil(d float64) *float64 {
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return nil
	}
	return &d
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
