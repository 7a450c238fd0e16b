package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/identify"
)

// AuditHandler serves the operator view of identification attempts
type AuditHandler struct {
	service *identify.Service
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(svc *identify.Service) *AuditHandler {
	return &AuditHandler{service: svc}
}

type auditQuery struct {
	Outcome  string `validate:"omitempty,oneof=matched unmatched extractionFailed error"`
	CallerID string `validate:"max=256"`
	PersonID string `validate:"max=64"`
	Limit    int    `validate:"gte=0,lte=1000"`
}

// AuditRecordResponse is one audit record
type AuditRecordResponse struct {
	RequestID        string    `json:"request_id"`
	DecidedAt        time.Time `json:"decided_at"`
	CallerID         string    `json:"caller_id"`
	QueryFingerprint string    `json:"query_fingerprint"`
	Outcome          string    `json:"outcome"`
	Reason           string    `json:"reason,omitempty"`
	MatchedPersonID  string    `json:"matched_person_id,omitempty"`
	Distance         *float64  `json:"distance,omitempty"`
}

// List returns audit records newest first.
// Query: outcome, caller, person, since, until (RFC 3339), limit.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := auditQuery{
		Outcome:  q.Get("outcome"),
		CallerID: q.Get("caller"),
		PersonID: q.Get("person"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondInvalid(w, "limit must be an integer")
			return
		}
		query.Limit = n
	}
	if err := validate.Struct(query); err != nil {
		respondInvalid(w, validationMessage(err))
		return
	}

	filter := database.AuditFilter{
		Outcome:  database.Outcome(query.Outcome),
		CallerID: query.CallerID,
		PersonID: query.PersonID,
		Limit:    query.Limit,
	}
	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		respondInvalid(w, "since must be an RFC 3339 timestamp")
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		respondInvalid(w, "until must be an RFC 3339 timestamp")
		return
	}

	records, err := h.service.ListAudit(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result := make([]AuditRecordResponse, 0, len(records))
	for _, rec := range records {
		result = append(result, AuditRecordResponse{
			RequestID:        rec.RequestID,
			DecidedAt:        rec.DecidedAt,
			CallerID:         rec.CallerID,
			QueryFingerprint: rec.QueryFingerprint,
			Outcome:          string(rec.Outcome),
			Reason:           rec.Reason,
			MatchedPersonID:  rec.MatchedPersonID,
			Distance:         finiteOrNil(rec.Distance),
		})
	}
	respondJSON(w, http.StatusOK, result)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
