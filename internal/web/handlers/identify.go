package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-gallery/internal/identify"
	"github.com/kozaktomas/face-gallery/internal/web/middleware"
)

// IdentifyHandler handles enrollment and identification uploads
type IdentifyHandler struct {
	service *identify.Service
	stats   *StatsHandler
}

// NewIdentifyHandler creates a new identify handler. stats may be nil.
func NewIdentifyHandler(svc *identify.Service, stats *StatsHandler) *IdentifyHandler {
	return &IdentifyHandler{service: svc, stats: stats}
}

type enrollForm struct {
	DisplayName string `validate:"max=200"`
	PersonID    string `validate:"omitempty,uuid"`
}

// EnrollResponse is returned by POST /enroll
type EnrollResponse struct {
	PersonID     string              `json:"person_id"`
	DescriptorID string              `json:"descriptor_id"`
	ImageRef     string              `json:"image_ref,omitempty"`
	SimilarTo    []CandidateResponse `json:"similar_to"`
}

// Enroll adds one image to a new or existing person.
func (h *IdentifyHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	image, err := readImageUpload(w, r)
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}

	form := enrollForm{
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
		PersonID:    strings.TrimSpace(r.FormValue("person_id")),
	}
	if err := validate.Struct(form); err != nil {
		respondInvalid(w, validationMessage(err))
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	res, err := h.service.Enroll(r.Context(), identify.EnrollRequest{
		Image:       image,
		DisplayName: form.DisplayName,
		PersonID:    form.PersonID,
		CallerID:    caller,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if h.stats != nil {
		h.stats.InvalidateCache()
	}
	log.Printf("Enrolled descriptor %s for person %s (caller %s)", res.DescriptorID, res.PersonID, sanitizeForLog(caller))

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, EnrollResponse{
		PersonID:     res.PersonID,
		DescriptorID: res.DescriptorID,
		ImageRef:     res.ImageRef,
		SimilarTo:    candidatesResponse(res.SimilarTo),
	})
}

type identifyForm struct {
	MaxResults int `validate:"gte=0,lte=50"`
}

// IdentifyResponse is returned by POST /identify. Distance is omitted when
// the gallery held no comparable descriptor.
type IdentifyResponse struct {
	Outcome      string              `json:"outcome"`
	Matched      bool                `json:"matched"`
	PersonID     string              `json:"person_id,omitempty"`
	DisplayName  string              `json:"display_name,omitempty"`
	Distance     *float64            `json:"distance,omitempty"`
	Threshold    float64             `json:"threshold"`
	RequestID    string              `json:"request_id"`
	Fingerprint  string              `json:"fingerprint"`
	Audited      bool                `json:"audited"`
	Alternatives []CandidateResponse `json:"alternatives"`
}

// Identify matches the face in the uploaded image against the gallery.
// Requests refused here are audited like any other attempt.
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	req := identify.IdentifyRequest{CallerID: middleware.CallerFromContext(r.Context())}

	image, err := readImageUpload(w, r)
	if err != nil {
		respondServiceError(w, r, h.service.RejectIdentify(r.Context(), req, err.Error()))
		return
	}
	req.Image = image

	var form identifyForm
	if v := r.FormValue("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondServiceError(w, r, h.service.RejectIdentify(r.Context(), req, "max_results must be an integer"))
			return
		}
		form.MaxResults = n
	}
	if err := validate.Struct(form); err != nil {
		respondServiceError(w, r, h.service.RejectIdentify(r.Context(), req, validationMessage(err)))
		return
	}
	req.MaxResults = form.MaxResults

	d, err := h.service.Identify(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, IdentifyResponse{
		Outcome:      string(d.Outcome),
		Matched:      d.Matched,
		PersonID:     d.PersonID,
		DisplayName:  d.DisplayName,
		Distance:     finiteOrNil(d.Distance),
		Threshold:    d.Threshold,
		RequestID:    d.RequestID,
		Fingerprint:  d.QueryFingerprint,
		Audited:      d.Audited,
		Alternatives: candidatesResponse(d.Alternatives),
	})
}
