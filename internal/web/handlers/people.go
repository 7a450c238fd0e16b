package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/identify"
	"github.com/kozaktomas/face-gallery/internal/web/middleware"
)

// PeopleHandler handles gallery listing and removal
type PeopleHandler struct {
	service *identify.Service
	stats   *StatsHandler
}

// NewPeopleHandler creates a new people handler. stats may be nil.
func NewPeopleHandler(svc *identify.Service, stats *StatsHandler) *PeopleHandler {
	return &PeopleHandler{service: svc, stats: stats}
}

// DescriptorResponse describes one stored descriptor, vector omitted.
type DescriptorResponse struct {
	DescriptorID string    `json:"descriptor_id"`
	ImageRef     string    `json:"image_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PersonResponse represents an enrolled person
type PersonResponse struct {
	PersonID        string               `json:"person_id"`
	DisplayName     string               `json:"display_name"`
	ImageRef        string               `json:"image_ref,omitempty"`
	DescriptorCount int                  `json:"descriptor_count"`
	CreatedAt       time.Time            `json:"created_at"`
	Descriptors     []DescriptorResponse `json:"descriptors,omitempty"`
}

func personResponse(p database.Person) PersonResponse {
	resp := PersonResponse{
		PersonID:        p.ID,
		DisplayName:     p.DisplayName,
		ImageRef:        p.ImageRef,
		DescriptorCount: p.DescriptorCount,
		CreatedAt:       p.CreatedAt,
	}
	if len(p.Descriptors) > 0 {
		resp.DescriptorCount = len(p.Descriptors)
		for _, d := range p.Descriptors {
			resp.Descriptors = append(resp.Descriptors, DescriptorResponse{
				DescriptorID: d.ID,
				ImageRef:     d.ImageRef,
				CreatedAt:    d.CreatedAt,
			})
		}
	}
	return resp
}

// List returns enrolled people, filtered by ?q= on the display name.
func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	people, err := h.service.ListPeople(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result := make([]PersonResponse, 0, len(people))
	for _, p := range people {
		result = append(result, personResponse(p))
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns one person with descriptor metadata.
func (h *PeopleHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPerson(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, personResponse(*p))
}

// Image streams the stored source image of a person.
func (h *PeopleHandler) Image(w http.ResponseWriter, r *http.Request) {
	data, mime, err := h.service.PersonImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Delete removes a person and every descriptor. Unknown ids succeed.
func (h *PeopleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.RemovePerson(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if h.stats != nil {
		h.stats.InvalidateCache()
	}
	log.Printf("Removed person %s (caller %s)", sanitizeForLog(id), sanitizeForLog(middleware.CallerFromContext(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}
