package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/identify"
)

const statsCacheTTL = 30 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	service *identify.Service
	cache   statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(svc *identify.Service) *StatsHandler {
	return &StatsHandler{service: svc}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	People            int     `json:"people"`
	Descriptors       int     `json:"descriptors"`
	DistanceThreshold float64 `json:"distance_threshold"`
	Dim               int     `json:"dim"`
	IndexEnabled      bool    `json:"index_enabled"`
	IndexedEntries    int     `json:"indexed_entries"`
}

// Get returns gallery size and matcher settings
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	s, err := h.service.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	stats := &StatsResponse{
		People:            s.People,
		Descriptors:       s.Descriptors,
		DistanceThreshold: s.Threshold,
		Dim:               s.Dim,
	}
	if idx := database.GetGalleryHNSWRebuilder(); idx != nil && idx.IsHNSWEnabled() {
		stats.IndexEnabled = true
		stats.IndexedEntries = idx.HNSWCount()
	}

	h.cache.set(stats)
	respondJSON(w, http.StatusOK, stats)
}
