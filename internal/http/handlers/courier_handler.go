// README: Courier handlers; directory registration, availability and location ingestion.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"courierdispatch/internal/modules/courier"
	"courierdispatch/internal/modules/location"
	"courierdispatch/internal/types"
)

// CourierDirectory is the part of the courier store the handlers need.
type CourierDirectory interface {
	Upsert(ctx context.Context, c *courier.Courier) error
	Get(ctx context.Context, id types.ID) (*courier.Courier, error)
}

type CourierHandler struct {
	couriers CourierDirectory
	location *location.Service
}

func NewCourierHandler(couriers CourierDirectory, loc *location.Service) *CourierHandler {
	return &CourierHandler{couriers: couriers, location: loc}
}

type upsertCourierReq struct {
	Online           bool    `json:"online"`
	Verified         bool    `json:"verified"`
	MaxJobs          int     `json:"max_jobs" binding:"min=1,max=20"`
	PerformanceScore float64 `json:"performance_score" binding:"min=0,max=100"`
	Rating           float64 `json:"rating" binding:"min=0,max=5"`
	OnTimeRate       float64 `json:"on_time_rate" binding:"min=0,max=100"`
}

// Upsert handles PUT /couriers/:id; operators maintain the directory.
func (h *CourierHandler) Upsert(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !requireRole(c) {
		return
	}
	var req upsertCourierReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cr := &courier.Courier{
		ID:               id,
		Online:           req.Online,
		Verified:         req.Verified,
		MaxJobs:          req.MaxJobs,
		PerformanceScore: req.PerformanceScore,
		Rating:           req.Rating,
		OnTimeRate:       req.OnTimeRate,
	}
	if existing, err := h.couriers.Get(c.Request.Context(), id); err == nil {
		cr.Location = existing.Location
	}
	if err := h.couriers.Upsert(c.Request.Context(), cr); err != nil {
		writeDispatchError(c, err)
		return
	}
	got, err := h.couriers.Get(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, got)
}

func (h *CourierHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !actingAs(c, id) {
		return
	}
	got, err := h.couriers.Get(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, got)
}

type statusReq struct {
	Online *bool `json:"online" binding:"required"`
}

// SetStatus handles PUT /couriers/:id/status.
func (h *CourierHandler) SetStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !actingAs(c, id) {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.location.SetOnline(c.Request.Context(), id, *req.Online); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"courier_id": id, "online": *req.Online})
}

type locationReq struct {
	Lat        *float64   `json:"lat" binding:"required"`
	Lng        *float64   `json:"lng" binding:"required"`
	AccuracyM  *float64   `json:"accuracy"`
	SpeedMps   *float64   `json:"speed"`
	HeadingDeg *float64   `json:"heading"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// UpdateLocation handles PUT /couriers/:id/location. Only the courier itself may report.
func (h *CourierHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !actingAs(c, id) {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	smp := location.Sample{
		CourierID:  id,
		Point:      types.Point{Lat: *req.Lat, Lng: *req.Lng},
		AccuracyM:  req.AccuracyM,
		SpeedMps:   req.SpeedMps,
		HeadingDeg: req.HeadingDeg,
	}
	if req.RecordedAt != nil {
		smp.RecordedAt = *req.RecordedAt
	}
	res, err := h.location.Ingest(c.Request.Context(), smp)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"status": "accepted", "matched": res.Matched})
}

// History handles GET /couriers/:id/locations?limit=N.
func (h *CourierHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !actingAs(c, id) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	samples, err := h.location.History(c.Request.Context(), id, limit)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if samples == nil {
		samples = []location.Sample{}
	}
	writeJSON(c, http.StatusOK, gin.H{"locations": samples})
}
