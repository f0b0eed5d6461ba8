// README: Dispatch handlers; create jobs, answer offers, move deliveries along.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"courierdispatch/internal/http/middleware"
	"courierdispatch/internal/modules/dispatch"
	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/types"
)

// OrderReader resolves the order a dispatch request points at.
type OrderReader interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

type DispatchHandler struct {
	dispatch *dispatch.Service
	orders   OrderReader
}

func NewDispatchHandler(svc *dispatch.Service, orders OrderReader) *DispatchHandler {
	return &DispatchHandler{dispatch: svc, orders: orders}
}

type pointReq struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (p pointReq) point() types.Point {
	return types.Point{Lat: *p.Lat, Lng: *p.Lng}
}

type createDispatchReq struct {
	JobID          string   `json:"job_id" binding:"required"`
	OrderID        string   `json:"order_id"`
	Pickup         pointReq `json:"pickup" binding:"required"`
	Dropoff        pointReq `json:"dropoff" binding:"required"`
	Priority       int      `json:"priority"`
	EstimatedValue int64    `json:"estimated_value"`
	Currency       string   `json:"currency"`
	MaxDistanceKm  float64  `json:"max_distance_km"`
}

type courierReq struct {
	CourierID string `json:"courier_id" binding:"required"`
	Reason    string `json:"reason"`
}

type assignmentResp struct {
	AssignmentID types.ID        `json:"assignment_id"`
	Status       dispatch.Status `json:"status"`
	CourierID    *types.ID       `json:"courier_id"`
}

// Create handles POST /dispatch from vendors or operators.
func (h *DispatchHandler) Create(c *gin.Context) {
	if !requireRole(c, "vendor") {
		return
	}
	var req createDispatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.JobID) || (req.OrderID != "" && !isValidID(req.OrderID)) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "PHP"
	}
	job := dispatch.Job{
		ID:             types.ID(req.JobID),
		OrderID:        types.ID(req.OrderID),
		Pickup:         req.Pickup.point(),
		Dropoff:        req.Dropoff.point(),
		Priority:       req.Priority,
		EstimatedValue: types.Money{Amount: req.EstimatedValue, Currency: currency},
		MaxDistanceKm:  req.MaxDistanceKm,
	}
	if err := h.dispatch.NormalizeJob(&job); err != nil {
		writeDispatchError(c, err)
		return
	}
	o, err := h.orders.Get(c.Request.Context(), job.OrderID)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if !middleware.IsAdmin(c) && o.VendorID != types.ID(middleware.CallerUID(c)) {
		writeError(c, http.StatusForbidden, "forbidden: not the order's vendor")
		return
	}
	a, err := h.dispatch.CreateAssignment(c.Request.Context(), job)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, assignmentResp{AssignmentID: a.ID, Status: a.Status, CourierID: a.CourierID})
}

func (h *DispatchHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.dispatch.GetAssignment(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	allowed, err := h.dispatch.CanObserve(c.Request.Context(), caller(c), a.Job.ID)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if !allowed {
		// same answer as an unknown id
		writeError(c, http.StatusNotFound, dispatch.ErrNotFound.Error())
		return
	}
	writeJSON(c, http.StatusOK, a)
}

func (h *DispatchHandler) Accept(c *gin.Context) {
	id, req, ok := h.bindCourierAction(c)
	if !ok {
		return
	}
	o, err := h.dispatch.AcceptAssignment(c.Request.Context(), id, types.ID(req.CourierID))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"assignment_id": id, "status": dispatch.StatusAccepted, "order": o})
}

func (h *DispatchHandler) Reject(c *gin.Context) {
	id, req, ok := h.bindCourierAction(c)
	if !ok {
		return
	}
	a, err := h.dispatch.HandleRejection(c.Request.Context(), id, types.ID(req.CourierID), req.Reason)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"assignment": a})
}

func (h *DispatchHandler) PickUp(c *gin.Context) {
	id, req, ok := h.bindCourierAction(c)
	if !ok {
		return
	}
	o, err := h.dispatch.MarkPickedUp(c.Request.Context(), id, types.ID(req.CourierID))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o})
}

func (h *DispatchHandler) Complete(c *gin.Context) {
	id, req, ok := h.bindCourierAction(c)
	if !ok {
		return
	}
	o, err := h.dispatch.CompleteDelivery(c.Request.Context(), id, types.ID(req.CourierID))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o})
}

// ListPending handles GET /couriers/:id/assignments.
func (h *DispatchHandler) ListPending(c *gin.Context) {
	courierID, ok := pathID(c, "id")
	if !ok || !actingAs(c, courierID) {
		return
	}
	list, err := h.dispatch.GetPendingAssignments(c.Request.Context(), courierID)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if list == nil {
		list = []*dispatch.Assignment{}
	}
	writeJSON(c, http.StatusOK, gin.H{"assignments": list})
}

func (h *DispatchHandler) bindCourierAction(c *gin.Context) (types.ID, courierReq, bool) {
	var req courierReq
	id, ok := pathID(c, "id")
	if !ok {
		return "", req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.CourierID) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return "", req, false
	}
	if !actingAs(c, types.ID(req.CourierID)) {
		return "", req, false
	}
	return id, req, true
}
