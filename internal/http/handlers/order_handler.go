// README: Order handlers for create/get/cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courierdispatch/internal/http/middleware"
	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	OrderID    string   `json:"order_id" binding:"required"`
	CustomerID string   `json:"customer_id" binding:"required"`
	Pickup     pointReq `json:"pickup" binding:"required"`
	Dropoff    pointReq `json:"dropoff" binding:"required"`
}

// Create handles POST /orders; the calling vendor becomes the order's vendor.
func (h *OrderHandler) Create(c *gin.Context) {
	if !requireRole(c, "vendor") {
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.OrderID) || !isValidID(req.CustomerID) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		ID:         types.ID(req.OrderID),
		CustomerID: types.ID(req.CustomerID),
		VendorID:   types.ID(middleware.CallerUID(c)),
		Pickup:     req.Pickup.point(),
		Dropoff:    req.Dropoff.point(),
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if !h.participant(c, o) {
		writeError(c, http.StatusNotFound, order.ErrNotFound.Error())
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// Cancel handles POST /orders/:id/cancel by the customer, vendor or an operator.
func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	uid := types.ID(middleware.CallerUID(c))
	actor := ""
	switch {
	case middleware.IsAdmin(c):
		actor = "admin"
	case uid == o.CustomerID:
		actor = "customer"
	case uid == o.VendorID:
		actor = "vendor"
	default:
		writeError(c, http.StatusForbidden, "forbidden: not a party to this order")
		return
	}
	o, err = h.order.Cancel(c.Request.Context(), id, actor)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) participant(c *gin.Context, o *order.Order) bool {
	if middleware.IsAdmin(c) {
		return true
	}
	uid := types.ID(middleware.CallerUID(c))
	return uid == o.CustomerID || uid == o.VendorID || (o.CourierID != nil && *o.CourierID == uid)
}
