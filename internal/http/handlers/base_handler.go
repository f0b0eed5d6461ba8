// README: Base handler utilities (JSON helpers, caller checks, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courierdispatch/internal/http/middleware"
	"courierdispatch/internal/modules/courier"
	"courierdispatch/internal/modules/dispatch"
	"courierdispatch/internal/modules/location"
	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/realtime"
	"courierdispatch/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts short ids of letters, digits, '-' and '_'; uuids included.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID reads and validates a path parameter, writing a 400 when it is unusable.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

// actingAs reports whether the caller is courierID itself or an admin, writing a 403 otherwise.
func actingAs(c *gin.Context, courierID types.ID) bool {
	if middleware.IsAdmin(c) || types.ID(middleware.CallerUID(c)) == courierID {
		return true
	}
	writeError(c, http.StatusForbidden, "forbidden: caller is not this courier")
	return false
}

func requireRole(c *gin.Context, roles ...string) bool {
	role := middleware.CallerRole(c)
	if role == middleware.RoleAdmin {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	writeError(c, http.StatusForbidden, "forbidden: role not allowed")
	return false
}

func caller(c *gin.Context) realtime.Identity {
	return realtime.Identity{UserID: types.ID(middleware.CallerUID(c)), Role: middleware.CallerRole(c)}
}

func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidInput),
		errors.Is(err, location.ErrInvalidSample),
		errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, dispatch.ErrNotFound),
		errors.Is(err, courier.ErrNotFound),
		errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrInvalidState),
		errors.Is(err, dispatch.ErrConflict),
		errors.Is(err, dispatch.ErrCapacityExceeded),
		errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
