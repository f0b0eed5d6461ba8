// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"courierdispatch/internal/http/handlers"
	"courierdispatch/internal/http/middleware"
	"courierdispatch/internal/infra"
	"courierdispatch/internal/modules/dispatch"
	"courierdispatch/internal/modules/location"
	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/realtime"
)

type ServerDeps struct {
	Dispatch *dispatch.Service
	Location *location.Service
	Orders   *order.Service
	Couriers handlers.CourierDirectory
	Realtime *realtime.WSHandler
	Verifier infra.TokenVerifier
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Log), middleware.Logging(s.deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	if s.deps.Realtime != nil {
		// the websocket authenticates itself through the auth message or ?token=
		r.GET("/ws", s.deps.Realtime.Serve)
	}

	api := r.Group("/api/v1", middleware.Auth(s.deps.Verifier))

	dispatchHandler := handlers.NewDispatchHandler(s.deps.Dispatch, s.deps.Orders)
	api.POST("/dispatch", dispatchHandler.Create)
	api.GET("/assignments/:id", dispatchHandler.Get)
	api.POST("/assignments/:id/accept", dispatchHandler.Accept)
	api.POST("/assignments/:id/reject", dispatchHandler.Reject)
	api.POST("/assignments/:id/pickup", dispatchHandler.PickUp)
	api.POST("/assignments/:id/complete", dispatchHandler.Complete)
	api.GET("/couriers/:id/assignments", dispatchHandler.ListPending)

	courierHandler := handlers.NewCourierHandler(s.deps.Couriers, s.deps.Location)
	api.PUT("/couriers/:id", courierHandler.Upsert)
	api.GET("/couriers/:id", courierHandler.Get)
	api.PUT("/couriers/:id/status", courierHandler.SetStatus)
	api.PUT("/couriers/:id/location", courierHandler.UpdateLocation)
	api.GET("/couriers/:id/locations", courierHandler.History)

	orderHandler := handlers.NewOrderHandler(s.deps.Orders)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)

	return r
}
