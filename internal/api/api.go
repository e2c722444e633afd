// Package api is the submission facade (C9) and the REST surface
// around it: gin routes translating HTTP requests into router/store
// calls and their results back into the documented status codes.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goranbacvar/Cyviz/internal/apperr"
	"github.com/goranbacvar/Cyviz/internal/broadcast"
	"github.com/goranbacvar/Cyviz/internal/devicehub"
	"github.com/goranbacvar/Cyviz/internal/liveness"
	"github.com/goranbacvar/Cyviz/internal/logging"
	"github.com/goranbacvar/Cyviz/internal/model"
	"github.com/goranbacvar/Cyviz/internal/router"
	"github.com/goranbacvar/Cyviz/internal/store"
)

var validate = validator.New()

// Server bundles the dependencies REST handlers need.
type Server struct {
	store     *store.Store
	router    *router.Router
	devices   *devicehub.Hub
	broadcast *broadcast.Hub
	liveness  *liveness.Monitor
}

// New builds a Server.
func New(st *store.Store, rt *router.Router, devices *devicehub.Hub, bc *broadcast.Hub, lm *liveness.Monitor) *Server {
	return &Server{store: st, router: rt, devices: devices, broadcast: bc, liveness: lm}
}

// Mount registers every route on app, given the shared API key.
func (s *Server) Mount(app *gin.Engine, apiKey string) {
	app.GET("/health", s.health)
	app.GET("/metrics", gin.WrapH(promhttp.Handler()))

	devices := app.Group("/devices", APIKeyAuth(apiKey), RateLimit(50, 100))
	devices.POST("/:id/commands", s.submitCommand)
	devices.GET("/:id/commands/:commandId", s.getCommand)
	devices.POST("/:id/heartbeat", s.heartbeat)
	devices.GET("", s.listDevices)
	devices.GET("/:id", s.getDevice)
	devices.PATCH("/:id", s.updateDevice)

	app.Any("/devices/transport", APIKeyAuth(apiKey), s.deviceTransport)
	app.Any("/operators/stream", APIKeyAuth(apiKey), s.operatorStream)
}

func (s *Server) health(c *gin.Context) {
	c.Status(http.StatusOK)
}

type submitCommandRequest struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=100"`
	Command        string `json:"command" validate:"required,max=200"`
}

func (s *Server) submitCommand(c *gin.Context) {
	deviceID := c.Param("id")
	if len(deviceID) == 0 || len(deviceID) > 200 {
		c.Status(http.StatusBadRequest)
		return
	}

	var req submitCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	result, err := s.router.Enqueue(c.Request.Context(), deviceID, req.IdempotencyKey, req.Command)
	if err != nil {
		logging.Error("submit_command", "fail", err.Error(), map[string]any{"deviceId": deviceID})
		c.Status(http.StatusInternalServerError)
		return
	}
	if result.QueueFull {
		c.Status(http.StatusTooManyRequests)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"commandId": result.CommandID})
}

func (s *Server) getCommand(c *gin.Context) {
	cmd, err := s.store.GetCommand(c.Request.Context(), c.Param("commandId"))
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}
	if cmd.DeviceID != c.Param("id") {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (s *Server) heartbeat(c *gin.Context) {
	deviceID := c.Param("id")
	if err := s.liveness.MarkOnline(c.Request.Context(), deviceID); err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) listDevices(c *gin.Context) {
	after := c.Query("after")
	pageSize := 50
	if v := c.Query("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	items, err := s.store.ListDevices(c.Request.Context(), after, pageSize)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	status := c.Query("status")
	kind := c.Query("kind")
	nameSubstr := c.Query("name")
	// Filters apply after the keyset fetch, so a page can legitimately
	// return fewer than pageSize matches, or none. next is the id of the
	// last device fetched whenever the fetch filled the page; the caller
	// pages again with next until it comes back empty.
	var next string
	if len(items) == pageSize {
		next = items[len(items)-1].ID
	}
	filtered := items[:0]
	for _, d := range items {
		if status != "" && string(d.Status) != status {
			continue
		}
		if kind != "" && string(d.Kind) != kind {
			continue
		}
		if nameSubstr != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(nameSubstr)) {
			continue
		}
		filtered = append(filtered, d)
	}

	c.JSON(http.StatusOK, gin.H{"items": filtered, "next": next})
}

func (s *Server) getDevice(c *gin.Context) {
	deviceID := c.Param("id")
	device, err := s.store.GetDevice(c.Request.Context(), deviceID)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}

	telemetry, err := s.store.ListTelemetry(c.Request.Context(), deviceID, model.TelemetryWindow)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device":          device,
		"recentTelemetry": telemetry,
		"concurrencyTag":  device.ConcurrencyTag,
	})
}

type updateDeviceRequest struct {
	Location        string `json:"location" validate:"max=200"`
	FirmwareTag     string `json:"firmwareTag" validate:"max=100"`
	ConcurrencyTag  string `json:"concurrencyTag" validate:"required"`
}

func (s *Server) updateDevice(c *gin.Context) {
	deviceID := c.Param("id")
	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	newTag := generateTag()
	err := s.store.UpdateDeviceFields(c.Request.Context(), deviceID, req.ConcurrencyTag, req.Location, req.FirmwareTag, newTag)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"concurrencyTag": newTag})
	case apperr.Is(err, apperr.ErrConcurrencyMismatch):
		c.Status(http.StatusConflict)
	case apperr.Is(err, apperr.ErrNotFound):
		c.Status(http.StatusNotFound)
	default:
		c.Status(http.StatusInternalServerError)
	}
}

func (s *Server) deviceTransport(c *gin.Context) {
	deviceID := c.Query("deviceId")
	if deviceID == "" {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	err := s.devices.WS().HandleRequestWithKeys(c.Writer, c.Request, map[string]interface{}{"deviceId": deviceID})
	if err != nil {
		logging.Warn("device_transport_upgrade", "fail", err.Error(), map[string]any{"deviceId": deviceID})
	}
}

func (s *Server) operatorStream(c *gin.Context) {
	if err := s.broadcast.WS().HandleRequest(c.Writer, c.Request); err != nil {
		logging.Warn("operator_stream_upgrade", "fail", err.Error(), nil)
	}
}

func generateTag() string {
	return uuid.NewString()
}
