package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/storage"
	"github.com/opsforge/remedy/internal/utils"
)

// Engine is the slice of the orchestrator the HTTP layer needs.
type Engine interface {
	HandleFailure(ctx context.Context, fc models.FailureContext) *models.RecoveryReport
	ResolveEvent(ctx context.Context, resolutionKey, notes string) error
	Report(ctx context.Context, eventID string) (*models.RecoveryReport, error)
	Reports(ctx context.Context, since time.Time) ([]models.RecoveryReport, error)
	Preventions(ctx context.Context, componentKind, phase string) ([]models.PreventionStrategy, error)
}

// Handlers binds the engine to HTTP routes.
type Handlers struct {
	engine Engine
}

// NewHandlers constructs the route set.
func NewHandlers(engine Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	v1.POST("/failures", h.reportFailure)
	v1.POST("/resolutions/:key", h.resolve)
	v1.GET("/reports/:id", h.report)
	v1.GET("/reports", h.reports)
	v1.GET("/preventions", h.preventions)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type failureRequest struct {
	Kind          models.FailureKind `json:"kind" binding:"required"`
	ComponentID   string             `json:"componentId" binding:"required"`
	ComponentKind string             `json:"componentKind"`
	Phase         string             `json:"phase"`
	Error         string             `json:"error"`
	Stack         string             `json:"stack"`
	State         map[string]string  `json:"state"`
	Input         string             `json:"input"`
	PartialOutput string             `json:"partialOutput"`
}

// reportFailure is the inbound pipeline contract: a component failed and the
// engine handles it synchronously, returning the recovery report.
func (h *Handlers) reportFailure(c *gin.Context) {
	var req failureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fc := models.FailureContext{
		Kind:          req.Kind,
		ComponentID:   req.ComponentID,
		ComponentKind: req.ComponentKind,
		Phase:         req.Phase,
		Timestamp:     time.Now().UTC(),
		Error:         req.Error,
		Stack:         req.Stack,
		State:         req.State,
		Input:         req.Input,
		PartialOutput: req.PartialOutput,
	}

	report := h.engine.HandleFailure(c.Request.Context(), fc)
	c.JSON(http.StatusOK, report)
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

// resolve is the operator override path for blocked manual-intervention steps.
func (h *Handlers) resolve(c *gin.Context) {
	var req resolveRequest
	// The body is optional; a bare POST resolves with default notes.
	_ = c.ShouldBindJSON(&req)
	if err := h.engine.ResolveEvent(c.Request.Context(), c.Param("key"), req.Notes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"resolved": c.Param("key")})
}

func (h *Handlers) report(c *gin.Context) {
	report, err := h.engine.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) reports(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := utils.ParseRFC3339(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	reports, err := h.engine.Reports(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (h *Handlers) preventions(c *gin.Context) {
	componentKind := c.Query("componentKind")
	phase := c.Query("phase")
	if componentKind == "" && phase == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "componentKind or phase is required"})
		return
	}

	preventions, err := h.engine.Preventions(c.Request.Context(), componentKind, phase)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preventions": preventions})
}
