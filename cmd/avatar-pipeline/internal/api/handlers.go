// Package api exposes pipeline status and run triggering over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/middleware"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator"
	"github.com/houzhh15/avatar-pipeline/pkg/metrics"
)

// Handler serves the status endpoints of a watched pipeline.
type Handler struct {
	ctx    context.Context
	guard  *orchestrator.RunGuard
	logger *slog.Logger
}

// NewHandler creates a Handler. Runs it starts use ctx.
func NewHandler(ctx context.Context, guard *orchestrator.RunGuard, logger *slog.Logger) *Handler {
	return &Handler{ctx: ctx, guard: guard, logger: logger}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	r.GET("/healthz", h.Health)
	r.GET("/status", h.Status)
	r.POST("/runs", h.TriggerRun)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

// Health GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": "ok"}})
}

// Status GET /status
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.guard.Status()})
}

// TriggerRun POST /runs
func (h *Handler) TriggerRun(c *gin.Context) {
	err := h.guard.TryStart(h.ctx, func(res *orchestrator.RunResult, err error) {
		if err != nil {
			h.logger.Error("Triggered run failed", "error", err)
			return
		}
		h.logger.Info("Triggered run complete", "run_id", res.RunID, "output", res.Output)
	})
	if errors.Is(err, orchestrator.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "run started"})
}
