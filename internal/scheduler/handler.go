package scheduler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/pkg/response"
)

// Handler exposes a manual sweep for operators.
type Handler struct {
	scheduler *Scheduler
	logger    *zap.Logger
}

// NewHandler creates a scheduler handler.
func NewHandler(s *Scheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{scheduler: s, logger: logger}
}

// RunSweeps handles POST /admin/sweeps/run (admin). It runs both sweeps synchronously.
func (h *Handler) RunSweeps(c *gin.Context) {
	rep, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		response.Internal(c, "sweep failed")
		return
	}
	response.OK(c, rep)
}
