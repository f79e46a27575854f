package organizations

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/pkg/response"
)

// Lister is implemented by Repository and Static.
type Lister interface {
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
}

// Handler handles organization HTTP endpoints.
type Handler struct {
	roster Lister
	logger *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(roster Lister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{roster: roster, logger: logger}
}

// List handles GET /organizations.
func (h *Handler) List(c *gin.Context) {
	orgs, err := h.roster.ListOrganizations(c.Request.Context())
	if err != nil {
		h.logger.Error("list organizations", zap.Error(err))
		response.Internal(c, "failed to load organizations")
		return
	}
	if orgs == nil {
		orgs = []models.Organization{}
	}
	response.OK(c, orgs)
}
