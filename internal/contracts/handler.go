package contracts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/middleware"
	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/pkg/response"
)

// RequestOffersRequest is the body for POST /offers/request.
type RequestOffersRequest struct {
	EarlyRenewal bool `json:"early_renewal"`
}

// AcceptRequest is the body for POST /offers/accept.
type AcceptRequest struct {
	Organization string `json:"organization" binding:"required"`
}

// Handler exposes the contract lifecycle over HTTP.
type Handler struct {
	sm     *StateMachine
	logger *zap.Logger
}

// NewHandler creates a contracts handler.
func NewHandler(sm *StateMachine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sm: sm, logger: logger}
}

// Enroll handles POST /contracts/enroll.
func (h *Handler) Enroll(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	contract, err := h.sm.Initiate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, contract)
}

// Me handles GET /contracts/me.
func (h *Handler) Me(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	st, err := h.sm.Status(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, st)
}

// History handles GET /contracts/me/history.
func (h *Handler) History(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.sm.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []models.Contract{}
	}
	response.OK(c, list)
}

// RequestOffers handles POST /offers/request. The body is optional.
func (h *Handler) RequestOffers(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req RequestOffersRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	set, err := h.sm.RequestOffers(c.Request.Context(), id, RequestOptions{EarlyRenewal: req.EarlyRenewal})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, set)
}

// Accept handles POST /offers/accept.
func (h *Handler) Accept(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	contract, err := h.sm.Accept(c.Request.Context(), id, req.Organization)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, contract)
}

// Decline handles POST /offers/decline.
func (h *Handler) Decline(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	if err := h.sm.Decline(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

// Regenerate handles POST /admin/participants/:id/offers/regenerate (admin).
func (h *Handler) Regenerate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return
	}
	set, err := h.sm.ForceRegenerate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, set)
}

func caller(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.ParticipantID(c)
	if !ok {
		response.Unauthorized(c, "missing caller context")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("contract operation failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Error(c, status, code, "internal error")
		return
	}
	response.Error(c, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAlreadyPending):
		return http.StatusConflict, "already_pending"
	case errors.Is(err, ErrAlreadyActiveUnexpired):
		return http.StatusConflict, "active_unexpired"
	case errors.Is(err, ErrAlreadyEnrolled):
		return http.StatusConflict, "already_enrolled"
	case errors.Is(err, ErrOfferAlreadyResolved):
		return http.StatusConflict, "offer_already_resolved"
	case errors.Is(err, ErrNoPendingOffer):
		return http.StatusNotFound, "no_pending_offer"
	case errors.Is(err, ErrUnknownOffer):
		return http.StatusBadRequest, "unknown_offer"
	case errors.Is(err, ErrNoOrganizations):
		return http.StatusServiceUnavailable, "no_organizations"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
