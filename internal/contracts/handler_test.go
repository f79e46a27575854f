package contracts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterleague/backend/internal/middleware"
	"github.com/rosterleague/backend/internal/models"
)

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("", func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader("X-Participant")); err == nil {
			c.Set(middleware.ContextParticipantID, id)
		}
		c.Next()
	})
	api.POST("/contracts/enroll", h.Enroll)
	api.GET("/contracts/me", h.Me)
	api.GET("/contracts/me/history", h.History)
	api.POST("/offers/request", h.RequestOffers)
	api.POST("/offers/accept", h.Accept)
	api.POST("/offers/decline", h.Decline)
	api.POST("/admin/participants/:id/offers/regenerate", h.Regenerate)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func call(t *testing.T, r http.Handler, method, path string, participant uuid.UUID, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if participant != uuid.Nil {
		req.Header.Set("X-Participant", participant.String())
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestHandler_Flow(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(NewHandler(h.sm, nil))
	id := uuid.New()

	code, env := call(t, r, http.MethodPost, "/contracts/enroll", id, nil)
	require.Equal(t, http.StatusCreated, code)
	var entry models.Contract
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, models.TierConditional, entry.Tier)

	code, env = call(t, r, http.MethodPost, "/contracts/enroll", id, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_enrolled", env.Code)

	code, env = call(t, r, http.MethodPost, "/offers/request", id, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "active_unexpired", env.Code)

	h.clock.Advance(14 * 24 * time.Hour)
	code, env = call(t, r, http.MethodGet, "/contracts/me", id, nil)
	require.Equal(t, http.StatusOK, code)
	var st ParticipantStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, StateExpiring, st.State)

	code, env = call(t, r, http.MethodPost, "/offers/request", id, RequestOffersRequest{})
	require.Equal(t, http.StatusCreated, code)
	var set models.OfferSet
	require.NoError(t, json.Unmarshal(env.Data, &set))
	require.Len(t, set.Offers, 3)

	code, env = call(t, r, http.MethodPost, "/offers/accept", id, AcceptRequest{Organization: "Atlantis"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_offer", env.Code)

	code, _ = call(t, r, http.MethodPost, "/offers/accept", id, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, r, http.MethodPost, "/offers/accept", id, AcceptRequest{Organization: set.Offers[1].Organization})
	require.Equal(t, http.StatusOK, code)
	var signed models.Contract
	require.NoError(t, json.Unmarshal(env.Data, &signed))
	assert.Equal(t, set.Offers[1].Organization, signed.Organization)

	code, env = call(t, r, http.MethodPost, "/offers/decline", id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no_pending_offer", env.Code)

	code, env = call(t, r, http.MethodGet, "/contracts/me/history", id, nil)
	require.Equal(t, http.StatusOK, code)
	var history []models.Contract
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 2)
}

func TestHandler_RegenerateAndDecline(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(NewHandler(h.sm, nil))
	id := uuid.New()
	h.enrolled(t, id)

	code, _ := call(t, r, http.MethodPost, "/admin/participants/not-a-uuid/offers/regenerate", uuid.New(), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := call(t, r, http.MethodPost, "/admin/participants/"+id.String()+"/offers/regenerate", uuid.New(), nil)
	require.Equal(t, http.StatusCreated, code)
	var set models.OfferSet
	require.NoError(t, json.Unmarshal(env.Data, &set))
	assert.True(t, set.EarlyRenewal)

	code, _ = call(t, r, http.MethodPost, "/offers/decline", id, nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHandler_MissingCaller(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(NewHandler(h.sm, nil))

	code, env := call(t, r, http.MethodGet, "/contracts/me", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrAlreadyPending, http.StatusConflict},
		{&ActiveContractError{Organization: "Summit", Remaining: time.Hour}, http.StatusConflict},
		{ErrOfferAlreadyResolved, http.StatusConflict},
		{ErrNoPendingOffer, http.StatusNotFound},
		{ErrUnknownOffer, http.StatusBadRequest},
		{ErrNoOrganizations, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := errorStatus(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
	}
}
