package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterleague/backend/config"
	"github.com/rosterleague/backend/internal/app"
	"github.com/rosterleague/backend/internal/models"
)

func newTestRuntime(t *testing.T) *app.Runtime {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server:        config.ServerConfig{CORSAllowedOrigins: "*"},
		Store:         config.StoreConfig{Driver: config.DriverMemory},
		JWT:           config.JWTConfig{Secret: "routes-secret", Issuer: "test", ExpireHours: 1},
		Contracts:     config.ContractsConfig{ResponseWindow: 72 * time.Hour, Roster: []string{"Red Valley", "Blue Harbor", "North Star"}},
		Scheduler:     config.SchedulerConfig{ContractInterval: time.Hour, DeadlineInterval: time.Minute, BatchSize: 50},
		Notifications: config.NotificationsConfig{Sink: config.SinkLog},
	}
	rt, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRoutes_ParticipantFlow(t *testing.T) {
	rt := newTestRuntime(t)
	router := newRouter(rt, nil)

	id := uuid.New()
	token, err := rt.JWT.Generate(id, models.RoleParticipant)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, call(t, router, http.MethodGet, "/contracts/me", "", nil).Code)
	assert.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/contracts/enroll", token, nil).Code)
	assert.Equal(t, http.StatusConflict, call(t, router, http.MethodPost, "/contracts/enroll", token, nil).Code)
	assert.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/contracts/me", token, nil).Code)
	assert.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/organizations", token, nil).Code)

	// Participants cannot reach admin routes.
	w := call(t, router, http.MethodPost, "/admin/participants/"+id.String()+"/offers/regenerate", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin, err := rt.JWT.Generate(uuid.New(), models.RoleAdmin)
	require.NoError(t, err)
	w = call(t, router, http.MethodPost, "/admin/participants/"+id.String()+"/offers/regenerate", admin, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, http.StatusOK, call(t, router, http.MethodPost, "/admin/sweeps/run", admin, nil).Code)

	assert.Equal(t, http.StatusNoContent, call(t, router, http.MethodPost, "/offers/decline", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, router, http.MethodPost, "/offers/decline", token, nil).Code)
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	rt := newTestRuntime(t)
	router := newRouter(rt, nil)

	w := call(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"memory"`)

	w = call(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	assert.Equal(t, http.StatusNotFound, call(t, router, http.MethodGet, "/ws", "", nil).Code)
}
