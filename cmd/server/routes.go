package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rosterleague/backend/internal/app"
	"github.com/rosterleague/backend/internal/contracts"
	"github.com/rosterleague/backend/internal/middleware"
	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/internal/organizations"
	"github.com/rosterleague/backend/internal/realtime"
	"github.com/rosterleague/backend/internal/scheduler"
	"github.com/rosterleague/backend/pkg/response"
)

// newRouter wires the HTTP surface. hub may be nil when Redis is disabled.
func newRouter(rt *app.Runtime, hub *realtime.Hub) *gin.Engine {
	logger := rt.Logger
	contractHandler := contracts.NewHandler(rt.StateMachine, logger)
	orgHandler := organizations.NewHandler(rt.Roster, logger)
	sweepHandler := scheduler.NewHandler(rt.Scheduler, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(rt.Config.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "store": rt.Config.Store.Driver}
		if rt.Redis != nil {
			status["redis"] = rt.Redis.Healthy(c.Request.Context())
		}
		response.OK(c, status)
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})))

	api := router.Group("")
	api.Use(middleware.JWT(rt.JWT))
	{
		api.POST("/contracts/enroll", contractHandler.Enroll)
		api.GET("/contracts/me", contractHandler.Me)
		api.GET("/contracts/me/history", contractHandler.History)

		api.POST("/offers/request", contractHandler.RequestOffers)
		api.POST("/offers/accept", contractHandler.Accept)
		api.POST("/offers/decline", contractHandler.Decline)

		api.GET("/organizations", orgHandler.List)

		admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
		admin.POST("/participants/:id/offers/regenerate", contractHandler.Regenerate)
		admin.POST("/sweeps/run", sweepHandler.RunSweeps)
	}

	if hub != nil {
		validate := func(token string) (uuid.UUID, error) {
			claims, err := rt.JWT.Validate(token)
			if err != nil {
				return uuid.Nil, err
			}
			return claims.ParticipantID, nil
		}
		// Token in query; browsers cannot set headers on WebSocket upgrades.
		router.GET("/ws", realtime.ServeWs(hub, logger, validate))
	}
	return router
}
