package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/velonix/chatlytics/internal/common"
	"github.com/velonix/chatlytics/internal/config"
	"github.com/velonix/chatlytics/internal/httpapi/handlers"
	"github.com/velonix/chatlytics/internal/httpapi/middleware"
	"github.com/velonix/chatlytics/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	// The widget is embedded on customer sites, so every origin may post
	// events and ratings.
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		MaxAge:          12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds)

	r.GET("/ping", h.Ping)

	// dashboard accounts
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// widget-facing (API key scoped)
	keyGroup := r.Group("/")
	keyGroup.Use(middleware.APIKeyRequired(h.Tenants))
	keyGroup.POST("/events", h.PublishEvent)
	keyGroup.POST("/ratings", h.SubmitRating)
	keyGroup.GET("/api/analytics/company", h.CompanyAnalytics)

	r.GET("/api/has_rated", h.HasRated)
	r.GET("/api/sessions/:session_id/active", h.SessionActive)

	// admin (JWT required)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/api/analytics/overview", h.Overview)
	authGroup.POST("/tenants", h.CreateTenant)

	return r
}
