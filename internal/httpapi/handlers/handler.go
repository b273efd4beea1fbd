package handlers

import (
	"gorm.io/gorm"

	"github.com/velonix/chatlytics/internal/analytics"
	"github.com/velonix/chatlytics/internal/config"
	"github.com/velonix/chatlytics/internal/store/redisstore"
	"github.com/velonix/chatlytics/internal/tenant"
)

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	Redis     *redisstore.Store
	Publisher *analytics.Publisher
	Tracker   *analytics.Tracker
	Analytics *analytics.Repo
	Tenants   *tenant.Repo
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store) *Handler {
	return &Handler{
		DB:        db,
		Cfg:       cfg,
		Redis:     rds,
		Publisher: analytics.NewPublisher(rds, rds, cfg.PublishRetries, cfg.PublishBackoff),
		Tracker:   analytics.NewTracker(rds, cfg.SessionTTL),
		Analytics: analytics.NewRepo(db),
		Tenants:   tenant.NewRepo(db),
	}
}
