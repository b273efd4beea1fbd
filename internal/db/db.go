package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/velonix/chatlytics/internal/analytics"
	"github.com/velonix/chatlytics/internal/models"
	"github.com/velonix/chatlytics/internal/tenant"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return gdb
}

// Migrate keeps the schema current. Safe to run on every start.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&tenant.Tenant{},
		&analytics.EventDocument{},
		&analytics.DailyAnalytics{},
		&analytics.TotalAnalytics{},
	)
}
