package models

import (
	"fmt"

	"github.com/authgrid/authgrid/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return DB.AutoMigrate(
		&User{},
		&OAuthClient{},
		&AuthorizationCode{},
		&RefreshToken{},
		&UserConsent{},
		&SystemConfig{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates default runtime configuration if not exists.
func SeedDefaultData() error {
	defaultConfigs := []SystemConfig{
		{Key: "access_token_ttl_seconds", Value: "900", Type: "int", Group: "tokens", Label: "Access Token TTL (seconds)"},
		{Key: "refresh_token_ttl_hours", Value: "336", Type: "int", Group: "tokens", Label: "Refresh Token TTL (hours)"},
		{Key: "auth_code_ttl_seconds", Value: "300", Type: "int", Group: "tokens", Label: "Authorization Code TTL (seconds)"},
		{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "Event Log Retention Days"},
	}

	for _, cfg := range defaultConfigs {
		var count int64
		DB.Model(&SystemConfig{}).Where("`key` = ?", cfg.Key).Count(&count)
		if count == 0 {
			if err := DB.Create(&cfg).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
