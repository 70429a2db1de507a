package services

import (
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/models"
)

// RuntimeConfigService reads tunables from the system_configs table so
// operators can adjust token lifetimes without a restart. Static config
// supplies the fallback values.
type RuntimeConfigService struct {
	db  *gorm.DB
	cfg *config.OAuthConfig
}

func NewRuntimeConfigService(db *gorm.DB, cfg *config.OAuthConfig) *RuntimeConfigService {
	return &RuntimeConfigService{db: db, cfg: cfg}
}

func (s *RuntimeConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *RuntimeConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *RuntimeConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("`key` = ?", key).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *RuntimeConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("`group` = ?", group).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *RuntimeConfigService) getInt(key string, fallback int) int {
	value, err := s.Get(key)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// AccessTokenTTL returns the current access token lifetime.
func (s *RuntimeConfigService) AccessTokenTTL() time.Duration {
	secs := s.getInt("access_token_ttl_seconds", s.cfg.AccessTokenTTLSecs)
	return time.Duration(secs) * time.Second
}

// RefreshTokenTTL returns the current refresh token lifetime.
func (s *RuntimeConfigService) RefreshTokenTTL() time.Duration {
	hours := s.getInt("refresh_token_ttl_hours", s.cfg.RefreshTokenTTLHours)
	return time.Duration(hours) * time.Hour
}

// AuthCodeTTL returns the current authorization code lifetime.
func (s *RuntimeConfigService) AuthCodeTTL() time.Duration {
	secs := s.getInt("auth_code_ttl_seconds", s.cfg.AuthCodeTTLSecs)
	return time.Duration(secs) * time.Second
}
