package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/internal/utils"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash is compared against when the username does not exist, so a
// login probe costs the same whether or not the account is real.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthService authenticates users for the authorization UI and manages
// their login sessions.
type AuthService struct {
	db       *gorm.DB
	sessions SessionStore
	cfg      *config.SessionConfig
}

func NewAuthService(db *gorm.DB, sessions SessionStore, cfg *config.SessionConfig) *AuthService {
	return &AuthService{db: db, sessions: sessions, cfg: cfg}
}

type PasswordLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies a password and opens a session. All failure modes return
// ErrInvalidCredentials so responses do not reveal which part was wrong.
func (s *AuthService) Login(ctx context.Context, req *PasswordLoginRequest, clientIP, userAgent string) (*models.User, string, error) {
	var user models.User
	err := s.db.Where("username = ?", req.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.CheckPassword(req.Password, dummyHash)
		LogSecurity("auth", "login_failed", "login attempt for unknown user", nil, "", clientIP, userAgent,
			map[string]interface{}{"username": req.Username})
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		LogSecurity("auth", "login_failed", "wrong password", &user.ID, "", clientIP, userAgent, nil)
		return nil, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		LogSecurity("auth", "login_failed", "login attempt for disabled user", &user.ID, "", clientIP, userAgent, nil)
		return nil, "", ErrInvalidCredentials
	}

	sessionID, err := s.sessions.Create(ctx, user.ID, s.SessionTTL())
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Model(&user).Update("last_login", now)

	LogInfo("auth", "login_success", "user logged in", &user.ID, "", clientIP, userAgent, nil)
	return &user, sessionID, nil
}

// Logout closes the session. Unknown sessions are not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.sessions.Delete(ctx, sessionID)
}

// ResolveSession maps a session cookie to its active user.
func (s *AuthService) ResolveSession(ctx context.Context, sessionID string) (*models.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	userID, ok, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return &user, nil
}

func (s *AuthService) SessionTTL() time.Duration {
	return time.Duration(s.cfg.TTLHours) * time.Hour
}

func (s *AuthService) CookieName() string {
	return s.cfg.CookieName
}

func (s *AuthService) SecureCookies() bool {
	return s.cfg.Secure
}
