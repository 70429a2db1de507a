package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/internal/utils"
)

func newTestAuthService(t *testing.T, db *gorm.DB) *AuthService {
	t.Helper()
	return NewAuthService(db, NewMemorySessionStore(), &config.SessionConfig{
		CookieName: "authgrid_session",
		TTLHours:   12,
	})
}

func seedUserWithPassword(t *testing.T, db *gorm.DB, username, password string) *models.User {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		Username: username,
		Password: hash,
		Email:    username + "@example.com",
		Role:     "user",
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestAuthService_Login(t *testing.T) {
	db := newTestDB(t)
	svc := newTestAuthService(t, db)
	seedUserWithPassword(t, db, "alice", "correct horse battery")
	ctx := context.Background()

	user, sessionID, err := svc.Login(ctx, &PasswordLoginRequest{
		Username: "alice",
		Password: "correct horse battery",
	}, "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sessionID == "" {
		t.Error("session id missing")
	}
	if user.LastLogin == nil {
		t.Error("last login not recorded")
	}

	resolved, err := svc.ResolveSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ResolveSession() error = %v", err)
	}
	if resolved == nil || resolved.Username != "alice" {
		t.Errorf("resolved = %+v, want alice", resolved)
	}
}

func TestAuthService_LoginFailures(t *testing.T) {
	db := newTestDB(t)
	svc := newTestAuthService(t, db)
	alice := seedUserWithPassword(t, db, "alice", "password1")
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		setup    func()
	}{
		{"unknown user", "nobody", "password1", nil},
		{"wrong password", "alice", "password2", nil},
		{"disabled user", "alice", "password1", func() {
			db.Model(&models.User{}).Where("id = ?", alice.ID).Update("is_active", false)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, _, err := svc.Login(ctx, &PasswordLoginRequest{
				Username: tt.username,
				Password: tt.password,
			}, "", "")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestAuthService_Logout(t *testing.T) {
	db := newTestDB(t)
	svc := newTestAuthService(t, db)
	seedUserWithPassword(t, db, "alice", "password1")
	ctx := context.Background()

	_, sessionID, err := svc.Login(ctx, &PasswordLoginRequest{Username: "alice", Password: "password1"}, "", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := svc.Logout(ctx, sessionID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	resolved, err := svc.ResolveSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ResolveSession() error = %v", err)
	}
	if resolved != nil {
		t.Error("session should be gone after logout")
	}

	if err := svc.Logout(ctx, "no-such-session"); err != nil {
		t.Errorf("Logout() of unknown session error = %v", err)
	}
}

func TestMemorySessionStore_Expiry(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	sessionID, err := store.Create(ctx, 1, -time.Second)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, ok, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("expired session should not resolve")
	}
}

func TestRedisSessionStore(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisSessionStore(client)
	ctx := context.Background()

	sessionID, err := store.Create(ctx, 42, time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	userID, ok, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || userID != 42 {
		t.Errorf("Get() = (%d, %v), want (42, true)", userID, ok)
	}

	mr.FastForward(2 * time.Hour)
	_, ok, err = store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("session should expire")
	}

	if err := store.Delete(ctx, sessionID); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}
