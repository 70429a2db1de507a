package services

import (
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.OAuthClient{},
		&models.AuthorizationCode{},
		&models.RefreshToken{},
		&models.UserConsent{},
		&models.SystemConfig{},
		&models.SystemLog{},
		&models.SchedulerLock{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestTokenService(t *testing.T, db *gorm.DB) *TokenService {
	t.Helper()

	oauthCfg := &config.OAuthConfig{
		Issuer:               testIssuer,
		KeyID:                "test-key",
		AccessTokenTTLSecs:   900,
		RefreshTokenTTLHours: 336,
		AuthCodeTTLSecs:      300,
	}
	codec := NewTokenCodec(newTestKeys(t), testIssuer, nil)
	runtime := NewRuntimeConfigService(db, oauthCfg)
	return NewTokenService(db, codec, runtime)
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username: username,
		Password: "$2a$10$fakefakefakefakefakefakefakefakefakefakefakefakefakef",
		Email:    username + "@example.com",
		Role:     "user",
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestIssueTokenPair(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, err := svc.IssueTokenPair(user, "client-1", "openid offline_access", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("IssueTokenPair() error = %v", err)
	}

	if pair.AccessToken == "" {
		t.Error("access token missing")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != 900 {
		t.Errorf("ExpiresIn = %d, want 900", pair.ExpiresIn)
	}
	if pair.RefreshToken == "" {
		t.Fatal("refresh token missing")
	}

	var count int64
	db.Model(&models.RefreshToken{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 1 {
		t.Errorf("refresh token rows = %d, want 1", count)
	}

	var stored models.RefreshToken
	db.Where("user_id = ?", user.ID).First(&stored)
	if stored.FamilyID == "" {
		t.Error("family id not assigned")
	}
	if stored.Scope != "openid offline_access" {
		t.Errorf("stored scope = %q", stored.Scope)
	}
	if stored.TokenHash == pair.RefreshToken {
		t.Error("refresh token stored in plaintext")
	}
}

func TestIssueTokenPair_RefreshNotGatedOnScope(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "bob")

	// Every grant gets a refresh token, whatever its scope set.
	pair, err := svc.IssueTokenPair(user, "client-1", "openid profile", "", "")
	if err != nil {
		t.Fatalf("IssueTokenPair() error = %v", err)
	}
	if pair.RefreshToken == "" {
		t.Error("refresh token missing for grant without offline_access")
	}
}

func TestRotate_Success(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, err := svc.IssueTokenPair(user, "client-1", "openid offline_access", "", "")
	if err != nil {
		t.Fatalf("IssueTokenPair() error = %v", err)
	}

	rotated, outcome, err := svc.Rotate(pair.RefreshToken, "client-1", "10.0.0.2", "agent")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if outcome != RotateSuccess {
		t.Fatalf("outcome = %v, want RotateSuccess", outcome)
	}
	if rotated.RefreshToken == "" || rotated.RefreshToken == pair.RefreshToken {
		t.Error("rotation must produce a fresh refresh token")
	}
	if rotated.Scope != "openid offline_access" {
		t.Errorf("rotated scope = %q", rotated.Scope)
	}

	// The old row becomes a tombstone pointing at its successor, and both
	// stay in the same family.
	var old, successor models.RefreshToken
	oldID, _, _ := parseRefreshToken(pair.RefreshToken)
	newID, _, _ := parseRefreshToken(rotated.RefreshToken)
	db.First(&old, oldID)
	db.First(&successor, newID)

	if !old.IsRevoked() || !old.IsReplaced() {
		t.Error("presented token should be revoked and replaced")
	}
	if old.ReplacedByTokenID == nil || *old.ReplacedByTokenID != successor.ID {
		t.Error("tombstone does not point at successor")
	}
	if successor.FamilyID != old.FamilyID {
		t.Error("successor left the family")
	}
}

func TestRotate_ChainAcrossGenerations(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")

	current := pair.RefreshToken
	for i := 0; i < 3; i++ {
		rotated, outcome, err := svc.Rotate(current, "client-1", "", "")
		if err != nil || outcome != RotateSuccess {
			t.Fatalf("generation %d: outcome = %v, err = %v", i, outcome, err)
		}
		current = rotated.RefreshToken
	}

	var families []string
	db.Model(&models.RefreshToken{}).Distinct("family_id").Pluck("family_id", &families)
	if len(families) != 1 {
		t.Errorf("family count = %d, want 1", len(families))
	}
}

func TestRotate_ReuseRevokesFamily(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")
	rotated, outcome, err := svc.Rotate(pair.RefreshToken, "client-1", "", "")
	if err != nil || outcome != RotateSuccess {
		t.Fatalf("first rotation failed: %v %v", outcome, err)
	}

	// Replaying the original token is theft evidence.
	_, outcome, err = svc.Rotate(pair.RefreshToken, "client-1", "attacker-ip", "")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if outcome != RotateReuseDetected {
		t.Fatalf("outcome = %v, want RotateReuseDetected", outcome)
	}

	// The successor the legitimate client holds must be dead too.
	_, outcome, err = svc.Rotate(rotated.RefreshToken, "client-1", "", "")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if outcome != RotateRevoked {
		t.Errorf("successor outcome = %v, want RotateRevoked", outcome)
	}

	var live int64
	db.Model(&models.RefreshToken{}).Where("revoked_at IS NULL").Count(&live)
	if live != 0 {
		t.Errorf("live tokens after reuse = %d, want 0", live)
	}
}

func TestRotate_ConcurrentForksOnce(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// A single connection keeps the shared in-memory database visible to
	// both goroutines.
	sqlDB.SetMaxOpenConns(1)

	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")
	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")

	outcomes := make(chan RotateOutcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := svc.Rotate(pair.RefreshToken, "client-1", "", "")
			if err != nil {
				t.Errorf("Rotate() error = %v", err)
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	successes := 0
	for outcome := range outcomes {
		if outcome == RotateSuccess {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("concurrent rotations succeeded %d times, want exactly 1", successes)
	}
}

func TestRotate_InvalidInputs(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")
	id, _, _ := parseRefreshToken(pair.RefreshToken)

	tests := []struct {
		name     string
		token    string
		clientID string
	}{
		{"garbage", "not-a-token", "client-1"},
		{"empty", "", "client-1"},
		{"unknown id", "999999.c2VjcmV0c2VjcmV0", "client-1"},
		{"wrong secret", formatRefreshToken(id, "wrongsecretwrongsecret"), "client-1"},
		{"wrong client", pair.RefreshToken, "client-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, outcome, err := svc.Rotate(tt.token, tt.clientID, "", "")
			if err != nil {
				t.Fatalf("Rotate() error = %v", err)
			}
			if outcome != RotateInvalid {
				t.Errorf("outcome = %v, want RotateInvalid", outcome)
			}
		})
	}

	// None of these probes may tombstone the real token.
	var stored models.RefreshToken
	db.First(&stored, id)
	if stored.IsRevoked() {
		t.Error("valid token was revoked by invalid probes")
	}
}

func TestRotate_Expired(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")
	id, _, _ := parseRefreshToken(pair.RefreshToken)

	db.Model(&models.RefreshToken{}).Where("id = ?", id).
		Update("expires_at", time.Now().Add(-time.Hour))

	_, outcome, err := svc.Rotate(pair.RefreshToken, "client-1", "", "")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if outcome != RotateExpired {
		t.Errorf("outcome = %v, want RotateExpired", outcome)
	}
}

func TestRotate_DisabledUser(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")

	db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false)

	_, outcome, err := svc.Rotate(pair.RefreshToken, "client-1", "", "")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if outcome != RotateRevoked {
		t.Errorf("outcome = %v, want RotateRevoked", outcome)
	}
}

func TestRevoke_KillsFamily(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")

	if err := svc.Revoke(pair.RefreshToken, "client-1", "", ""); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	_, outcome, err := svc.Rotate(pair.RefreshToken, "client-1", "", "")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if outcome != RotateRevoked {
		t.Errorf("outcome after revoke = %v, want RotateRevoked", outcome)
	}
}

func TestRevoke_UnknownTokenIsNoop(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)

	if err := svc.Revoke("12345.bm9zdWNoc2VjcmV0", "client-1", "", ""); err != nil {
		t.Errorf("Revoke() of unknown token should succeed, got %v", err)
	}
	if err := svc.Revoke("garbage", "client-1", "", ""); err != nil {
		t.Errorf("Revoke() of malformed token should succeed, got %v", err)
	}
}

func TestRevoke_WrongClientIsNoop(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	pair, _ := svc.IssueTokenPair(user, "client-1", "offline_access", "", "")

	if err := svc.Revoke(pair.RefreshToken, "client-2", "", ""); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	// Another client cannot revoke a token it does not own.
	_, outcome, _ := svc.Rotate(pair.RefreshToken, "client-1", "", "")
	if outcome != RotateSuccess {
		t.Errorf("outcome = %v, want RotateSuccess", outcome)
	}
}

func TestRevokeUserTokens(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	alicePair, _ := svc.IssueTokenPair(alice, "client-1", "offline_access", "", "")
	bobPair, _ := svc.IssueTokenPair(bob, "client-1", "offline_access", "", "")

	n, err := svc.RevokeUserTokens(alice.ID)
	if err != nil {
		t.Fatalf("RevokeUserTokens() error = %v", err)
	}
	if n != 1 {
		t.Errorf("revoked = %d, want 1", n)
	}

	_, outcome, _ := svc.Rotate(alicePair.RefreshToken, "client-1", "", "")
	if outcome != RotateRevoked {
		t.Errorf("alice outcome = %v, want RotateRevoked", outcome)
	}
	_, outcome, _ = svc.Rotate(bobPair.RefreshToken, "client-1", "", "")
	if outcome != RotateSuccess {
		t.Errorf("bob outcome = %v, want RotateSuccess", outcome)
	}
}

func TestCleanupExpired_RespectsGrace(t *testing.T) {
	db := newTestDB(t)
	svc := newTestTokenService(t, db)
	user := seedUser(t, db, "alice")

	svc.IssueTokenPair(user, "client-1", "offline_access", "", "")
	svc.IssueTokenPair(user, "client-1", "offline_access", "", "")

	var ids []uint
	db.Model(&models.RefreshToken{}).Pluck("id", &ids)
	if len(ids) != 2 {
		t.Fatalf("rows = %d, want 2", len(ids))
	}

	// One token expired two days ago, one expired an hour ago. With a 24h
	// grace window only the first is swept.
	db.Model(&models.RefreshToken{}).Where("id = ?", ids[0]).
		Update("expires_at", time.Now().Add(-48*time.Hour))
	db.Model(&models.RefreshToken{}).Where("id = ?", ids[1]).
		Update("expires_at", time.Now().Add(-time.Hour))

	n, err := svc.CleanupExpired(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	var remaining int64
	db.Model(&models.RefreshToken{}).Count(&remaining)
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
}

func TestParseRefreshToken(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "42.abcdef", false},
		{"no separator", "42abcdef", true},
		{"empty id", ".abcdef", true},
		{"empty secret", "42.", true},
		{"non-numeric id", "abc.def", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseRefreshToken(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseRefreshToken(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
