package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/models"
)

// RotateOutcome classifies a refresh attempt. Every non-success outcome
// maps to invalid_grant on the wire; the distinction drives logging and
// family revocation.
type RotateOutcome int

const (
	RotateSuccess RotateOutcome = iota
	RotateInvalid
	RotateExpired
	RotateRevoked
	RotateReuseDetected
)

func (o RotateOutcome) String() string {
	switch o {
	case RotateSuccess:
		return "success"
	case RotateInvalid:
		return "invalid"
	case RotateExpired:
		return "expired"
	case RotateRevoked:
		return "revoked"
	case RotateReuseDetected:
		return "reuse_detected"
	default:
		return "unknown"
	}
}

// TokenPair is what the token endpoint hands back.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// TokenService issues access/refresh token pairs and rotates refresh
// tokens along their family lineage.
type TokenService struct {
	db      *gorm.DB
	codec   *TokenCodec
	runtime *RuntimeConfigService
}

func NewTokenService(db *gorm.DB, codec *TokenCodec, runtime *RuntimeConfigService) *TokenService {
	return &TokenService{db: db, codec: codec, runtime: runtime}
}

// IssueTokenPair mints an access token and starts a new refresh-token
// family.
func (s *TokenService) IssueTokenPair(user *models.User, clientID, scope, clientIP, userAgent string) (*TokenPair, error) {
	accessTTL := s.runtime.AccessTokenTTL()

	accessToken, _, err := s.codec.GenerateAccessToken(user.ID, user.Username, clientID, scope, accessTTL)
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTTL.Seconds()),
		Scope:       scope,
	}

	familyID := uuid.NewString()
	refreshToken, err := s.createRefreshToken(s.db, user.ID, clientID, scope, familyID, clientIP, userAgent)
	if err != nil {
		return nil, err
	}
	pair.RefreshToken = refreshToken

	return pair, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// tombstoned and a successor is created in the same family. Presenting an
// already-replaced token revokes the whole family.
func (s *TokenService) Rotate(refreshToken, clientID, clientIP, userAgent string) (*TokenPair, RotateOutcome, error) {
	tokenID, secret, err := parseRefreshToken(refreshToken)
	if err != nil {
		return nil, RotateInvalid, nil
	}

	var stored models.RefreshToken
	if err := s.db.First(&stored, tokenID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RotateInvalid, nil
		}
		return nil, RotateInvalid, err
	}

	if !VerifyRefreshSecret(secret, stored.TokenHash) {
		return nil, RotateInvalid, nil
	}
	if stored.ClientID != clientID {
		return nil, RotateInvalid, nil
	}

	now := time.Now()

	if stored.IsReplaced() {
		// The token was already rotated. Someone is replaying an ancestor,
		// which means the family is compromised.
		s.revokeFamilyWithEvent(&stored, clientIP, userAgent, "replayed refresh token")
		return nil, RotateReuseDetected, nil
	}
	if stored.IsRevoked() {
		return nil, RotateRevoked, nil
	}
	if stored.IsExpired(now) {
		return nil, RotateExpired, nil
	}

	var user models.User
	if err := s.db.First(&user, stored.UserID).Error; err != nil {
		return nil, RotateInvalid, err
	}
	if !user.IsActive {
		return nil, RotateRevoked, nil
	}

	accessTTL := s.runtime.AccessTokenTTL()
	accessToken, _, err := s.codec.GenerateAccessToken(user.ID, user.Username, stored.ClientID, stored.Scope, accessTTL)
	if err != nil {
		return nil, RotateInvalid, err
	}

	secret2, hash, err := GenerateRefreshSecret()
	if err != nil {
		return nil, RotateInvalid, err
	}

	successor := models.RefreshToken{
		UserID:      stored.UserID,
		ClientID:    stored.ClientID,
		TokenHash:   hash,
		FamilyID:    stored.FamilyID,
		Scope:       stored.Scope,
		ExpiresAt:   now.Add(s.runtime.RefreshTokenTTL()),
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}

	var raced bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&successor).Error; err != nil {
			return err
		}

		// Conditional update so exactly one of two concurrent rotations of
		// the same token wins. The loser sees zero rows affected.
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND replaced_by_token_id IS NULL AND revoked_at IS NULL", stored.ID).
			Updates(map[string]interface{}{
				"revoked_at":           now,
				"replaced_by_token_id": successor.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			raced = true
			return errors.New("refresh token already rotated")
		}
		return nil
	})
	if err != nil {
		if raced {
			s.revokeFamilyWithEvent(&stored, clientIP, userAgent, "concurrent rotation")
			return nil, RotateReuseDetected, nil
		}
		return nil, RotateInvalid, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTTL.Seconds()),
		RefreshToken: formatRefreshToken(successor.ID, secret2),
		Scope:        stored.Scope,
	}, RotateSuccess, nil
}

// Revoke handles RFC 7009 revocation of a refresh token. The whole family
// is revoked so descendants of the presented token die with it. Unknown
// tokens are not an error.
func (s *TokenService) Revoke(refreshToken, clientID, clientIP, userAgent string) error {
	tokenID, secret, err := parseRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	var stored models.RefreshToken
	if err := s.db.First(&stored, tokenID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if !VerifyRefreshSecret(secret, stored.TokenHash) {
		return nil
	}
	if stored.ClientID != clientID {
		return nil
	}

	if err := s.RevokeFamily(stored.FamilyID); err != nil {
		return err
	}

	LogInfo("token", "token_revoked",
		fmt.Sprintf("refresh token family %s revoked by client request", stored.FamilyID),
		&stored.UserID, stored.ClientID, clientIP, userAgent, nil)
	return nil
}

// RevokeFamily revokes every live token in a family.
func (s *TokenService) RevokeFamily(familyID string) error {
	now := time.Now()
	return s.db.Model(&models.RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Update("revoked_at", now).Error
}

// RevokeUserTokens revokes every live refresh token belonging to a user.
func (s *TokenService) RevokeUserTokens(userID uint) (int64, error) {
	res := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now())
	return res.RowsAffected, res.Error
}

// RevokeClientTokens revokes every live refresh token issued to a client.
// Used when a client is deactivated or deleted.
func (s *TokenService) RevokeClientTokens(clientID string) (int64, error) {
	res := s.db.Model(&models.RefreshToken{}).
		Where("client_id = ? AND revoked_at IS NULL", clientID).
		Update("revoked_at", time.Now())
	return res.RowsAffected, res.Error
}

// CleanupExpired deletes refresh tokens past their absolute expiry plus a
// grace window. Tombstones inside the window stay so late replays are
// still recognized as reuse.
func (s *TokenService) CleanupExpired(grace time.Duration) (int64, error) {
	cutoff := time.Now().Add(-grace)
	res := s.db.Where("expires_at < ?", cutoff).Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}

func (s *TokenService) createRefreshToken(db *gorm.DB, userID uint, clientID, scope, familyID, clientIP, userAgent string) (string, error) {
	secret, hash, err := GenerateRefreshSecret()
	if err != nil {
		return "", err
	}

	record := models.RefreshToken{
		UserID:      userID,
		ClientID:    clientID,
		TokenHash:   hash,
		FamilyID:    familyID,
		Scope:       scope,
		ExpiresAt:   time.Now().Add(s.runtime.RefreshTokenTTL()),
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}
	if err := db.Create(&record).Error; err != nil {
		return "", err
	}

	return formatRefreshToken(record.ID, secret), nil
}

func (s *TokenService) revokeFamilyWithEvent(stored *models.RefreshToken, clientIP, userAgent, reason string) {
	if err := s.RevokeFamily(stored.FamilyID); err != nil {
		LogError("token", "family_revoke_failed",
			fmt.Sprintf("failed to revoke family %s: %v", stored.FamilyID, err),
			&stored.UserID, stored.ClientID, clientIP, userAgent, nil)
		return
	}

	LogSecurity("token", "reuse_detected",
		fmt.Sprintf("refresh token reuse detected (%s), family %s revoked", reason, stored.FamilyID),
		&stored.UserID, stored.ClientID, clientIP, userAgent,
		map[string]interface{}{"family_id": stored.FamilyID, "token_id": stored.ID})
}

// The wire form of a refresh token is "<id>.<secret>". The id locates the
// bcrypt hash; the secret proves possession.
func formatRefreshToken(id uint, secret string) string {
	return fmt.Sprintf("%d.%s", id, secret)
}

func parseRefreshToken(token string) (uint, string, error) {
	idPart, secret, ok := strings.Cut(token, ".")
	if !ok || idPart == "" || secret == "" {
		return 0, "", errors.New("malformed refresh token")
	}

	id, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil {
		return 0, "", errors.New("malformed refresh token")
	}
	return uint(id), secret, nil
}
