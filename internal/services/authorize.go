package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/models"
)

// Pre-trust failures. The redirect URI is not yet validated when these
// occur, so the error must be shown directly and never redirected.
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientInactive      = errors.New("client is inactive")
	ErrRedirectURIMismatch = errors.New("redirect_uri not registered for client")
)

// Code exchange failures. All of them surface as invalid_grant.
var (
	ErrCodeInvalid  = errors.New("authorization code is invalid")
	ErrCodeExpired  = errors.New("authorization code has expired")
	ErrCodeConsumed = errors.New("authorization code already used")
	ErrPKCERequired = errors.New("code_verifier required")
	ErrPKCEMismatch = errors.New("code_verifier does not match challenge")
)

// AuthRequestError is an authorization failure detected after the redirect
// URI has been validated. It is safe to deliver via redirect.
type AuthRequestError struct {
	Code        string
	Description string
}

func (e *AuthRequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// AuthRequest is a validated /authorize request.
type AuthRequest struct {
	Client          *models.OAuthClient
	RedirectURI     string
	Scope           string
	State           string
	CodeChallenge   string
	ChallengeMethod string
	NeedsConsent    bool
}

// AuthorizeService drives the authorization-code flow: request validation,
// consent, code issuance and the code-for-token exchange.
type AuthorizeService struct {
	db      *gorm.DB
	runtime *RuntimeConfigService
}

func NewAuthorizeService(db *gorm.DB, runtime *RuntimeConfigService) *AuthorizeService {
	return &AuthorizeService{db: db, runtime: runtime}
}

// ValidateRequest checks an incoming /authorize request. Client identity
// and redirect URI are checked first; only after both pass may errors be
// delivered by redirect, so callers must distinguish AuthRequestError
// from the pre-trust sentinels.
func (s *AuthorizeService) ValidateRequest(userID uint, clientID, redirectURI, responseType, scope, state, challenge, challengeMethod string) (*AuthRequest, error) {
	client, err := s.loadClient(clientID)
	if err != nil {
		return nil, err
	}

	if !client.HasRedirectURI(redirectURI) {
		return nil, ErrRedirectURIMismatch
	}

	// From here on the redirect URI is trusted.
	if responseType != "code" {
		return nil, &AuthRequestError{Code: "unsupported_response_type", Description: "only response_type=code is supported"}
	}

	requested := ParseScope(scope)
	if len(requested) == 0 {
		return nil, &AuthRequestError{Code: "invalid_scope", Description: "scope is required"}
	}
	if err := ValidateScopes(requested, client.AllowedScope, client.IsFirstParty); err != nil {
		return nil, &AuthRequestError{Code: "invalid_scope", Description: err.Error()}
	}

	// Public clients cannot keep a secret, so PKCE is their only proof of
	// continuity between /authorize and /token.
	if client.IsPublic() && challenge == "" {
		return nil, &AuthRequestError{Code: "invalid_request", Description: "code_challenge required for public clients"}
	}
	if challenge != "" {
		if challengeMethod == "" {
			challengeMethod = "S256"
		}
		if challengeMethod != "S256" {
			return nil, &AuthRequestError{Code: "invalid_request", Description: "only code_challenge_method=S256 is supported"}
		}
		if n := len(challenge); n < 43 || n > 128 {
			return nil, &AuthRequestError{Code: "invalid_request", Description: "code_challenge length must be 43-128 characters"}
		}
	}

	needsConsent := false
	if !client.IsFirstParty {
		granted, err := s.consentedScope(userID, clientID)
		if err != nil {
			return nil, err
		}
		if !ScopeSubset(requested, ParseScope(granted)) {
			needsConsent = true
		}
	}

	return &AuthRequest{
		Client:          client,
		RedirectURI:     redirectURI,
		Scope:           JoinScope(requested),
		State:           state,
		CodeChallenge:   challenge,
		ChallengeMethod: challengeMethod,
		NeedsConsent:    needsConsent,
	}, nil
}

// GrantConsent records that the user approved the requested scope for the
// client. The stored grant is the union with any previous grant.
func (s *AuthorizeService) GrantConsent(userID uint, clientID, scope string) error {
	var consent models.UserConsent
	err := s.db.Where("user_id = ? AND client_id = ?", userID, clientID).First(&consent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		consent = models.UserConsent{
			UserID:   userID,
			ClientID: clientID,
			Scope:    JoinScope(ParseScope(scope)),
		}
		return s.db.Create(&consent).Error
	}
	if err != nil {
		return err
	}

	merged := ParseScope(consent.Scope + " " + scope)
	return s.db.Model(&consent).Update("scope", JoinScope(merged)).Error
}

// RevokeConsent removes a user's grant for a client.
func (s *AuthorizeService) RevokeConsent(userID uint, clientID string) error {
	return s.db.Where("user_id = ? AND client_id = ?", userID, clientID).
		Delete(&models.UserConsent{}).Error
}

func (s *AuthorizeService) consentedScope(userID uint, clientID string) (string, error) {
	var consent models.UserConsent
	err := s.db.Where("user_id = ? AND client_id = ?", userID, clientID).First(&consent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return consent.Scope, nil
}

// IssueCode mints an authorization code for an approved request. Only the
// SHA-256 of the code is stored.
func (s *AuthorizeService) IssueCode(userID uint, req *AuthRequest) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(buf)

	record := models.AuthorizationCode{
		CodeHash:        hashCode(code),
		UserID:          userID,
		ClientID:        req.Client.ID,
		RedirectURI:     req.RedirectURI,
		Scope:           req.Scope,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: req.ChallengeMethod,
		ExpiresAt:       time.Now().Add(s.runtime.AuthCodeTTL()),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return "", err
	}
	return code, nil
}

// ExchangeCode consumes an authorization code. Consumption is a
// conditional update so a code used twice fails the second time even
// under concurrent exchange.
func (s *AuthorizeService) ExchangeCode(code, clientID, redirectURI, verifier string) (*models.AuthorizationCode, error) {
	var stored models.AuthorizationCode
	if err := s.db.Where("code_hash = ?", hashCode(code)).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, err
	}

	if stored.ClientID != clientID {
		return nil, ErrCodeInvalid
	}
	if stored.RedirectURI != redirectURI {
		return nil, ErrCodeInvalid
	}
	if stored.IsConsumed() {
		return nil, ErrCodeConsumed
	}
	if stored.IsExpired(time.Now()) {
		return nil, ErrCodeExpired
	}

	if stored.CodeChallenge != "" {
		if verifier == "" {
			return nil, ErrPKCERequired
		}
		if oauth2.S256ChallengeFromVerifier(verifier) != stored.CodeChallenge {
			return nil, ErrPKCEMismatch
		}
	}

	now := time.Now()
	res := s.db.Model(&models.AuthorizationCode{}).
		Where("id = ? AND consumed_at IS NULL", stored.ID).
		Update("consumed_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrCodeConsumed
	}

	stored.ConsumedAt = &now
	return &stored, nil
}

// CleanupExpired deletes authorization codes past expiry plus a grace
// window.
func (s *AuthorizeService) CleanupExpired(grace time.Duration) (int64, error) {
	cutoff := time.Now().Add(-grace)
	res := s.db.Where("expires_at < ?", cutoff).Delete(&models.AuthorizationCode{})
	return res.RowsAffected, res.Error
}

func (s *AuthorizeService) loadClient(clientID string) (*models.OAuthClient, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}

	var client models.OAuthClient
	if err := s.db.Where("id = ?", clientID).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	if !client.IsActive {
		return nil, ErrClientInactive
	}
	return &client, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
