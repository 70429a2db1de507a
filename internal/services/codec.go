package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/authgrid/authgrid/internal/keys"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// refreshSecretBytes is the entropy of an opaque refresh token before
// base64url encoding.
const refreshSecretBytes = 32

// bcrypt cost for refresh-token hashes. Lower than the password default
// because the input is 256 bits of random data, not a guessable password,
// and rotation hashes on every refresh.
const refreshHashCost = 10

// AccessClaims is the payload of an RS256 access token.
type AccessClaims struct {
	Username string `json:"username,omitempty"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenCodec signs and validates access tokens, and generates the opaque
// secrets behind refresh tokens. The blacklist is optional; when present,
// validation fails closed on lookup errors.
type TokenCodec struct {
	keys      *keys.Provider
	issuer    string
	blacklist *TokenBlacklist
}

func NewTokenCodec(kp *keys.Provider, issuer string, blacklist *TokenBlacklist) *TokenCodec {
	return &TokenCodec{keys: kp, issuer: issuer, blacklist: blacklist}
}

// GenerateAccessToken signs a new access token and returns it with its jti.
func (c *TokenCodec) GenerateAccessToken(userID uint, username, clientID, scope string, ttl time.Duration) (string, string, error) {
	priv, err := c.keys.PrivateKey()
	if err != nil {
		return "", "", err
	}

	now := time.Now()
	jti := uuid.NewString()
	claims := AccessClaims{
		Username: username,
		ClientID: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = c.keys.KeyID()

	signed, err := token.SignedString(priv)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, jti, nil
}

// ValidateAccessToken verifies signature, issuer and expiry, then checks
// the revocation blacklist. A blacklist lookup failure rejects the token.
func (c *TokenCodec) ValidateAccessToken(ctx context.Context, tokenString string) (*AccessClaims, error) {
	pub, err := c.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	}, jwt.WithIssuer(c.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if c.blacklist != nil {
		revoked, err := c.blacklist.Contains(ctx, claims.ID)
		if err != nil {
			return nil, ErrTokenRevoked
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// GenerateRefreshSecret produces the opaque refresh-token secret and the
// bcrypt hash that gets persisted. Only the hash touches the database.
func GenerateRefreshSecret() (secret, hash string, err error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh secret: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), refreshHashCost)
	if err != nil {
		return "", "", fmt.Errorf("hash refresh secret: %w", err)
	}
	return secret, string(hashed), nil
}

// VerifyRefreshSecret compares a presented secret against its stored hash.
func VerifyRefreshSecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
