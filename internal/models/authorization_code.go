package models

import "time"

// AuthorizationCode is a one-time code binding a user, client, redirect URI
// and scope. Only the sha256 of the code is stored; consumption is a
// conditional update on ConsumedAt so concurrent redemptions cannot both
// succeed.
type AuthorizationCode struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CodeHash        string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	ClientID        string     `gorm:"index;size:64;not null" json:"client_id"`
	RedirectURI     string     `gorm:"size:2000;not null" json:"redirect_uri"`
	Scope           string     `gorm:"type:text" json:"scope"`
	CodeChallenge   string     `gorm:"size:128" json:"-"` // PKCE, empty for confidential clients
	ChallengeMethod string     `gorm:"size:10" json:"-"`  // only S256
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`
	ConsumedAt      *time.Time `gorm:"index" json:"consumed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (AuthorizationCode) TableName() string { return "authorization_codes" }

func (a *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

func (a *AuthorizationCode) IsConsumed() bool {
	return a.ConsumedAt != nil
}
