package models

import "time"

// RefreshToken is the persisted half of an opaque refresh token: a bcrypt
// hash plus lineage metadata. FamilyID is shared by every token descended
// from the same original issuance. A row that has been rotated keeps its
// ReplacedByTokenID pointer and is retained as a tombstone until its
// absolute expiry, so a replayed ancestor is still recognizable as reuse.
type RefreshToken struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"index;not null" json:"user_id"`
	ClientID          string     `gorm:"index;size:64;not null" json:"client_id"`
	TokenHash         string     `gorm:"size:255;not null" json:"-"` // bcrypt
	FamilyID          string     `gorm:"index;size:36;not null" json:"family_id"`
	Scope             string     `gorm:"type:text" json:"scope"`
	ExpiresAt         time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt         *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	ReplacedByTokenID *uint      `gorm:"index" json:"replaced_by_token_id,omitempty"`
	CreatedByIP       string     `gorm:"size:64" json:"created_by_ip,omitempty"`
	UserAgent         string     `gorm:"size:255" json:"user_agent,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsReplaced reports whether a newer token already descends from this row.
// Presenting a replaced token again is the reuse signal.
func (t *RefreshToken) IsReplaced() bool {
	return t.ReplacedByTokenID != nil
}
