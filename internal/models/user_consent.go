package models

import "time"

// UserConsent records the scope a user approved for a client. The consent
// screen is skipped when a new request's scope set is contained in Scope.
type UserConsent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_user_client;not null" json:"user_id"`
	ClientID  string    `gorm:"uniqueIndex:idx_user_client;size:64;not null" json:"client_id"`
	Scope     string    `gorm:"type:text;not null" json:"scope"` // space-delimited
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserConsent) TableName() string { return "user_consents" }
