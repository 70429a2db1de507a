package models

import (
	"strings"
	"time"
)

// OAuthClient is a registered relying party. Public clients (including all
// first-party apps) have an empty SecretHash and must use PKCE.
type OAuthClient struct {
	ID           string    `gorm:"primaryKey;size:64" json:"client_id"`
	SecretHash   string    `gorm:"size:255" json:"-"` // bcrypt, empty for public clients
	Name         string    `gorm:"size:200;not null" json:"name"`
	RedirectURIs string    `gorm:"column:redirect_uris;type:text;not null" json:"redirect_uris"` // newline-separated
	AllowedScope string    `gorm:"type:text" json:"allowed_scope"`          // space-delimited
	// No column default on is_active: GORM would silently replace a
	// zero-valued false with the default on insert.
	IsFirstParty bool      `gorm:"default:false" json:"is_first_party"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (OAuthClient) TableName() string { return "oauth_clients" }

// IsPublic reports whether the client has no confidential secret.
func (c *OAuthClient) IsPublic() bool {
	return c.SecretHash == ""
}

// RedirectURIList splits the stored redirect URIs.
func (c *OAuthClient) RedirectURIList() []string {
	var uris []string
	for _, u := range strings.Split(c.RedirectURIs, "\n") {
		u = strings.TrimSpace(u)
		if u != "" {
			uris = append(uris, u)
		}
	}
	return uris
}

// HasRedirectURI checks for an exact match against the registered list.
// Prefix or wildcard matching is deliberately not supported.
func (c *OAuthClient) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIList() {
		if u == uri {
			return true
		}
	}
	return false
}
