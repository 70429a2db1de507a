package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Scope tiers. Every grantable scope must appear in the client's allowed
// set; the tier adds restrictions on top. Admin scopes are further
// restricted to first-party clients.
const (
	TierPublic    = "public"
	TierSensitive = "sensitive"
	TierAdmin     = "admin"
)

// ScopeInfo describes one registered scope.
type ScopeInfo struct {
	Name        string `json:"name"`
	Tier        string `json:"tier"`
	Description string `json:"description"`
}

var scopeRegistry = map[string]ScopeInfo{
	"openid":          {Name: "openid", Tier: TierPublic, Description: "OpenID Connect authentication"},
	"profile":         {Name: "profile", Tier: TierPublic, Description: "Basic profile information"},
	"email":           {Name: "email", Tier: TierPublic, Description: "Email address"},
	"offline_access":  {Name: "offline_access", Tier: TierPublic, Description: "Long-lived offline access"},
	"read:profile":    {Name: "read:profile", Tier: TierSensitive, Description: "Read full profile"},
	"write:profile":   {Name: "write:profile", Tier: TierSensitive, Description: "Modify profile"},
	"read:clients":    {Name: "read:clients", Tier: TierSensitive, Description: "List registered clients"},
	"admin:clients":   {Name: "admin:clients", Tier: TierAdmin, Description: "Manage OAuth clients"},
	"admin:users":     {Name: "admin:users", Tier: TierAdmin, Description: "Manage user accounts"},
	"admin:system":    {Name: "admin:system", Tier: TierAdmin, Description: "System administration"},
}

// ParseScope splits a space-delimited scope string, dropping empty tokens
// and duplicates. Order of first appearance is preserved.
func ParseScope(scope string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range strings.Fields(scope) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// JoinScope renders a scope list back to its wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// LookupScope returns registry info for a scope name.
func LookupScope(name string) (ScopeInfo, bool) {
	info, ok := scopeRegistry[name]
	return info, ok
}

// AllScopes returns every registered scope sorted by name, for the
// discovery document.
func AllScopes() []ScopeInfo {
	out := make([]ScopeInfo, 0, len(scopeRegistry))
	for _, info := range scopeRegistry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ScopeNames returns the sorted names of all registered scopes.
func ScopeNames() []string {
	infos := AllScopes()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// ValidateScopes checks that every requested scope is registered and
// appears in the client's allowed set, then applies the tier rules on top.
// An empty request is invalid; an empty allowed set grants nothing.
func ValidateScopes(requested []string, allowed string, firstParty bool) error {
	if len(requested) == 0 {
		return errors.New("scope is required")
	}

	allowedSet := make(map[string]bool)
	for _, s := range ParseScope(allowed) {
		allowedSet[s] = true
	}

	for _, s := range requested {
		info, ok := scopeRegistry[s]
		if !ok {
			return fmt.Errorf("unknown scope: %s", s)
		}
		if !allowedSet[s] {
			return fmt.Errorf("scope not allowed for client: %s", s)
		}
		if info.Tier == TierAdmin && !firstParty {
			return fmt.Errorf("admin scope requires first-party client: %s", s)
		}
	}
	return nil
}

// HasAdminScope reports whether the granted scope string carries any
// admin-tier scope.
func HasAdminScope(scope string) bool {
	for _, s := range ParseScope(scope) {
		if info, ok := scopeRegistry[s]; ok && info.Tier == TierAdmin {
			return true
		}
	}
	return false
}

// ScopeContains reports whether granted (space-delimited) includes every
// scope in required.
func ScopeContains(granted string, required ...string) bool {
	have := make(map[string]bool)
	for _, s := range ParseScope(granted) {
		have[s] = true
	}
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}

// ScopeSubset reports whether every scope in sub also appears in super.
// Used to enforce that a token request does not widen the scope granted
// at authorization time.
func ScopeSubset(sub, super []string) bool {
	have := make(map[string]bool)
	for _, s := range super {
		have[s] = true
	}
	for _, s := range sub {
		if !have[s] {
			return false
		}
	}
	return true
}
