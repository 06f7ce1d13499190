package model

import "time"

// AccountType distinguishes the kind of identity behind an account.
type AccountType string

// Account types.
const (
	AccountPersonal     AccountType = "personal"
	AccountOrganization AccountType = "organization"
	AccountPublication  AccountType = "publication"
)

// SocialAccount is an external publishing destination. Credential fields are
// opaque to the core and never serialized.
type SocialAccount struct {
	ID                string      `json:"id"`
	Platform          Family      `json:"platform"`
	AccountType       AccountType `json:"accountType"`
	ExternalAccountID string      `json:"externalAccountId"`
	DisplayName       string      `json:"displayName"`
	AccessToken       string      `json:"-"`
	RefreshToken      string      `json:"-"`
	TokenExpiresAt    *time.Time  `json:"tokenExpiresAt,omitempty"`
	Active            bool        `json:"active"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// NewSocialAccount creates an active account.
func NewSocialAccount(id string, platform Family, accountType AccountType, externalID, displayName, accessToken string) SocialAccount {
	now := time.Now().UTC()
	return SocialAccount{
		ID:                id,
		Platform:          platform,
		AccountType:       accountType,
		ExternalAccountID: externalID,
		DisplayName:       displayName,
		AccessToken:       accessToken,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// TokenExpired reports whether the stored access token has expired at now.
func (a *SocialAccount) TokenExpired(now time.Time) bool {
	return a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(now)
}

// Accepts reports whether an artifact for platform p may be published to a.
func (a *SocialAccount) Accepts(p Platform) bool {
	return p.Family() != "" && p.Family() == a.Platform
}
