package auth

import "time"

// User is a principal record in the principal store.
type User struct {
	ID               string
	Email            string
	DisplayName      string
	PasswordHash     string
	Role             string
	LinkedResourceID string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Principal snapshots the user into credential claims.
func (u User) Principal() Principal {
	return Principal{
		ID:               u.ID,
		DisplayName:      u.DisplayName,
		Role:             u.Role,
		LinkedResourceID: u.LinkedResourceID,
	}
}

// TokenPair is returned by credential issuance.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
