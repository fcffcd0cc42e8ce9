package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrNoToken indicates the request carried no credential.
	ErrNoToken = errors.New("auth: no token")
	// ErrTokenExpired indicates a well-formed credential past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrInvalidToken indicates a bad signature, format or claim set.
	ErrInvalidToken = errors.New("auth: invalid token")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the signed credential body.
type Claims struct {
	jwt.RegisteredClaims
	Name             string `json:"name"`
	Role             string `json:"role"`
	LinkedResourceID string `json:"linked_resource_id,omitempty"`
	Type             string `json:"typ"`
}

// TokenConfig configures credential signing.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// TokenManager issues and verifies HS256 credentials.
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: token secret required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenManager{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

// IssueAccess signs a short-lived access credential for the principal.
func (m *TokenManager) IssueAccess(p Principal) (string, time.Time, error) {
	return m.issue(p, tokenTypeAccess, m.accessTTL)
}

// IssueRefresh signs a refresh credential for the principal.
func (m *TokenManager) IssueRefresh(p Principal) (string, time.Time, error) {
	return m.issue(p, tokenTypeRefresh, m.refreshTTL)
}

func (m *TokenManager) issue(p Principal, typ string, ttl time.Duration) (string, time.Time, error) {
	if p.ID == "" || p.Role == "" {
		return "", time.Time{}, errors.New("auth: principal id and role required")
	}
	now := m.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:             p.DisplayName,
		Role:             p.Role,
		LinkedResourceID: p.LinkedResourceID,
		Type:             typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates an access credential and returns its principal.
func (m *TokenManager) Verify(token string) (Principal, error) {
	return m.verify(token, tokenTypeAccess)
}

// VerifyRefresh validates a refresh credential and returns its principal.
func (m *TokenManager) VerifyRefresh(token string) (Principal, error) {
	return m.verify(token, tokenTypeRefresh)
}

func (m *TokenManager) verify(raw, typ string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, ErrNoToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != typ || claims.Subject == "" || claims.Role == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{
		ID:               claims.Subject,
		DisplayName:      claims.Name,
		Role:             claims.Role,
		LinkedResourceID: claims.LinkedResourceID,
	}, nil
}

// BearerToken extracts the credential from an Authorization header value. A
// header with another scheme is returned whole so it fails verification as
// malformed rather than as missing.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return header
}
