package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/covenant-app/covenant/internal/shared"
)

// Service wraps credential issuance rules.
type Service struct {
	repo   Repository
	tokens *TokenManager
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenManager) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Authenticate validates email/password credentials and mints a token pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (TokenPair, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return TokenPair{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return TokenPair{}, shared.ErrInvalidCredentials
	}
	return s.issue(user.Principal())
}

// Refresh exchanges a refresh credential for a new pair. The user is re-read
// so role changes and deactivation take effect here.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claimed, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.repo.FindByID(ctx, claimed.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("auth: refresh lookup: %w", err)
	}
	if !user.IsActive {
		return TokenPair{}, ErrInvalidToken
	}
	return s.issue(user.Principal())
}

func (s *Service) issue(p Principal) (TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(p)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(p)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// AccessErrorFor converts verification failures into the access taxonomy.
func AccessErrorFor(err error) *shared.AccessError {
	switch {
	case errors.Is(err, ErrNoToken):
		return shared.AuthRequired()
	case errors.Is(err, ErrTokenExpired):
		return shared.TokenExpired()
	default:
		return shared.InvalidToken()
	}
}
