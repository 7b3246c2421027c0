package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-portal/internal/users"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *users.User
}

type Service struct {
	users  *users.Service
	tokens *TokenIssuer
}

func NewService(userService *users.Service, tokens *TokenIssuer) *Service {
	return &Service{users: userService, tokens: tokens}
}

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if !users.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	if err := s.users.RecordLogin(ctx, user.ID); err != nil {
		slog.Warn("Failed to record login", "user_id", user.ID, "error", err)
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
