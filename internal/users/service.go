package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrInvalidRole    = errors.New("invalid role")
)

type CreateParams struct {
	Username string
	Email    string
	Password string
	Role     string
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*User, error) {
	role := params.Role
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return nil, ErrInvalidRole
	}

	hash, err := HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	slog.Info("User created", "user_id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.GetByUsername(ctx, username)
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error) {
	list, total, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return list, total, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) RecordLogin(ctx context.Context, id string) error {
	return s.store.UpdateLastLogin(ctx, id, s.now().UTC())
}

// EnsureDefaultAdmin creates the admin account when it does not exist yet.
// When password is empty a random one is generated and returned.
func (s *Service) EnsureDefaultAdmin(ctx context.Context, password string) (generated string, created bool, err error) {
	_, err = s.store.GetByUsername(ctx, DefaultAdminUsername)
	if err == nil {
		return "", false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return "", false, fmt.Errorf("look up admin: %w", err)
	}

	if password == "" {
		if password, err = GeneratePassword(); err != nil {
			return "", false, err
		}
		generated = password
	}

	_, err = s.Create(ctx, CreateParams{
		Username: DefaultAdminUsername,
		Password: password,
		Role:     RoleAdmin,
	})
	if errors.Is(err, ErrUsernameExists) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("create admin: %w", err)
	}
	return generated, true, nil
}
