package users

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	DefaultAdminUsername = "admin"
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	LastLogin    *time.Time
}
