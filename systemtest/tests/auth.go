package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T, env *Env) {
	t.Run("default admin", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: env.AdminPassword})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "admin", resp.User.Role)
		assert.True(t, resp.ExpiresAt.After(time.Now()))
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "wrongpassword"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("nonexistent user", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/api/auth/login", dto.LoginRequest{Username: "nouser", Password: "password123"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("me records last login", func(t *testing.T) {
		token := adminToken(t, env)
		rr := doJSONWithAuth(env.Router, "GET", "/api/auth/me", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var me dto.UserResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
		assert.Equal(t, "admin", me.Username)
		assert.NotNil(t, me.LastLogin)
	})

	t.Run("protected routes need a token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, doJSON(env.Router, "GET", "/api/agents", nil).Code)
	})
}

func TestRegister(t *testing.T, env *Env) {
	token := adminToken(t, env)

	t.Run("success", func(t *testing.T) {
		body := dto.RegisterRequest{Username: "operator1", Email: "op1@example.com", Password: "password123"}
		rr := doJSONWithAuth(env.Router, "POST", "/api/auth/register", body, token)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var resp dto.UserResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "operator1", resp.Username)
		assert.Equal(t, "user", resp.Role)
		assert.NotEmpty(t, resp.ID)
	})

	t.Run("duplicate username", func(t *testing.T) {
		body := dto.RegisterRequest{Username: "dupuser", Password: "password123"}
		require.Equal(t, http.StatusCreated, doJSONWithAuth(env.Router, "POST", "/api/auth/register", body, token).Code)
		assert.Equal(t, http.StatusConflict, doJSONWithAuth(env.Router, "POST", "/api/auth/register", body, token).Code)
	})

	t.Run("password too short", func(t *testing.T) {
		body := dto.RegisterRequest{Username: "shortpw", Password: "short"}
		assert.Equal(t, http.StatusBadRequest, doJSONWithAuth(env.Router, "POST", "/api/auth/register", body, token).Code)
	})

	t.Run("operators cannot register users", func(t *testing.T) {
		opToken := login(t, env, "operator1", "password123")
		body := dto.RegisterRequest{Username: "sneaky", Password: "password123", Role: "admin"}
		assert.Equal(t, http.StatusForbidden, doJSONWithAuth(env.Router, "POST", "/api/auth/register", body, opToken).Code)
	})
}
