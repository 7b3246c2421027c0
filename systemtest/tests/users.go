package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserCRUD(t *testing.T, env *Env) {
	token := adminToken(t, env)

	t.Run("list users as admin", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "GET", "/api/users", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListUsersResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.GreaterOrEqual(t, resp.Total, int64(1))
		assert.Equal(t, 1, resp.Page)
		assert.Equal(t, 20, resp.PageSize)
		assert.NotEmpty(t, resp.Users)
	})

	t.Run("list users with pagination", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "GET", "/api/users?page=1&page_size=2", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListUsersResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.PageSize)
		assert.LessOrEqual(t, len(resp.Users), 2)
	})

	t.Run("list users 403 for non-admin", func(t *testing.T) {
		body := dto.RegisterRequest{Username: "regularuser", Password: "password123"}
		require.Equal(t, http.StatusCreated, doJSONWithAuth(env.Router, "POST", "/api/auth/register", body, token).Code)

		userToken := login(t, env, "regularuser", "password123")
		assert.Equal(t, http.StatusForbidden, doJSONWithAuth(env.Router, "GET", "/api/users", nil, userToken).Code)
	})

	t.Run("delete user", func(t *testing.T) {
		body := dto.RegisterRequest{Username: "tobedeleted", Password: "password123"}
		rr := doJSONWithAuth(env.Router, "POST", "/api/auth/register", body, token)
		require.Equal(t, http.StatusCreated, rr.Code)
		var created dto.UserResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

		assert.Equal(t, http.StatusNoContent, doJSONWithAuth(env.Router, "DELETE", "/api/users/"+created.ID, nil, token).Code)
		assert.Equal(t, http.StatusNotFound, doJSONWithAuth(env.Router, "DELETE", "/api/users/"+created.ID, nil, token).Code)
	})

	t.Run("cannot delete self", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "GET", "/api/auth/me", nil, token)
		var me dto.UserResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
		assert.Equal(t, http.StatusBadRequest, doJSONWithAuth(env.Router, "DELETE", "/api/users/"+me.ID, nil, token).Code)
	})
}
