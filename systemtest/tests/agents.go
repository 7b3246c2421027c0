package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EternisAI/silo-portal/internal/agents"
	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/EternisAI/silo-portal/internal/sandbox"
	"github.com/EternisAI/silo-portal/internal/ws/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAgentID = "agent-02-42-ac-11-00-02"

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, cmd sandbox.Command) error {
	_, err := cmd.Output.Write([]byte(cmd.Name + " ran\n"))
	return err
}

func startAgent(t *testing.T, env *Env) *client.Client {
	t.Helper()
	sb := sandbox.New(sandbox.Config{}, sandbox.WithRunner(echoRunner{}))
	c := client.NewClient(client.Config{
		ServerURL:         env.WebSocketURL,
		AgentSecret:       env.AgentSecret,
		ReconnectInterval: 100 * time.Millisecond,
		HeartbeatInterval: time.Second,
	}, client.Identity{
		ID:       testAgentID,
		Name:     "PDV-SYSTEMTEST-LINUX",
		Hostname: "systemtest",
		Platform: "linux",
		Arch:     "amd64",
		Version:  "test",
	}, client.NewRequestHandler(sb))
	require.NoError(t, c.Start())
	return c
}

func awaitOperation(t *testing.T, env *Env, token, id string) dto.OperationResponse {
	t.Helper()
	var op dto.OperationResponse
	require.Eventually(t, func() bool {
		rr := doJSONWithAuth(env.Router, "GET", "/api/operations/"+id, nil, token)
		if rr.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &op); err != nil {
			return false
		}
		return op.Status != "pending"
	}, 5*time.Second, 50*time.Millisecond)
	return op
}

func TestAgentLifecycle(t *testing.T, env *Env) {
	token := adminToken(t, env)
	agentClient := startAgent(t, env)
	defer agentClient.Stop()

	require.Eventually(t, func() bool {
		rr := doJSONWithAuth(env.Router, "GET", "/api/agents/online", nil, token)
		var resp dto.OnlineAgentsResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		return resp.Count == 1 && resp.Agents[0] == testAgentID
	}, 5*time.Second, 50*time.Millisecond)

	t.Run("agent record is persisted", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "GET", "/api/agents/"+testAgentID, nil, token)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp dto.AgentResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "PDV-SYSTEMTEST-LINUX", resp.Name)
		assert.Equal(t, agents.StatusOnline, resp.Status)
		assert.True(t, resp.Connected)
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("hello"), 0o644))

	t.Run("list files", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "GET", "/api/files/list/"+testAgentID+"?path="+dir, nil, token)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var list protocol.FileListResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
		require.Len(t, list.Files, 1)
		assert.Equal(t, "existing.txt", list.Files[0].Name)
	})

	t.Run("list denied path", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "GET", "/api/files/list/"+testAgentID+"?path=/etc", nil, token)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})

	t.Run("upload then delete", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("path", dir))
		fw, err := mw.CreateFormFile("file", "uploaded.txt")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("from the portal"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest("POST", "/api/files/upload/"+testAgentID, &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		env.Router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var accepted struct {
			OperationID string `json:"operationId"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
		op := awaitOperation(t, env, token, accepted.OperationID)
		assert.Equal(t, "completed", op.Status)

		content, err := os.ReadFile(filepath.Join(dir, "uploaded.txt"))
		require.NoError(t, err)
		assert.Equal(t, "from the portal", string(content))

		rr = doJSONWithAuth(env.Router, "DELETE", "/api/files/delete/"+testAgentID,
			dto.DeleteFileRequest{Path: filepath.Join(dir, "uploaded.txt")}, token)
		require.Equal(t, http.StatusOK, rr.Code)
		var dispatched dto.DispatchResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dispatched))
		assert.Equal(t, "completed", awaitOperation(t, env, token, dispatched.OperationID).Status)
		_, err = os.Stat(filepath.Join(dir, "uploaded.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("execute", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "POST", "/api/system/execute/"+testAgentID, dto.ExecuteRequest{Command: "whoami"}, token)
		require.Equal(t, http.StatusOK, rr.Code)
		var dispatched dto.DispatchResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dispatched))

		op := awaitOperation(t, env, token, dispatched.OperationID)
		assert.Equal(t, "completed", op.Status)
		assert.Contains(t, string(op.Result), "whoami ran")
	})

	t.Run("history and stats", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "GET", "/api/files/operations?agentId="+testAgentID, nil, token)
		require.Equal(t, http.StatusOK, rr.Code)
		var list dto.ListOperationsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
		assert.GreaterOrEqual(t, list.Count, 5)
		for i := 1; i < len(list.Operations); i++ {
			assert.False(t, list.Operations[i].CreatedAt.After(list.Operations[i-1].CreatedAt), "newest first")
		}

		rr = doJSONWithAuth(env.Router, "GET", "/api/agents/"+testAgentID+"/stats", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)
		var stats dto.AgentStatsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
		assert.Equal(t, int64(list.Count), stats.Total)
		assert.GreaterOrEqual(t, stats.Failed, int64(1))
	})

	t.Run("restart shuts the agent down", func(t *testing.T) {
		rr := doJSONWithAuth(env.Router, "POST", "/api/system/restart/"+testAgentID, nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		select {
		case <-agentClient.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("agent did not stop after restart")
		}
		assert.True(t, agentClient.RestartRequested())

		assert.Eventually(t, func() bool {
			a, err := env.Agents.GetAgentByID(context.Background(), testAgentID)
			return err == nil && a.Status == agents.StatusOffline
		}, 5*time.Second, 50*time.Millisecond)

		rr = doJSONWithAuth(env.Router, "POST", "/api/system/execute/"+testAgentID, dto.ExecuteRequest{Command: "ls"}, token)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}
