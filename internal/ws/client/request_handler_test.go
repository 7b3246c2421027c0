package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/EternisAI/silo-portal/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, cmd sandbox.Command) error {
	args := m.Called(ctx, cmd)
	if out, ok := args.Get(0).(string); ok && cmd.Output != nil {
		_, _ = cmd.Output.Write([]byte(out))
	}
	return args.Error(1)
}

func newTestHandler(runner sandbox.Runner) *RequestHandler {
	sb := sandbox.New(sandbox.Config{}, sandbox.WithRunner(runner), sandbox.WithSystemInfo(func(context.Context) (protocol.SystemInfo, error) {
		return protocol.SystemInfo{Hostname: "pdv-01", Platform: "linux", CPUs: 4}, nil
	}))
	return NewRequestHandler(sb)
}

func instruction(t *testing.T, msgType string, payload protocol.Instruction, opID string) *protocol.Envelope {
	t.Helper()
	payload.SetOperationID(opID)
	env, err := protocol.NewEnvelope(msgType, payload, opID)
	require.NoError(t, err)
	return env
}

func decodeResult(t *testing.T, env *protocol.Envelope) protocol.OperationResult {
	t.Helper()
	require.NotNil(t, env)
	require.Equal(t, protocol.TypeOperationResult, env.Type)
	var res protocol.OperationResult
	require.NoError(t, env.Decode(&res))
	return res
}

func TestHandleInstruction_ExecuteEchoesOperationID(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(c sandbox.Command) bool { return c.Name == "whoami" })).
		Return("root\n", nil).Once()
	rh := newTestHandler(runner)

	reply, restart := rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeExecuteCommand, &protocol.ExecuteCommand{Command: "whoami", Args: []string{}}, "op-1"))

	assert.False(t, restart)
	res := decodeResult(t, reply)
	assert.Equal(t, "op-1", res.OperationID)
	assert.Equal(t, "op-1", reply.RequestID)
	assert.Equal(t, protocol.ResultCompleted, res.Status)
	assert.Equal(t, "root\n", res.Output)
	runner.AssertExpectations(t)
}

func TestHandleInstruction_RejectedCommandFails(t *testing.T) {
	runner := new(MockRunner)
	rh := newTestHandler(runner)

	reply, _ := rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeExecuteCommand, &protocol.ExecuteCommand{Command: "rm", Args: []string{"-rf", "/"}}, "op-2"))

	res := decodeResult(t, reply)
	assert.Equal(t, protocol.ResultFailed, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.LessOrEqual(t, len([]rune(res.Error)), sandbox.MaxErrorLength)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestHandleInstruction_ExecuteFailureCarriesOutputInError(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Return("partial", errors.New("exit status 1")).Once()
	rh := newTestHandler(runner)

	reply, _ := rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeExecuteCommand, &protocol.ExecuteCommand{Command: "ls"}, "op-3"))

	res := decodeResult(t, reply)
	assert.Equal(t, protocol.ResultFailed, res.Status)
	assert.Contains(t, res.Error, "partial")
}

func TestHandleInstruction_FileListAndErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	rh := newTestHandler(new(MockRunner))

	reply, _ := rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeFileListRequest, &protocol.FileListRequest{Path: dir}, "op-4"))
	require.Equal(t, protocol.TypeFileListResponse, reply.Type)
	var list protocol.FileListResponse
	require.NoError(t, reply.Decode(&list))
	assert.Equal(t, "op-4", list.OperationID)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "a.txt", list.Files[0].Name)

	reply, _ = rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeFileListRequest, &protocol.FileListRequest{Path: "/etc"}, "op-5"))
	require.Equal(t, protocol.TypeFileListError, reply.Type)
	var listErr protocol.OperationError
	require.NoError(t, reply.Decode(&listErr))
	assert.Equal(t, "op-5", listErr.OperationID)
	assert.NotEmpty(t, listErr.Error)
}

func TestHandleInstruction_UploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	rh := newTestHandler(new(MockRunner))

	reply, _ := rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeFileUpload, &protocol.FileUpload{Path: dir, FileName: "report.txt", Content: []byte("data")}, "op-6"))
	res := decodeResult(t, reply)
	require.Equal(t, protocol.ResultCompleted, res.Status, res.Error)
	content, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))

	reply, _ = rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeFileUpload, &protocol.FileUpload{Path: dir, FileName: "bad|name", Content: []byte("x")}, "op-7"))
	assert.Equal(t, protocol.ResultFailed, decodeResult(t, reply).Status)

	reply, _ = rh.HandleInstruction(context.Background(),
		instruction(t, protocol.TypeFileDelete, &protocol.FileDelete{Path: filepath.Join(dir, "report.txt")}, "op-8"))
	assert.Equal(t, protocol.ResultCompleted, decodeResult(t, reply).Status)
	_, err = os.Stat(filepath.Join(dir, "report.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestHandleInstruction_InstallInfoRestart(t *testing.T) {
	rh := newTestHandler(new(MockRunner))
	ctx := context.Background()

	reply, _ := rh.HandleInstruction(ctx, instruction(t, protocol.TypeInstallPackage, &protocol.InstallPackage{PackageName: "htop"}, "op-9"))
	res := decodeResult(t, reply)
	assert.Equal(t, protocol.ResultCompleted, res.Status)
	assert.Contains(t, res.Message, "htop")

	reply, _ = rh.HandleInstruction(ctx, instruction(t, protocol.TypeSystemInfoReq, &protocol.SystemInfoRequest{}, "op-10"))
	require.Equal(t, protocol.TypeSystemInfoResp, reply.Type)
	var info protocol.SystemInfoResponse
	require.NoError(t, reply.Decode(&info))
	assert.Equal(t, "op-10", info.OperationID)
	assert.Equal(t, "pdv-01", info.Info.Hostname)

	reply, restart := rh.HandleInstruction(ctx, instruction(t, protocol.TypeRestartAgent, &protocol.RestartAgent{}, "op-11"))
	assert.True(t, restart)
	assert.Equal(t, protocol.ResultCompleted, decodeResult(t, reply).Status)
}

func TestHandleInstruction_UndecodablePayloadStillReplies(t *testing.T) {
	rh := newTestHandler(new(MockRunner))
	env := &protocol.Envelope{Type: protocol.TypeFileDelete, Payload: []byte(`"oops"`), RequestID: "op-12"}

	reply, _ := rh.HandleInstruction(context.Background(), env)

	res := decodeResult(t, reply)
	assert.Equal(t, "op-12", res.OperationID)
	assert.Equal(t, protocol.ResultFailed, res.Status)
}

func TestHandleInstruction_IgnoresNonInstructions(t *testing.T) {
	rh := newTestHandler(new(MockRunner))
	reply, restart := rh.HandleInstruction(context.Background(), protocol.MustEnvelope(protocol.TypePong, nil, ""))
	assert.Nil(t, reply)
	assert.False(t, restart)
	assert.False(t, IsInstruction(protocol.TypePong))
	assert.True(t, IsInstruction(protocol.TypeRestartAgent))
}
