package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, cmd Command) error {
	args := m.Called(ctx, cmd)
	if out, ok := args.Get(0).(string); ok && cmd.Output != nil {
		_, _ = cmd.Output.Write([]byte(out))
	}
	return args.Error(1)
}

func newTestSandbox(runner Runner) *Sandbox {
	return New(Config{ExecTimeout: time.Second}, WithRunner(runner))
}

func TestExecute_CommandNotAllowlisted(t *testing.T) {
	runner := new(MockRunner)
	sb := newTestSandbox(runner)

	_, err := sb.Execute(context.Background(), "rm", []string{"-rf", "/"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestExecute_MetacharacterInArgument(t *testing.T) {
	runner := new(MockRunner)
	sb := newTestSandbox(runner)

	for _, arg := range []string{"a;reboot", "x|y", "`id`", "$(id)", "a>b"} {
		_, err := sb.Execute(context.Background(), "ls", []string{arg})
		assert.ErrorIs(t, err, ErrRejected, arg)
	}
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestExecute_PathArgumentUnderDeniedRoot(t *testing.T) {
	runner := new(MockRunner)
	sb := newTestSandbox(runner)

	_, err := sb.Execute(context.Background(), "cat", []string{"/tmp/../etc/hosts"})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = sb.Execute(context.Background(), "tail", []string{"--file=/root/notes"})
	assert.ErrorIs(t, err, ErrRejected)

	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestExecute_RunsWithRestrictedEnvironment(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(c Command) bool {
		return c.Name == "whoami" && len(c.Env) == 1 && strings.HasPrefix(c.Env[0], "PATH=")
	})).Return("agent\n", nil).Once()
	sb := newTestSandbox(runner)

	out, err := sb.Execute(context.Background(), "whoami", nil)

	require.NoError(t, err)
	assert.Equal(t, "agent\n", out)
	runner.AssertExpectations(t)
}

func TestExecute_OutputIsCapped(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Return(strings.Repeat("x", 50), nil)
	sb := New(Config{MaxOutputBytes: 10}, WithRunner(runner))

	out, err := sb.Execute(context.Background(), "ps", nil)

	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10)+truncatedMarker, out)
}

func TestExecute_FailureCarriesOutput(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Return("no such unit", errors.New("exit status 4"))
	sb := newTestSandbox(runner)

	_, err := sb.Execute(context.Background(), "systemctl", []string{"status", "nope"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "command execution failed: exit status 4: no such unit")
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestExecute_Timeout(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return("", errors.New("signal: killed"))
	sb := New(Config{ExecTimeout: 20 * time.Millisecond}, WithRunner(runner))

	_, err := sb.Execute(context.Background(), "uptime", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecute_RealWhoami(t *testing.T) {
	if _, err := lookPath("whoami", restrictedPath); err != nil {
		t.Skip("whoami not installed")
	}
	sb := New(Config{})

	out, err := sb.Execute(context.Background(), "whoami", []string{})

	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	sb := New(Config{})

	resolved, files, err := sb.List(dir)

	require.NoError(t, err)
	assert.Equal(t, dir, resolved)
	require.Len(t, files, 2)
	assert.Equal(t, protocol.FileEntry{Name: "a.txt", Type: "file", Size: 5, LastModified: files[0].LastModified}, files[0])
	assert.Equal(t, "directory", files[1].Type)
}

func TestList_SymlinkIntoDeniedRoot(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "config")
	require.NoError(t, os.Symlink("/etc", link))
	sb := New(Config{})

	_, _, err := sb.List(link)

	assert.ErrorIs(t, err, ErrRejected)
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	sb := New(Config{})

	target, err := sb.Upload(filepath.Join(dir, "nested"), "report.csv", []byte("a,b\n"))

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "report.csv"), target)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
}

func TestUpload_Rejections(t *testing.T) {
	dir := t.TempDir()
	sb := New(Config{MaxUploadBytes: 4})

	_, err := sb.Upload(dir, "bad?.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrRejected)

	_, err = sb.Upload(dir, "../escape.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrRejected)

	_, err = sb.Upload(dir, "big.bin", []byte("12345"))
	assert.ErrorIs(t, err, ErrRejected)

	_, err = sb.Upload(dir, "id_rsa", []byte("x"))
	assert.ErrorIs(t, err, ErrRejected)

	_, err = sb.Upload("/etc", "motd", []byte("x"))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	sb := New(Config{})

	file := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err := sb.Delete(file)
	require.NoError(t, err)
	assert.NoFileExists(t, file)

	full := filepath.Join(dir, "full")
	require.NoError(t, os.Mkdir(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, "keep"), []byte("x"), 0o644))
	_, err = sb.Delete(full)
	assert.ErrorIs(t, err, ErrRejected)
	assert.DirExists(t, full)

	_, err = sb.Delete("/usr/bin/true")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestInstall(t *testing.T) {
	sb := New(Config{})

	msg, err := sb.Install(context.Background(), protocol.InstallPackage{PackageName: "htop"})
	require.NoError(t, err)
	assert.Contains(t, msg, "htop")

	_, err = sb.Install(context.Background(), protocol.InstallPackage{PackageName: "htop; reboot"})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = sb.Install(context.Background(), protocol.InstallPackage{PackageName: "htop", InstallPath: "/boot/x"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestErrorMessage_Truncates(t *testing.T) {
	msg := ErrorMessage(errors.New(strings.Repeat("é", 150)))
	assert.LessOrEqual(t, len(msg), MaxErrorLength)
	assert.True(t, strings.HasPrefix(strings.Repeat("é", 150), msg))
	assert.Equal(t, "", ErrorMessage(nil))
}

func TestSystemInfo(t *testing.T) {
	sb := New(Config{}, WithSystemInfo(func(context.Context) (protocol.SystemInfo, error) {
		return protocol.SystemInfo{Hostname: "pdv-01", CPUs: 4}, nil
	}))

	info, err := sb.SystemInfo(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "pdv-01", info.Hostname)
}

func TestCollectSystemInfo(t *testing.T) {
	info, err := CollectSystemInfo(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, info.Hostname)
	assert.Positive(t, info.TotalMemory)
	assert.Positive(t, info.CPUs)
}
