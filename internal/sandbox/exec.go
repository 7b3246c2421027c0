package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	shellMetacharacters = ";&|`$(){}[]\\<>\n\r"
	restrictedPath      = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	waitDelay           = 2 * time.Second
	truncatedMarker     = "\n... (output truncated)"
)

type Command struct {
	Name   string
	Args   []string
	Env    []string
	Output io.Writer
}

// Runner starts processes. Execute only calls it after every check passed.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, c Command) error {
	bin, err := lookPath(c.Name, restrictedPath)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, c.Args...)
	cmd.Env = c.Env
	cmd.Stdout = c.Output
	cmd.Stderr = c.Output
	cmd.WaitDelay = waitDelay
	return cmd.Run()
}

func lookPath(name, pathList string) (string, error) {
	for _, dir := range filepath.SplitList(pathList) {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
}

// Execute runs an allowlisted command without a shell and returns its
// combined output, capped at the configured size.
func (s *Sandbox) Execute(ctx context.Context, command string, args []string) (string, error) {
	if err := s.checkCommand(command, args); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	out := &cappedBuffer{limit: s.cfg.MaxOutputBytes}
	slog.Info("Executing command", "command", command, "args", args)

	err := s.runner.Run(ctx, Command{
		Name:   command,
		Args:   args,
		Env:    []string{"PATH=" + restrictedPath},
		Output: out,
	})
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("command execution failed: timed out after %s", s.cfg.ExecTimeout)
	}
	if err != nil {
		if detail := strings.TrimSpace(out.String()); detail != "" {
			return "", fmt.Errorf("command execution failed: %w: %s", err, detail)
		}
		return "", fmt.Errorf("command execution failed: %w", err)
	}

	return out.String(), nil
}

func (s *Sandbox) checkCommand(command string, args []string) error {
	if command == "" {
		return rejectf("command is required")
	}
	if _, ok := s.allowed[command]; !ok {
		return rejectf("command %q is not allowed", command)
	}
	for _, arg := range args {
		if strings.ContainsAny(arg, shellMetacharacters) {
			return rejectf("argument %q contains shell metacharacters", arg)
		}
		if p, ok := pathArgument(arg); ok {
			if _, err := s.policy.Resolve(p, AccessRead); err != nil {
				return err
			}
		}
	}
	return nil
}

// pathArgument extracts the path-like part of an argument, including the
// value of --flag=/some/path forms.
func pathArgument(arg string) (string, bool) {
	if strings.HasPrefix(arg, "-") {
		_, value, ok := strings.Cut(arg, "=")
		if !ok {
			return "", false
		}
		arg = value
	}
	if strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "~") || strings.Contains(arg, "..") || strings.Contains(arg, "/") {
		return arg, true
	}
	return "", false
}

type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > remaining:
		b.buf.Write(p[:remaining])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}
