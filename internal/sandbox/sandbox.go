package sandbox

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/EternisAI/silo-portal/internal/protocol"
)

const (
	DefaultExecTimeout    = 10 * time.Second
	DefaultMaxOutputBytes = 10000
	DefaultMaxUploadBytes = 100 << 20
	MaxErrorLength        = 200
)

var DefaultAllowedCommands = []string{
	"ls", "pwd", "whoami", "date", "uptime", "df", "free",
	"ps", "netstat", "systemctl", "service", "cat", "head", "tail",
}

type Config struct {
	AllowedCommands []string      `mapstructure:"allowed_commands"`
	ExecTimeout     time.Duration `mapstructure:"exec_timeout"`
	MaxOutputBytes  int           `mapstructure:"max_output_bytes"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	BaseDir         string        `mapstructure:"base_dir"`
}

// Sandbox is the only path from an inbound instruction to the host.
type Sandbox struct {
	cfg       Config
	policy    *Policy
	allowed   map[string]struct{}
	runner    Runner
	installer Installer
	sysinfo   func(ctx context.Context) (protocol.SystemInfo, error)
}

type Option func(*Sandbox)

func WithRunner(r Runner) Option { return func(s *Sandbox) { s.runner = r } }

func WithInstaller(i Installer) Option { return func(s *Sandbox) { s.installer = i } }

func WithPolicy(p *Policy) Option { return func(s *Sandbox) { s.policy = p } }

func WithSystemInfo(fn func(ctx context.Context) (protocol.SystemInfo, error)) Option {
	return func(s *Sandbox) { s.sysinfo = fn }
}

func New(cfg Config, opts ...Option) *Sandbox {
	if len(cfg.AllowedCommands) == 0 {
		cfg.AllowedCommands = DefaultAllowedCommands
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Sandbox{
		cfg:       cfg,
		policy:    DefaultPolicy(),
		allowed:   make(map[string]struct{}, len(cfg.AllowedCommands)),
		runner:    execRunner{},
		installer: StubInstaller{},
		sysinfo:   CollectSystemInfo,
	}
	for _, c := range cfg.AllowedCommands {
		s.allowed[c] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.BaseDir == "" {
		s.policy.BaseDir = cfg.BaseDir
	}
	return s
}

func (s *Sandbox) SystemInfo(ctx context.Context) (protocol.SystemInfo, error) {
	return s.sysinfo(ctx)
}

// ErrorMessage renders err for transmission, bounded to MaxErrorLength bytes.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return truncate(err.Error(), MaxErrorLength)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
