package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrRejected = errors.New("access denied")

type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessDelete
)

var (
	defaultDeniedRoots       = []string{"/etc", "/proc", "/sys", "/dev", "/boot", "/root"}
	defaultDeleteDeniedRoots = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/lib", "/lib64", "/usr/lib"}
	defaultSensitivePatterns = []string{
		"*passwd*", "*shadow*", "*sudoers*",
		".ssh", ".gnupg", "authorized_keys",
		"id_rsa*", "id_dsa*", "id_ecdsa*", "id_ed25519*",
	}
)

// Policy decides whether a filesystem path may be touched by a remote
// instruction. Denied roots match whole path components, so /etc denies
// /etc/hosts but not /etcetera.
type Policy struct {
	BaseDir           string
	DeniedRoots       []string
	DeleteDeniedRoots []string
	SensitivePatterns []string
}

func DefaultPolicy() *Policy {
	return &Policy{
		DeniedRoots:       append([]string(nil), defaultDeniedRoots...),
		DeleteDeniedRoots: append([]string(nil), defaultDeleteDeniedRoots...),
		SensitivePatterns: append([]string(nil), defaultSensitivePatterns...),
	}
}

// Resolve returns the absolute, cleaned form of raw, or an ErrRejected
// error when the path or its symlink target is off limits for access.
func (p *Policy) Resolve(raw string, access Access) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", rejectf("path is required")
	}
	if strings.ContainsRune(raw, 0) {
		return "", rejectf("path contains a NUL byte")
	}

	abs := raw
	if !filepath.IsAbs(abs) {
		base := p.BaseDir
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("resolve working directory: %w", err)
			}
			base = wd
		}
		abs = filepath.Join(base, abs)
	}
	abs = filepath.Clean(abs)

	if err := p.check(abs, access); err != nil {
		return "", err
	}

	real, err := evalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", abs, err)
	}
	if real != abs {
		if err := p.check(real, access); err != nil {
			return "", err
		}
	}

	return abs, nil
}

func (p *Policy) check(path string, access Access) error {
	for _, root := range p.DeniedRoots {
		if under(path, root) {
			return rejectf("%s is a protected system path", root)
		}
	}
	if access == AccessDelete {
		for _, root := range p.DeleteDeniedRoots {
			if under(path, root) {
				return rejectf("cannot delete under %s", root)
			}
		}
	}
	for _, segment := range strings.Split(path, string(filepath.Separator)) {
		if segment == "" {
			continue
		}
		if p.sensitive(segment) {
			return rejectf("%s matches a sensitive file pattern", segment)
		}
	}
	return nil
}

func (p *Policy) sensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range p.SensitivePatterns {
		if ok, _ := filepath.Match(pattern, lower); ok {
			return true
		}
	}
	return false
}

func under(path, root string) bool {
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of path
// and re-attaches the missing tail.
func evalExisting(path string) (string, error) {
	existing := path
	var tail []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return path, nil
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{real}, tail...)...), nil
}

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}
