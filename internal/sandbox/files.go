package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/EternisAI/silo-portal/internal/protocol"
)

const reservedFileNameChars = `<>:"|?*`

func (s *Sandbox) List(path string) (string, []protocol.FileEntry, error) {
	resolved, err := s.policy.Resolve(path, AccessRead)
	if err != nil {
		return "", nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", nil, fmt.Errorf("read directory: %w", err)
	}

	files := make([]protocol.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			slog.Debug("Skipping unreadable entry", "path", filepath.Join(resolved, e.Name()), "error", err)
			continue
		}
		entryType := "file"
		if info.IsDir() {
			entryType = "directory"
		}
		files = append(files, protocol.FileEntry{
			Name:         e.Name(),
			Type:         entryType,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return resolved, files, nil
}

// Upload writes content as fileName inside the directory path and returns
// the written file's path.
func (s *Sandbox) Upload(path, fileName string, content []byte) (string, error) {
	if err := validateFileName(fileName); err != nil {
		return "", err
	}
	if int64(len(content)) > s.cfg.MaxUploadBytes {
		return "", rejectf("file exceeds the %d byte upload limit", s.cfg.MaxUploadBytes)
	}

	dir, err := s.policy.Resolve(path, AccessWrite)
	if err != nil {
		return "", err
	}
	target, err := s.policy.Resolve(filepath.Join(dir, fileName), AccessWrite)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	slog.Info("File uploaded", "path", target, "size", len(content))
	return target, nil
}

func (s *Sandbox) Delete(path string) (string, error) {
	resolved, err := s.policy.Resolve(path, AccessDelete)
	if err != nil {
		return "", err
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return "", fmt.Errorf("read directory: %w", err)
		}
		if len(entries) > 0 {
			return "", rejectf("directory is not empty")
		}
	}

	if err := os.Remove(resolved); err != nil {
		return "", fmt.Errorf("remove: %w", err)
	}

	slog.Info("Path deleted", "path", resolved)
	return resolved, nil
}

func validateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return rejectf("invalid file name")
	case strings.ContainsAny(name, reservedFileNameChars):
		return rejectf("file name contains reserved characters")
	case strings.ContainsAny(name, "/\\\x00"):
		return rejectf("file name must not contain path separators")
	}
	return nil
}
