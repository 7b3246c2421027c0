package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/EternisAI/silo-portal/internal/protocol"
)

var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]{0,127}$`)

// Installer is the hook for an external package mechanism.
type Installer interface {
	Install(ctx context.Context, req protocol.InstallPackage) (string, error)
}

// StubInstaller accepts well-formed requests without touching the host.
type StubInstaller struct{}

func (StubInstaller) Install(_ context.Context, req protocol.InstallPackage) (string, error) {
	slog.Info("Package install requested", "package", req.PackageName, "install_path", req.InstallPath)
	return fmt.Sprintf("Package %s installation simulated", req.PackageName), nil
}

func (s *Sandbox) Install(ctx context.Context, req protocol.InstallPackage) (string, error) {
	if !packageNamePattern.MatchString(req.PackageName) {
		return "", rejectf("invalid package name")
	}
	if req.InstallPath != "" {
		resolved, err := s.policy.Resolve(req.InstallPath, AccessWrite)
		if err != nil {
			return "", err
		}
		req.InstallPath = resolved
	}
	return s.installer.Install(ctx, req)
}
