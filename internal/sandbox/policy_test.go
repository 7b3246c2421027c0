package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_TraversalIntoDeniedRoot(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDir = "/srv/data"

	_, err := p.Resolve("a/../../../etc/hosts", AccessRead)
	assert.ErrorIs(t, err, ErrRejected)

	_, err = p.Resolve("/var/../proc/self", AccessRead)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPolicy_SensitiveSegments(t *testing.T) {
	p := DefaultPolicy()

	for _, path := range []string{
		"/tmp/a/../../etc/passwd",
		"/home/ops/.ssh/config",
		"/var/backups/shadow.bak",
		"/home/ops/keys/ID_RSA.pub",
	} {
		_, err := p.Resolve(path, AccessRead)
		assert.ErrorIs(t, err, ErrRejected, path)
	}
}

func TestPolicy_RootsMatchWholeComponents(t *testing.T) {
	p := DefaultPolicy()

	resolved, err := p.Resolve("/tmp/etcetera/../devices", AccessRead)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/devices", resolved)

	_, err = p.Resolve("/usr/bin/env", AccessRead)
	assert.NoError(t, err)
	_, err = p.Resolve("/usr/bin/env", AccessDelete)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPolicy_EmptyPath(t *testing.T) {
	_, err := DefaultPolicy().Resolve("  ", AccessRead)
	assert.ErrorIs(t, err, ErrRejected)
}
