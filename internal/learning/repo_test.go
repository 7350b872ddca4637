package learning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRepoPath(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	_, err = git.PlainInit(root, false)
	require.NoError(t, err)

	sub := filepath.Join(root, "internal", "api")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	assert.Equal(t, root, DetectRepoPath(sub))
	assert.Equal(t, root, DetectRepoPath(root))
}

func TestDetectRepoPath_NotARepo(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, dir, DetectRepoPath(dir))
}
