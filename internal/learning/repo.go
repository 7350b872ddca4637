package learning

import (
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// DetectRepoPath returns the root of the git work tree enclosing dir, or
// dir itself (made absolute) when it is not inside one.
func DetectRepoPath(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return abs
	}
	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no work tree.
		return abs
	}
	return wt.Filesystem.Root()
}
