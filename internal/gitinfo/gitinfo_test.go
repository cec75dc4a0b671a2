package gitinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one commit and returns its full
// HEAD hash.
func initRepo(t *testing.T, dir string) string {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	hash := initRepo(t, dir)

	info := Detect(dir)
	assert.Equal(t, "master", info.Branch)
	assert.Equal(t, hash[:7], info.Commit)
}

func TestDetectFromSubdirectory(t *testing.T) {
	dir := t.TempDir()
	hash := initRepo(t, dir)

	sub := filepath.Join(dir, "internal", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	info := Detect(sub)
	assert.Equal(t, "master", info.Branch)
	assert.Equal(t, hash[:7], info.Commit)
}

func TestDetectDetachedHead(t *testing.T) {
	dir := t.TempDir()
	hash := initRepo(t, dir)

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: head.Hash()}))

	info := Detect(dir)
	assert.Empty(t, info.Branch)
	assert.Equal(t, hash[:7], info.Commit)
}

func TestDetectOutsideRepository(t *testing.T) {
	assert.Equal(t, Info{}, Detect(t.TempDir()))
}

func TestDetectEmptyRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	// No commits yet, HEAD resolves to nothing.
	assert.Equal(t, Info{}, Detect(dir))
}
