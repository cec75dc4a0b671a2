// Package gitinfo reads the repository position evidence is captured
// under.
package gitinfo

import (
	"github.com/go-git/go-git/v5"
)

// shortHashLen matches git's default abbreviation.
const shortHashLen = 7

// Info is the git position at capture time.
type Info struct {
	// Branch is empty on a detached HEAD.
	Branch string

	// Commit is the abbreviated HEAD hash.
	Commit string
}

// Detect returns the branch and short commit for the repository
// containing dir, searching parent directories the way git itself
// does. A missing repository, empty repository or unreadable HEAD
// yields a zero Info, never an error: evidence simply goes unadorned.
func Detect(dir string) Info {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Info{}
	}
	head, err := repo.Head()
	if err != nil {
		return Info{}
	}

	info := Info{Commit: shortHash(head.Hash().String())}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info
}

func shortHash(h string) string {
	if len(h) > shortHashLen {
		return h[:shortHashLen]
	}
	return h
}
