package gitinfo

import (
	"fmt"

	"github.com/go-git/go-git/v5"
)

// Info is the git context of a project at session start
type Info struct {
	Branch    string `json:"branch,omitempty"`
	ShortHead string `json:"short_head,omitempty"`
}

// Lookup resolves the current branch and short head of the repository at
// path. A project that is not a git repository is a normal condition for
// callers; they treat the error as "no git info".
func Lookup(path string) (*Info, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		// Repository exists but has no commits yet
		return &Info{}, nil
	}

	info := &Info{
		ShortHead: head.Hash().String()[:8],
	}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info, nil
}
