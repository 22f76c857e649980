package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ashureev/vade/internal/domain"
)

// ErrNothingToCommit is returned when the exported files match HEAD.
var ErrNothingToCommit = errors.New("export: nothing to commit")

// CommitOptions configures a git snapshot.
type CommitOptions struct {
	Message     string
	AuthorName  string
	AuthorEmail string
}

// CommitToGit writes the exported files into the repository at dir and
// commits them. The repository is initialized when dir is not one yet.
// It returns the new commit hash.
func CommitToGit(dir string, b domain.Buffers, opts CommitOptions) (string, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	if err := WriteDir(dir, b); err != nil {
		return "", err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	for _, f := range Files(b) {
		if _, err := wt.Add(f.Name); err != nil {
			return "", fmt.Errorf("stage %s: %w", f.Name, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNothingToCommit
	}

	if opts.Message == "" {
		opts.Message = "Update VADE export"
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "VADE"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "vade@localhost"
	}

	hash, err := wt.Commit(opts.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  opts.AuthorName,
			Email: opts.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}
