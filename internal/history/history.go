// Package history records every change of the local novels tree as a git
// commit, using go-git so no git binary is needed.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/maruel/novelist/internal/models"
)

// Repo is a git repository at the root of the novels tree.
//
// The repository is reopened on every call: a backup restore replaces the
// whole directory, .git included.
type Repo struct {
	dir   string
	name  string
	email string
	mu    sync.Mutex
}

// Open initializes the repository in dir if needed.
func Open(dir, name, email string) (*Repo, error) {
	r := &Repo{dir: dir, name: name, email: email}
	if _, err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(r.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	if repo, err = gogit.PlainInit(r.dir, false); err != nil {
		return nil, fmt.Errorf("failed to initialize git repo: %w", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("failed to read git config: %w", err)
	}
	cfg.User.Name = r.name
	cfg.User.Email = r.email
	if err := repo.SetConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to write git config: %w", err)
	}
	return repo, nil
}

// Record stages every change of the tree and commits it with msg. It is a
// no-op when the tree is clean.
func (r *Repo) Record(ctx context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.open()
	if err != nil {
		return err
	}
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	sig := &object.Signature{Name: r.name, Email: r.email, When: time.Now()}
	h, err := w.Commit(msg, &gogit.CommitOptions{All: true, Author: sig, Committer: sig})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	slog.DebugContext(ctx, "Recorded change", "commit", h.String()[:12], "msg", msg)
	return nil
}

// Log returns up to limit commits touching the novel id, newest first. A
// limit of 0 means no limit.
func (r *Repo) Log(ctx context.Context, id string, limit int) ([]*models.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	commits := []*models.Commit{}
	repo, err := r.open()
	if err != nil {
		return nil, err
	}
	prefix := id + "/"
	iter, err := repo.Log(&gogit.LogOptions{
		PathFilter: func(p string) bool { return strings.HasPrefix(p, prefix) },
	})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// No commit yet.
			return commits, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, &models.Commit{
			Hash:      c.Hash.String(),
			Message:   strings.TrimSpace(c.Message),
			Timestamp: c.Author.When,
		})
		if limit > 0 && len(commits) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return commits, nil
}
