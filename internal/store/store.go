// Package store implements the novel document store on top of the local
// filesystem or a remote WebDAV server.
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maruel/novelist/internal/models"
)

// Backend is the operation set shared by the local and remote stores.
type Backend interface {
	ListNovels(ctx context.Context) ([]*models.Novel, error)
	GetNovel(ctx context.Context, id string) (*models.NovelDetail, error)
	CreateNovel(ctx context.Context, in NovelInput) (*models.Novel, error)
	UpdateNovel(ctx context.Context, id string, up NovelUpdate) (*models.Novel, error)
	DeleteNovel(ctx context.Context, id string) error
	CreateBook(ctx context.Context, id, book string) error
	DeleteBook(ctx context.Context, id, book string) error
	CreateChapter(ctx context.Context, id, book, chapter string) error
	DeleteChapter(ctx context.Context, id, book, chapter string) error
	ReadChapter(ctx context.Context, id, book, chapter string) (string, error)
	WriteChapter(ctx context.Context, id, book, chapter, content string) error
}

// Upload is an uploaded file waiting on disk to be moved into the store.
type Upload struct {
	Path string // temporary file, consumed on success
	Ext  string // extension including the dot, e.g. ".png"
}

// NovelInput holds the fields of a new novel.
type NovelInput struct {
	Title    string
	Synopsis string
	Cover    *Upload
}

// NovelUpdate holds a partial update; nil fields are left untouched.
type NovelUpdate struct {
	Title    *string
	Synopsis *string
	Cover    *Upload
}

// Store selects a backend per call.
type Store struct {
	Local  *LocalStore
	Remote *RemoteStore
}

// Backend returns the remote backend when remote is set, the local one
// otherwise.
func (s *Store) Backend(remote bool) Backend {
	if remote {
		return s.Remote
	}
	return s.Local
}

// ListAll lists the local and the remote novels.
//
// The remote listing never fails the call: an unconfigured or unreachable
// remote store yields zero remote novels.
func (s *Store) ListAll(ctx context.Context) (local, remote []*models.Novel, err error) {
	if local, err = s.Local.ListNovels(ctx); err != nil {
		return nil, nil, err
	}
	remote, err = s.Remote.ListNovels(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConfigured):
		remote = []*models.Novel{}
	default:
		slog.WarnContext(ctx, "Failed to list remote novels", "err", err)
		remote = []*models.Novel{}
	}
	return local, remote, nil
}
