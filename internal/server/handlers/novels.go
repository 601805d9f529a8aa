package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/maruel/novelist/internal/errors"
	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/store"
	"github.com/maruel/novelist/internal/utils"
)

// maxCoverSize bounds cover uploads.
const maxCoverSize = 10 << 20

// NovelHandler handles novel level requests.
type NovelHandler struct {
	svc *Services
}

// NewNovelHandler creates a new novel handler.
func NewNovelHandler(svc *Services) *NovelHandler {
	return &NovelHandler{svc: svc}
}

// ListNovelsRequest is a request to list the novels of both backends.
type ListNovelsRequest struct{}

// ListNovelsResponse holds the local and the remote novels.
type ListNovelsResponse struct {
	Local  []*models.Novel `json:"local"`
	Remote []*models.Novel `json:"remote"`
}

// ListNovels lists the local and the remote novels.
func (h *NovelHandler) ListNovels(ctx context.Context, req ListNovelsRequest) (*ListNovelsResponse, error) {
	local, remote, err := h.svc.Store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return &ListNovelsResponse{Local: local, Remote: remote}, nil
}

// GetNovelRequest is a request to get one novel with its books.
type GetNovelRequest struct {
	ID     string `path:"id"`
	Remote bool   `query:"remote"`
}

// GetNovel returns a novel with its books and chapters.
func (h *NovelHandler) GetNovel(ctx context.Context, req GetNovelRequest) (*models.NovelDetail, error) {
	return h.svc.Store.Backend(req.Remote).GetNovel(ctx, req.ID)
}

// CreateNovelRequest is a request to create a novel.
type CreateNovelRequest struct {
	Remote   bool   `query:"remote"`
	Title    string `json:"title"`
	Synopsis string `json:"synopsis"`
}

// CreateNovel creates a novel with an empty Main book.
func (h *NovelHandler) CreateNovel(ctx context.Context, req CreateNovelRequest) (*models.Novel, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.MissingField("title")
	}
	return h.svc.Store.Backend(req.Remote).CreateNovel(ctx, store.NovelInput{Title: req.Title, Synopsis: req.Synopsis})
}

// UpdateNovelRequest is a request to update the title or the synopsis.
type UpdateNovelRequest struct {
	ID       string  `path:"id"`
	Remote   bool    `query:"remote"`
	Title    *string `json:"title,omitempty"`
	Synopsis *string `json:"synopsis,omitempty"`
}

// UpdateNovel updates the title or the synopsis of a novel.
func (h *NovelHandler) UpdateNovel(ctx context.Context, req UpdateNovelRequest) (*models.Novel, error) {
	return h.svc.Store.Backend(req.Remote).UpdateNovel(ctx, req.ID, store.NovelUpdate{Title: req.Title, Synopsis: req.Synopsis})
}

// DeleteNovelRequest is a request to delete a novel.
type DeleteNovelRequest struct {
	ID     string `path:"id"`
	Remote bool   `query:"remote"`
}

// DeleteNovel deletes a novel. Deleting a missing novel succeeds.
func (h *NovelHandler) DeleteNovel(ctx context.Context, req DeleteNovelRequest) (*OKResponse, error) {
	if err := h.svc.Store.Backend(req.Remote).DeleteNovel(ctx, req.ID); err != nil {
		return nil, err
	}
	return okResp, nil
}

// HistoryRequest is a request for the change history of a local novel.
type HistoryRequest struct {
	ID    string `path:"id"`
	Limit int    `query:"limit"`
}

// HistoryResponse lists commits, newest first.
type HistoryResponse struct {
	Commits []*models.Commit `json:"commits"`
}

// History returns the change history of a local novel.
func (h *NovelHandler) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	if !store.IsValidID(req.ID) {
		return nil, errors.BadRequest("Invalid novel id")
	}
	if h.svc.History == nil {
		return &HistoryResponse{Commits: []*models.Commit{}}, nil
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	commits, err := h.svc.History.Log(ctx, req.ID, limit)
	if err != nil {
		return nil, err
	}
	return &HistoryResponse{Commits: commits}, nil
}

// UploadCover stores the raw request body as the cover of a local novel.
// The image type comes from the ext query parameter, e.g. ".png".
func (h *NovelHandler) UploadCover(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	ext := r.URL.Query().Get("ext")
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == "" || filepath.Base(ext) != ext {
		return errors.MissingField("ext")
	}
	tmp := filepath.Join(h.svc.UploadDir, "upload-"+uuid.NewString()+ext)
	if err := saveBody(r, tmp); err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()
	n, err := h.svc.Store.Local.UpdateNovel(ctx, r.PathValue("id"), store.NovelUpdate{Cover: &store.Upload{Path: tmp, Ext: ext}})
	if err != nil {
		return err
	}
	utils.RespondJSON(w, r, http.StatusOK, n)
	return nil
}

func saveBody(r *http.Request, dst string) error {
	defer func() { _ = r.Body.Close() }()
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // G304: name is generated
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	_, err = io.Copy(f, io.LimitReader(r.Body, maxCoverSize+1))
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		var fi os.FileInfo
		if fi, err = os.Stat(dst); err == nil && fi.Size() > maxCoverSize {
			err = errors.BadRequest("Cover is too large")
		}
	}
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
