package handlers

import (
	"context"
	"net/http"

	"github.com/maruel/novelist/internal/backup"
	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/utils"
)

// BackupHandler handles backup requests.
type BackupHandler struct {
	archiver *backup.Archiver
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(a *backup.Archiver) *BackupHandler {
	return &BackupHandler{archiver: a}
}

// ListBackupsRequest is a request to list the backups.
type ListBackupsRequest struct{}

// ListBackupsResponse lists the backups, newest first.
type ListBackupsResponse struct {
	Backups []*models.Backup `json:"backups"`
}

// ListBackups lists the backups.
func (h *BackupHandler) ListBackups(ctx context.Context, req ListBackupsRequest) (*ListBackupsResponse, error) {
	b, err := h.archiver.List(ctx)
	if err != nil {
		return nil, err
	}
	return &ListBackupsResponse{Backups: b}, nil
}

// CreateBackupRequest is a request to create a backup.
type CreateBackupRequest struct{}

// CreateBackup archives the novels and the user database.
func (h *BackupHandler) CreateBackup(ctx context.Context, req CreateBackupRequest) (*models.Backup, error) {
	return h.archiver.Create(ctx)
}

// BackupRequest addresses a backup.
type BackupRequest struct {
	Name string `path:"name"`
}

// DeleteBackup deletes a backup.
func (h *BackupHandler) DeleteBackup(ctx context.Context, req BackupRequest) (*OKResponse, error) {
	if err := h.archiver.Delete(ctx, req.Name); err != nil {
		return nil, err
	}
	return okResp, nil
}

// RestoreBackup replaces the novels and the user database with a backup.
func (h *BackupHandler) RestoreBackup(ctx context.Context, req BackupRequest) (*OKResponse, error) {
	if err := h.archiver.Restore(ctx, req.Name); err != nil {
		return nil, err
	}
	return okResp, nil
}

// DownloadBackup streams a backup archive.
func (h *BackupHandler) DownloadBackup(w http.ResponseWriter, r *http.Request) error {
	name := r.PathValue("name")
	f, err := h.archiver.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", utils.AttachmentDisposition(name))
	http.ServeContent(w, r, name, fi.ModTime(), f)
	return nil
}
