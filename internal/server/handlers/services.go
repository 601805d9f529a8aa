// Package handlers implements the HTTP API handlers.
package handlers

import (
	"github.com/maruel/novelist/internal/backup"
	"github.com/maruel/novelist/internal/history"
	"github.com/maruel/novelist/internal/store"
	"github.com/maruel/novelist/internal/userdb"
)

// Services holds all service dependencies for handlers.
type Services struct {
	Store     *store.Store
	History   *history.Repo // may be nil
	Users     *userdb.DB
	Backups   *backup.Archiver
	UploadDir string // staging for uploads, on the novels filesystem
}

// OKResponse is returned by operations without a meaningful result.
type OKResponse struct {
	OK bool `json:"ok"`
}

var okResp = &OKResponse{OK: true}
