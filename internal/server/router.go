// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"
	"time"

	"github.com/maruel/novelist/internal/assets"
	"github.com/maruel/novelist/internal/metrics"
	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/server/handlers"
)

// Config holds the server settings that are not services.
type Config struct {
	JWTSecret []byte
	Version   string
	// LoginRate is the number of login attempts allowed per client IP per
	// minute. 0 means 10.
	LoginRate int
}

// NewRouter creates and configures the HTTP router.
func NewRouter(svc *handlers.Services, cfg *Config) http.Handler {
	mux := &http.ServeMux{}
	hh := handlers.NewHealthHandler(cfg.Version)
	authh := handlers.NewAuthHandler(svc.Users, func(u *models.User) (string, error) {
		return NewToken(cfg.JWTSecret, u)
	})
	nh := handlers.NewNovelHandler(svc)
	ch := handlers.NewChapterHandler(svc.Store)
	bh := handlers.NewBackupHandler(svc.Backups)
	sh := handlers.NewSettingsHandler(svc.Users, svc.Store.Remote)
	cvh := handlers.NewCoverHandler(svc.Store)

	loginRate := cfg.LoginRate
	if loginRate <= 0 {
		loginRate = 10
	}
	login := rateLimit(newLimiter(loginRate, time.Minute, loginRate))

	mux.Handle("GET /api/health", Wrap(hh.Health))

	// Auth
	mux.Handle("POST /api/auth/login", login(Wrap(authh.Login)))
	mux.Handle("GET /api/auth/me", Wrap(authh.Me))
	mux.Handle("POST /api/auth/password", Wrap(authh.ChangePassword))

	// Novels
	mux.Handle("GET /api/novels", Wrap(nh.ListNovels))
	mux.Handle("POST /api/novels", Wrap(nh.CreateNovel))
	mux.Handle("GET /api/novels/{id}", Wrap(nh.GetNovel))
	mux.Handle("POST /api/novels/{id}", Wrap(nh.UpdateNovel))
	mux.Handle("DELETE /api/novels/{id}", Wrap(nh.DeleteNovel))
	mux.Handle("PUT /api/novels/{id}/cover", WrapRaw(nh.UploadCover))
	mux.Handle("GET /api/novels/{id}/history", Wrap(nh.History))

	// Books and chapters
	mux.Handle("POST /api/novels/{id}/books", Wrap(ch.CreateBook))
	mux.Handle("DELETE /api/novels/{id}/books/{book}", Wrap(ch.DeleteBook))
	mux.Handle("POST /api/novels/{id}/books/{book}/chapters", Wrap(ch.CreateChapter))
	mux.Handle("GET /api/novels/{id}/books/{book}/chapters/{chapter}", Wrap(ch.ReadChapter))
	mux.Handle("PUT /api/novels/{id}/books/{book}/chapters/{chapter}", Wrap(ch.WriteChapter))
	mux.Handle("DELETE /api/novels/{id}/books/{book}/chapters/{chapter}", Wrap(ch.DeleteChapter))

	// Backups
	mux.Handle("GET /api/backups", Wrap(bh.ListBackups))
	mux.Handle("POST /api/backups", Wrap(bh.CreateBackup))
	mux.Handle("DELETE /api/backups/{name}", Wrap(bh.DeleteBackup))
	mux.Handle("POST /api/backups/{name}/restore", Wrap(bh.RestoreBackup))
	mux.Handle("GET /api/backups/{name}/download", WrapRaw(bh.DownloadBackup))

	// Settings
	mux.Handle("GET /api/settings", Wrap(sh.GetSettings))
	mux.Handle("POST /api/settings", Wrap(sh.UpdateSettings))
	mux.Handle("POST /api/settings/remote/test", Wrap(sh.TestRemote))

	// Covers
	mux.Handle("GET /litewriter/cover/{id}/{file}", WrapRaw(cvh.RemoteCover))
	mux.Handle("GET /data/novels/{id}/{file}", WrapRaw(cvh.LocalCover))

	mux.Handle("GET /images/", http.FileServerFS(assets.Files))
	mux.Handle("GET /metrics", metrics.Handler())

	return LoggingMiddleware(AuthMiddleware(svc.Users, cfg.JWTSecret)(mux))
}
