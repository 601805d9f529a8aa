package handlers

import (
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"

	"github.com/maruel/novelist/internal/store"
)

var localCoverRE = regexp.MustCompile(`^cover\.[a-z]+$`)

// CoverHandler serves cover images.
type CoverHandler struct {
	store *store.Store
}

// NewCoverHandler creates a new cover handler.
func NewCoverHandler(s *store.Store) *CoverHandler {
	return &CoverHandler{store: s}
}

// RemoteCover proxies a cover image of a remote novel so the browser never
// talks to the WebDAV server. Any failure redirects to the default cover.
func (h *CoverHandler) RemoteCover(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	file := r.PathValue("file")
	raw, err := h.store.Remote.ReadCover(ctx, r.PathValue("id"), file)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read remote cover", "err", err)
		http.Redirect(w, r, store.DefaultCover, http.StatusFound)
		return nil
	}
	ct := mime.TypeByExtension(filepath.Ext(file))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, err = w.Write(raw)
	return err
}

// LocalCover serves the cover file of a local novel. Nothing else from the
// novels tree is reachable.
func (h *CoverHandler) LocalCover(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("id")
	file := r.PathValue("file")
	if !store.IsValidID(id) || !localCoverRE.MatchString(file) {
		http.NotFound(w, r)
		return nil
	}
	w.Header().Set("Cache-Control", "private, no-cache")
	http.ServeFile(w, r, filepath.Join(h.store.Local.Root(), id, file))
	return nil
}
