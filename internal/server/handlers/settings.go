package handlers

import (
	"context"
	stderrors "errors"
	"slices"

	"github.com/maruel/novelist/internal/errors"
	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/store"
	"github.com/maruel/novelist/internal/userdb"
)

// SettingsHandler handles the per-user settings.
type SettingsHandler struct {
	users  *userdb.DB
	remote *store.RemoteStore
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(users *userdb.DB, remote *store.RemoteStore) *SettingsHandler {
	return &SettingsHandler{users: users, remote: remote}
}

// GetSettingsRequest is a request for the current user's settings.
type GetSettingsRequest struct{}

// GetSettings returns the current user's settings.
func (h *SettingsHandler) GetSettings(ctx context.Context, req GetSettingsRequest) (*models.Settings, error) {
	user, ok := models.UserFromContext(ctx)
	if !ok {
		return nil, errors.Unauthorized()
	}
	return h.users.Settings(ctx, user.ID)
}

// UpdateSettingsRequest holds a partial settings update.
type UpdateSettingsRequest struct {
	Theme          *string `json:"theme,omitempty"`
	RemoteEnabled  *bool   `json:"remoteEnabled,omitempty"`
	RemoteURL      *string `json:"remoteUrl,omitempty"`
	RemoteUsername *string `json:"remoteUsername,omitempty"`
	RemotePassword *string `json:"remotePassword,omitempty"`
}

// UpdateSettings updates the current user's settings.
func (h *SettingsHandler) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*models.Settings, error) {
	user, ok := models.UserFromContext(ctx)
	if !ok {
		return nil, errors.Unauthorized()
	}
	if req.Theme != nil && !slices.Contains(userdb.Themes, *req.Theme) {
		return nil, errors.BadRequest("Unknown theme")
	}
	return h.users.UpdateSettings(ctx, user.ID, userdb.SettingsUpdate{
		Theme:          req.Theme,
		RemoteEnabled:  req.RemoteEnabled,
		RemoteURL:      req.RemoteURL,
		RemoteUsername: req.RemoteUsername,
		RemotePassword: req.RemotePassword,
	})
}

// TestRemoteRequest holds the connection to test. Empty fields fall back to
// the stored settings so the password does not need to be sent again.
type TestRemoteRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// TestRemoteResponse reports the outcome of a connection test.
type TestRemoteResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TestRemote checks a remote store connection.
func (h *SettingsHandler) TestRemote(ctx context.Context, req TestRemoteRequest) (*TestRemoteResponse, error) {
	user, ok := models.UserFromContext(ctx)
	if !ok {
		return nil, errors.Unauthorized()
	}
	cfg, err := h.users.RemoteConfig(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if req.URL != "" {
		cfg.URL = req.URL
	}
	if req.Username != "" {
		cfg.Username = req.Username
	}
	if req.Password != "" {
		cfg.Password = req.Password
	}
	err = h.remote.TestConnection(ctx, cfg)
	switch {
	case err == nil:
		return &TestRemoteResponse{OK: true}, nil
	case stderrors.Is(err, store.ErrNotConfigured):
		return &TestRemoteResponse{Error: "no server URL"}, nil
	case stderrors.Is(err, store.ErrAuth):
		return &TestRemoteResponse{Error: "authentication failed"}, nil
	case stderrors.Is(err, store.ErrTransientNetwork), stderrors.Is(err, store.ErrNotFound):
		return &TestRemoteResponse{Error: "server unreachable"}, nil
	default:
		return nil, err
	}
}
