package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/maruel/novelist/internal/errors"
	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/userdb"
)

// minPasswordLength matches the check of userdb.SetPassword.
const minPasswordLength = 4

// TokenFunc signs a session token for a user.
type TokenFunc func(user *models.User) (string, error)

// AuthHandler handles authentication requests.
type AuthHandler struct {
	users *userdb.DB
	token TokenFunc
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(users *userdb.DB, token TokenFunc) *AuthHandler {
	return &AuthHandler{users: users, token: token}
}

// LoginRequest is a request to log in.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is a response from logging in.
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login checks the credentials and returns a JWT token.
func (h *AuthHandler) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, errors.MissingField("username or password")
	}
	user, err := h.users.Authenticate(ctx, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	token, err := h.token(user)
	if err != nil {
		return nil, errors.InternalWithError("Failed to generate token", err)
	}
	return &LoginResponse{Token: token, User: user}, nil
}

// MeRequest is a request to get current user info.
type MeRequest struct{}

// Me returns the current user info from the context.
func (h *AuthHandler) Me(ctx context.Context, req MeRequest) (*models.User, error) {
	user, ok := models.UserFromContext(ctx)
	if !ok {
		return nil, errors.Unauthorized()
	}
	return user, nil
}

// ChangePasswordRequest is a request to change the current user's password.
type ChangePasswordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

// ChangePassword replaces the password of the current user.
func (h *AuthHandler) ChangePassword(ctx context.Context, req ChangePasswordRequest) (*OKResponse, error) {
	user, isUser := models.UserFromContext(ctx)
	if !isUser {
		return nil, errors.Unauthorized()
	}
	if len(req.New) < minPasswordLength {
		return nil, errors.BadRequest("Password must be at least 4 characters")
	}
	if err := h.users.ChangePassword(ctx, user.Username, req.Current, req.New); err != nil {
		if stderrors.Is(err, userdb.ErrInvalidCredentials) {
			// Not a 401: the session itself is valid.
			return nil, errors.NewAPIError(http.StatusBadRequest, errors.ErrInvalidArgument, "Current password is incorrect")
		}
		return nil, errors.FromStore(err)
	}
	return okResp, nil
}
