package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/maruel/novelist/internal/backup"
	"github.com/maruel/novelist/internal/store"
	"github.com/maruel/novelist/internal/userdb"
)

func TestAPIError(t *testing.T) {
	t.Run("WithDetail", func(t *testing.T) {
		err := BadRequest("validation failed").WithDetail("field", "title")
		if err.Details()["field"] != "title" {
			t.Errorf("Expected field 'title', got %v", err.Details()["field"])
		}
	})
	t.Run("Wrap", func(t *testing.T) {
		origErr := errors.New("original error")
		err := Internal("wrapped error").Wrap(origErr)
		if err.Unwrap() != origErr {
			t.Error("Expected Unwrap() to return the original error")
		}
		if err.Error() != "wrapped error: original error" {
			t.Errorf("Expected 'wrapped error: original error', got '%s'", err.Error())
		}
		if err.Message() != "wrapped error" {
			t.Errorf("Expected the message to hide the cause, got '%s'", err.Message())
		}
	})
}

func TestFromStore(t *testing.T) {
	secret := "/srv/data/novels/1/Main"
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"invalid", fmt.Errorf("%w: book name %q", store.ErrInvalidArgument, "../x"), http.StatusBadRequest, ErrInvalidArgument},
		{"conflict", fmt.Errorf("%w: the Main book cannot be deleted", store.ErrConflict), http.StatusConflict, ErrConflict},
		{"not found", fmt.Errorf("%w: %s", store.ErrNotFound, secret), http.StatusNotFound, ErrNotFound},
		{"no user", userdb.ErrNotFound, http.StatusNotFound, ErrNotFound},
		{"not configured", store.ErrNotConfigured, http.StatusBadRequest, ErrNotConfigured},
		{"credentials", userdb.ErrInvalidCredentials, http.StatusUnauthorized, ErrUnauthorized},
		{"partial", &backup.PartialRestoreError{Err: errors.New(secret)}, http.StatusInternalServerError, ErrRestorePartial},
		{"escape", fmt.Errorf("%w: %s", store.ErrPathEscape, secret), http.StatusInternalServerError, ErrInternal},
		{"network", fmt.Errorf("%w: read %s", store.ErrTransientNetwork, secret), http.StatusInternalServerError, ErrInternal},
		{"api", MissingField("title"), http.StatusBadRequest, ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ews ErrorWithStatus
			if !errors.As(FromStore(tt.err), &ews) {
				t.Fatal("not an ErrorWithStatus")
			}
			if ews.StatusCode() != tt.status || ews.Code() != tt.code {
				t.Errorf("got %d %s, want %d %s", ews.StatusCode(), ews.Code(), tt.status, tt.code)
			}
			if strings.Contains(ews.Message(), secret) {
				t.Errorf("message leaks a path: %q", ews.Message())
			}
		})
	}
	if FromStore(nil) != nil {
		t.Error("FromStore(nil) != nil")
	}
	if err := FromStore(fmt.Errorf("%w: x", store.ErrNotFound)); !errors.Is(err, store.ErrNotFound) {
		t.Error("the store error must stay reachable for logging")
	}
}
