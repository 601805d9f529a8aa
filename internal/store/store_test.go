package store

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maruel/novelist/internal/models"
)

func TestListAll(t *testing.T) {
	local, _ := newTestLocal(t)
	createNovel(t, local, "Local", "")
	ctx := models.WithUser(t.Context(), &models.User{ID: 1})

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	tests := []struct {
		name string
		cfg  RemoteConfig
	}{
		{"unconfigured", RemoteConfig{}},
		{"unreachable", RemoteConfig{Enabled: true, URL: deadURL}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{Local: local, Remote: NewRemoteStore(&fakeConfigs{cfg: tt.cfg}, time.Second)}
			l, r, err := s.ListAll(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(l) != 1 || l[0].Title != "Local" {
				t.Errorf("local = %+v", l)
			}
			if r == nil || len(r) != 0 {
				t.Errorf("remote = %v, want empty", r)
			}
		})
	}

	t.Run("remote", func(t *testing.T) {
		remote, fs, ctx := newTestRemote(t)
		seedRemote(t, fs)
		s := &Store{Local: local, Remote: remote}
		_, r, err := s.ListAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(r) != 1 || !r[0].Remote {
			t.Errorf("remote = %+v", r)
		}
		if s.Backend(true) != Backend(remote) || s.Backend(false) != Backend(local) {
			t.Error("Backend() picked the wrong store")
		}
	})
}
