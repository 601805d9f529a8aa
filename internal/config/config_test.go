package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Secret()) != 32 {
		t.Errorf("secret length = %d, want 32", len(cfg.Secret()))
	}
	if cfg.Author.Name == "" {
		t.Error("expected a default author")
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// A second load keeps the secret.
	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.JWTSecret != cfg.JWTSecret {
		t.Error("secret changed between loads")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short secret", "jwt_secret: abcd\n", "at least 32 bytes"},
		{"not hex", "jwt_secret: zz\n", "hex"},
		{"negative rate", "jwt_secret: " + strings.Repeat("ab", 32) + "\nlogin_rate_per_min: -1\n", "non-negative"},
		{"bad yaml", "jwt_secret: [\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	p := NewPaths(dir)
	if err := p.Create(); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{p.Novels, p.Backups, p.Temp} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Errorf("%s: not a directory: %v", d, err)
		}
	}
	if p.DB != filepath.Join(dir, "users.db") {
		t.Errorf("DB = %q", p.DB)
	}
}
