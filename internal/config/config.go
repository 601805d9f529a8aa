// Package config manages the server configuration stored in the data
// directory and the layout of that directory.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the server configuration file in the data directory.
const FileName = "server_config.yaml"

// ServerConfig stores the server-wide configuration.
// Loaded from server_config.yaml, created with defaults if missing.
type ServerConfig struct {
	// JWTSecret is the hex encoded secret used to sign JWT tokens.
	// Auto-generated if empty on first load.
	JWTSecret string `yaml:"jwt_secret"`

	// Author signs the change history commits.
	Author Author `yaml:"author"`

	// LoginRatePerMin limits login attempts per client IP.
	LoginRatePerMin int `yaml:"login_rate_per_min"`
}

// Author is a git identity.
type Author struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Default returns the configuration written on first run, minus the secret.
func Default() ServerConfig {
	return ServerConfig{
		Author:          Author{Name: "novelist", Email: "novelist@localhost"},
		LoginRatePerMin: 10,
	}
}

// Secret returns the decoded JWT secret.
func (c *ServerConfig) Secret() []byte {
	b, _ := hex.DecodeString(c.JWTSecret)
	return b
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	b, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return errors.New("jwt_secret must be hex encoded")
	}
	if len(b) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if c.Author.Name == "" || c.Author.Email == "" {
		return errors.New("author name and email are required")
	}
	if c.LoginRatePerMin < 0 {
		return errors.New("login_rate_per_min must be non-negative")
	}
	return nil
}

// Load loads configuration from dataDir/server_config.yaml.
// Creates the file with defaults if it doesn't exist.
// Auto-generates JWTSecret if empty.
func Load(dataDir string) (*ServerConfig, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	missing := errors.Is(err, fs.ErrNotExist)
	if err != nil && !missing {
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
	}
	modified := false
	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		modified = true
	}
	if modified || missing {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/server_config.yaml.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

// Paths is the layout of the data directory.
type Paths struct {
	Root    string
	Novels  string
	Backups string
	DB      string
	Temp    string
}

// NewPaths returns the layout rooted at dataDir.
func NewPaths(dataDir string) Paths {
	return Paths{
		Root:    dataDir,
		Novels:  filepath.Join(dataDir, "novels"),
		Backups: filepath.Join(dataDir, "backups"),
		DB:      filepath.Join(dataDir, "users.db"),
		Temp:    filepath.Join(dataDir, "tmp"),
	}
}

// Create creates the directories of the layout.
func (p Paths) Create() error {
	for _, d := range []string{p.Root, p.Novels, p.Backups, p.Temp} {
		if err := os.MkdirAll(d, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}
