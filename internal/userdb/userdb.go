// Package userdb stores the users and their settings in a single SQLite file.
package userdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/copy"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/store"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned for an unknown user.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned on a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrExists is returned when creating a user whose name is taken.
	ErrExists = errors.New("user already exists")
)

// Themes lists the accepted values of Settings.Theme.
var Themes = []string{"dark", "light"}

// DB is the user database.
//
// The file can be replaced while the process runs, see Replace.
type DB struct {
	path string
	mu   sync.RWMutex
	db   *sql.DB
}

// SettingsUpdate holds a partial settings update; nil fields are left
// untouched.
type SettingsUpdate struct {
	Theme          *string
	RemoteEnabled  *bool
	RemoteURL      *string
	RemoteUsername *string
	RemotePassword *string
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	d := &DB{path: path}
	if err := d.open(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) open(ctx context.Context) error {
	db, err := sql.Open("sqlite", d.path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return fmt.Errorf("failed to open user database: %w", err)
	}
	// A single connection keeps the file free of concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize user database: %w", err)
	}
	d.db = db
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Path returns the database file.
func (d *DB) Path() string {
	return d.path
}

// EnsureDefaultUser creates the admin/admin user when the database has no
// user.
func (d *DB) EnsureDefaultUser(ctx context.Context) error {
	d.mu.RLock()
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if n != 0 {
		return nil
	}
	if _, err := d.CreateUser(ctx, "admin", "admin"); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Created default user admin with password admin; change it")
	return nil
}

// CreateUser adds a user with default settings.
func (d *DB) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	now := time.Now().UTC().Truncate(time.Second)
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, "INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)", username, string(hash), now.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %s", ErrExists, username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO user_settings (user_id) VALUES (?)", id); err != nil {
		return nil, fmt.Errorf("failed to create user settings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &models.User{ID: id, Username: username, Created: now}, nil
}

// Authenticate returns the user when the password matches.
func (d *DB) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var (
		u       models.User
		hash    string
		created int64
	)
	err := d.db.QueryRowContext(ctx, "SELECT id, username, password, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &hash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	u.Created = time.Unix(created, 0).UTC()
	return &u, nil
}

// User returns a user by id.
func (d *DB) User(ctx context.Context, id int64) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var (
		u       models.User
		created int64
	)
	err := d.db.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Username, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	u.Created = time.Unix(created, 0).UTC()
	return &u, nil
}

// UserByName returns a user by username.
func (d *DB) UserByName(ctx context.Context, username string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var (
		u       models.User
		created int64
	)
	err := d.db.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	u.Created = time.Unix(created, 0).UTC()
	return &u, nil
}

// ChangePassword replaces the password of a user after checking the
// current one.
func (d *DB) ChangePassword(ctx context.Context, username, current, next string) error {
	u, err := d.Authenticate(ctx, username, current)
	if err != nil {
		return err
	}
	return d.SetPassword(ctx, u.ID, next)
}

// SetPassword replaces the password of a user.
func (d *DB) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < 4 {
		return errors.New("password must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	res, err := d.db.ExecContext(ctx, "UPDATE users SET password = ? WHERE id = ?", string(hash), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Settings returns the settings of a user.
func (d *DB) Settings(ctx context.Context, userID int64) (*models.Settings, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings(ctx, userID)
}

func (d *DB) settings(ctx context.Context, userID int64) (*models.Settings, error) {
	s := &models.Settings{}
	err := d.db.QueryRowContext(ctx,
		"SELECT theme, remote_enabled, remote_url, remote_username, remote_password FROM user_settings WHERE user_id = ?", userID).
		Scan(&s.Theme, &s.RemoteEnabled, &s.RemoteURL, &s.RemoteUsername, &s.RemotePassword)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	s.RemotePasswordSet = s.RemotePassword != ""
	return s, nil
}

// UpdateSettings applies the non-nil fields of up.
func (d *DB) UpdateSettings(ctx context.Context, userID int64, up SettingsUpdate) (*models.Settings, error) {
	if up.Theme != nil && !slices.Contains(Themes, *up.Theme) {
		return nil, fmt.Errorf("unknown theme %q", *up.Theme)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, err := d.settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if up.Theme != nil {
		s.Theme = *up.Theme
	}
	if up.RemoteEnabled != nil {
		s.RemoteEnabled = *up.RemoteEnabled
	}
	if up.RemoteURL != nil {
		s.RemoteURL = strings.TrimSpace(*up.RemoteURL)
	}
	if up.RemoteUsername != nil {
		s.RemoteUsername = *up.RemoteUsername
	}
	if up.RemotePassword != nil {
		s.RemotePassword = *up.RemotePassword
	}
	_, err = d.db.ExecContext(ctx,
		"UPDATE user_settings SET theme = ?, remote_enabled = ?, remote_url = ?, remote_username = ?, remote_password = ? WHERE user_id = ?",
		s.Theme, s.RemoteEnabled, s.RemoteURL, s.RemoteUsername, s.RemotePassword, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	s.RemotePasswordSet = s.RemotePassword != ""
	return s, nil
}

// RemoteConfig implements store.RemoteConfigSource.
func (d *DB) RemoteConfig(ctx context.Context, userID int64) (store.RemoteConfig, error) {
	s, err := d.Settings(ctx, userID)
	if err != nil {
		return store.RemoteConfig{}, err
	}
	return store.RemoteConfig{
		Enabled:  s.RemoteEnabled,
		URL:      s.RemoteURL,
		Username: s.RemoteUsername,
		Password: s.RemotePassword,
	}, nil
}

// Snapshot writes a consistent copy of the database to dst, which must not
// exist.
func (d *DB) Snapshot(ctx context.Context, dst string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("failed to snapshot user database: %w", err)
	}
	return nil
}

// Replace overwrites the database file with src and reopens it.
func (d *DB) Replace(ctx context.Context, src string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			return fmt.Errorf("failed to close user database: %w", err)
		}
		d.db = nil
	}
	if err := copy.Copy(src, d.path); err != nil {
		// Reopen whatever is on disk so the process keeps working.
		if err2 := d.open(ctx); err2 != nil {
			slog.ErrorContext(ctx, "Failed to reopen user database", "err", err2)
		}
		return fmt.Errorf("failed to replace user database: %w", err)
	}
	return d.open(ctx)
}
