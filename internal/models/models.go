// Package models defines the core data structures used throughout the application.
package models

import (
	"context"
	"time"
)

// Novel is the top-level unit of the document store.
type Novel struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Cover        string    `json:"cover"`
	Synopsis     string    `json:"synopsis"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	WordCount    int       `json:"wordCount"`
	BookCount    int       `json:"bookCount"`
	Remote       bool      `json:"remote"`
}

// NovelDetail is a novel with its full book and chapter structure.
type NovelDetail struct {
	Novel
	Books []Book `json:"books"`
}

// Book is a named group of chapters.
type Book struct {
	Name     string    `json:"name"`
	Chapters []Chapter `json:"chapters"`
}

// Chapter is a single text document. Name has no file extension.
type Chapter struct {
	Name         string    `json:"name"`
	WordCount    int       `json:"wordCount"`
	LastModified time.Time `json:"lastModified"`
}

// Backup is an archive of the novels tree and the user database.
type Backup struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// Commit is one entry of a novel's change history.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// User represents a system user.
type User struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Created  time.Time `json:"created"`
}

// Settings holds the per-user preferences, including the remote store
// connection.
type Settings struct {
	Theme          string `json:"theme"`
	RemoteEnabled  bool   `json:"remoteEnabled"`
	RemoteURL      string `json:"remoteUrl"`
	RemoteUsername string `json:"remoteUsername"`
	RemotePassword string `json:"-"`
	// RemotePasswordSet reports whether a password is stored without exposing it.
	RemotePasswordSet bool `json:"remotePasswordSet"`
}

type contextKey string

// UserKey is the context key for the authenticated *User.
const UserKey contextKey = "user"

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(UserKey).(*User)
	return user, ok && user != nil
}
