package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/maruel/novelist/internal/metrics"
)

const sidecarName = "meta.json"

// sidecar is the metadata persisted in novels/<id>/meta.json.
//
// WordCount and BookCount are nil in records written before statistics were
// cached; they are filled lazily by ListNovels.
type sidecar struct {
	Title        string    `json:"title"`
	Cover        string    `json:"cover"`
	Created      time.Time `json:"created,omitzero"`
	LastModified time.Time `json:"lastModified,omitzero"`
	WordCount    *int      `json:"wordCount,omitempty"`
	BookCount    *int      `json:"bookCount,omitempty"`
	Synopsis     string    `json:"synopsis,omitempty"`
}

// novelLocks serializes sidecar read-modify-write cycles per novel.
type novelLocks struct {
	m sync.Map // id -> *sync.Mutex
}

func (l *novelLocks) lock(id string) func() {
	v, _ := l.m.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *LocalStore) readSidecar(id string) (*sidecar, error) {
	p, err := s.resolve(id, sidecarName)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p) //nolint:gosec // G304: path is validated by resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: novel %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read metadata of novel %q: %w", id, err)
	}
	m := &sidecar{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata of novel %q: %w", id, err)
	}
	return m, nil
}

func (s *LocalStore) writeSidecar(id string, m *sidecar) error {
	p, err := s.resolve(id, sidecarName)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata of novel %q: %w", id, err)
	}
	if err := atomic.WriteFile(p, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to write metadata of novel %q: %w", id, err)
	}
	return nil
}

// refresh recomputes the cached statistics of a novel after a mutation,
// applies mutate if not nil and bumps lastModified. The sidecar reflects the
// new tree when it returns.
func (s *LocalStore) refresh(ctx context.Context, id, msg string, mutate func(*sidecar)) error {
	unlock := s.locks.lock(id)
	m, err := s.readSidecar(id)
	if err == nil {
		if mutate != nil {
			mutate(m)
		}
		var st Stats
		if st, err = s.stats(id); err == nil {
			m.WordCount = &st.WordCount
			m.BookCount = &st.BookCount
			m.LastModified = time.Now().UTC()
			err = s.writeSidecar(id, m)
		}
	}
	unlock()
	metrics.SidecarRefreshes.WithLabelValues("mutation").Inc()
	if err != nil {
		return err
	}
	s.record(ctx, fmt.Sprintf("%s: %s", id, msg))
	return nil
}

// migrate fills the statistics of a sidecar written without them. It does
// not touch lastModified.
func (s *LocalStore) migrate(ctx context.Context, id string) (*sidecar, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	m, err := s.readSidecar(id)
	if err != nil {
		return nil, err
	}
	if m.WordCount != nil && m.BookCount != nil {
		// Another caller won the race.
		return m, nil
	}
	st, err := s.stats(id)
	if err != nil {
		return nil, err
	}
	m.WordCount = &st.WordCount
	m.BookCount = &st.BookCount
	if err := s.writeSidecar(id, m); err != nil {
		return nil, err
	}
	metrics.SidecarRefreshes.WithLabelValues("migration").Inc()
	slog.InfoContext(ctx, "Cached novel statistics", "id", id, "words", st.WordCount, "books", st.BookCount)
	return m, nil
}

func (s *LocalStore) record(ctx context.Context, msg string) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(ctx, msg); err != nil {
		slog.WarnContext(ctx, "Failed to record change", "msg", msg, "err", err)
	}
}
