package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
	"github.com/otiai10/copy"

	"github.com/maruel/novelist/internal/models"
)

const chapterExt = ".md"

var coverExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}

// Recorder records a change of the novels tree, e.g. as a git commit.
type Recorder interface {
	Record(ctx context.Context, msg string) error
}

// LocalStore implements Backend on the local filesystem.
//
// Layout: <root>/<id>/meta.json, <root>/<id>/<book>/<chapter>.md and an
// optional <root>/<id>/cover<ext>.
type LocalStore struct {
	root     string
	realRoot string
	history  Recorder
	locks    novelLocks
}

// NewLocalStore returns a store rooted at root, creating it if needed.
// history may be nil.
func NewLocalStore(root string, history Recorder) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create novels directory: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve novels directory: %w", err)
	}
	return &LocalStore{root: abs, realRoot: resolved, history: history}, nil
}

// Root returns the novels directory.
func (s *LocalStore) Root() string {
	return s.root
}

// ListNovels returns every novel with a readable sidecar, most recently
// modified first.
func (s *LocalStore) ListNovels(ctx context.Context) ([]*models.Novel, error) {
	novels := []*models.Novel{}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return novels, nil
		}
		return nil, fmt.Errorf("failed to list novels: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !IsValidID(e.Name()) {
			continue
		}
		n, err := s.summary(ctx, e.Name())
		if err != nil {
			slog.WarnContext(ctx, "Skipping novel", "id", e.Name(), "err", err)
			continue
		}
		novels = append(novels, n)
	}
	slices.SortStableFunc(novels, func(a, b *models.Novel) int {
		return latest(b).Compare(latest(a))
	})
	return novels, nil
}

func latest(n *models.Novel) time.Time {
	if !n.LastModified.IsZero() {
		return n.LastModified
	}
	return n.Created
}

// summary builds the listing entry of a novel from its cached statistics.
func (s *LocalStore) summary(ctx context.Context, id string) (*models.Novel, error) {
	m, err := s.readSidecar(id)
	if err != nil {
		return nil, err
	}
	if m.WordCount == nil || m.BookCount == nil {
		if m, err = s.migrate(ctx, id); err != nil {
			return nil, err
		}
	}
	n := s.novel(id, m)
	n.WordCount = *m.WordCount
	n.BookCount = *m.BookCount
	return n, nil
}

func (s *LocalStore) novel(id string, m *sidecar) *models.Novel {
	n := &models.Novel{
		ID:           id,
		Title:        m.Title,
		Cover:        m.Cover,
		Synopsis:     m.Synopsis,
		Created:      m.Created,
		LastModified: m.LastModified,
	}
	if n.Cover == "" {
		n.Cover = DefaultCover
	}
	if p, err := s.resolve(id, MainBook, SynopsisChapter+chapterExt); err == nil {
		if raw, err := os.ReadFile(p); err == nil { //nolint:gosec // G304: path is validated by resolve
			n.Synopsis = string(raw)
		}
	}
	return n
}

// GetNovel returns a novel with its books and chapters, counted afresh.
func (s *LocalStore) GetNovel(ctx context.Context, id string) (*models.NovelDetail, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	m, err := s.readSidecar(id)
	if err != nil {
		return nil, err
	}
	books, err := s.books(id)
	if err != nil {
		return nil, err
	}
	d := &models.NovelDetail{Novel: *s.novel(id, m), Books: books}
	d.BookCount = len(books)
	for _, b := range books {
		for _, c := range b.Chapters {
			d.WordCount += c.WordCount
		}
	}
	return d, nil
}

// books lists the books of a novel with per-chapter counts.
func (s *LocalStore) books(id string) ([]models.Book, error) {
	dir, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: novel %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to list books of novel %q: %w", id, err)
	}
	books := []models.Book{}
	for _, e := range entries {
		if !e.IsDir() || !IsValidFilename(e.Name()) {
			continue
		}
		b := models.Book{Name: e.Name(), Chapters: []models.Chapter{}}
		err := s.walkChapters(id, e.Name(), func(name, text string, info fs.FileInfo) {
			b.Chapters = append(b.Chapters, models.Chapter{
				Name:         name,
				WordCount:    CountWords(text),
				LastModified: info.ModTime(),
			})
		})
		if err != nil {
			return nil, err
		}
		sortChapters(b.Chapters, SynopsisChapter)
		books = append(books, b)
	}
	sortBooks(books)
	return books, nil
}

// stats runs the aggregator over the current tree of a novel.
func (s *LocalStore) stats(id string) (Stats, error) {
	dir, err := s.resolve(id)
	if err != nil {
		return Stats{}, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list books of novel %q: %w", id, err)
	}
	var listing []BookListing
	for _, e := range entries {
		if !e.IsDir() || !IsValidFilename(e.Name()) {
			continue
		}
		b := BookListing{Name: e.Name()}
		err := s.walkChapters(id, e.Name(), func(_, text string, _ fs.FileInfo) {
			b.Chapters = append(b.Chapters, text)
		})
		if err != nil {
			return Stats{}, err
		}
		listing = append(listing, b)
	}
	return Aggregate(listing), nil
}

// walkChapters calls fn for each chapter file of a book.
func (s *LocalStore) walkChapters(id, book string, fn func(name, text string, info fs.FileInfo)) error {
	dir, err := s.resolve(id, book)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list chapters of %s/%s: %w", id, book, err)
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), chapterExt)
		if !ok || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // G304: path is validated by resolve
		if err != nil {
			return fmt.Errorf("failed to read chapter %s/%s/%s: %w", id, book, name, err)
		}
		fn(name, string(raw), info)
	}
	return nil
}

// CreateNovel creates a novel with its Main book and Synopsis chapter.
func (s *LocalStore) CreateNovel(ctx context.Context, in NovelInput) (*models.Novel, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	id, dir, err := s.newNovelDir()
	if err != nil {
		return nil, err
	}
	n, err := s.initNovel(ctx, id, dir, title, in)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.WarnContext(ctx, "Failed to clean up novel", "id", id, "err", rmErr)
		}
		return nil, err
	}
	slog.InfoContext(ctx, "Created novel", "id", id, "title", title)
	return n, nil
}

func (s *LocalStore) initNovel(ctx context.Context, id, dir, title string, in NovelInput) (*models.Novel, error) {
	if err := os.Mkdir(filepath.Join(dir, MainBook), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create main book: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, MainBook, SynopsisChapter+chapterExt), strings.NewReader(in.Synopsis)); err != nil {
		return nil, fmt.Errorf("failed to write synopsis: %w", err)
	}
	cover := DefaultCover
	if in.Cover != nil {
		var err error
		if cover, err = s.placeCover(id, in.Cover); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	words, books := 0, 1
	m := &sidecar{Title: title, Cover: cover, Created: now, LastModified: now, WordCount: &words, BookCount: &books}
	if err := s.writeSidecar(id, m); err != nil {
		return nil, err
	}
	if err := s.refresh(ctx, id, "create novel", nil); err != nil {
		return nil, err
	}
	return s.summary(ctx, id)
}

// newNovelDir claims a directory named after the current time in
// milliseconds, bumping the id while it is taken.
func (s *LocalStore) newNovelDir() (string, string, error) {
	for n := time.Now().UnixMilli(); ; n++ {
		id := strconv.FormatInt(n, 10)
		dir, err := s.resolve(id)
		if err != nil {
			return "", "", err
		}
		err = os.Mkdir(dir, 0o755) //nolint:gosec // G301: 0o755 is intentional for data directories
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("failed to create novel directory: %w", err)
		}
	}
}

// placeCover moves an uploaded image to <id>/cover<ext> and returns its
// public path.
func (s *LocalStore) placeCover(id string, up *Upload) (string, error) {
	ext := strings.ToLower(up.Ext)
	if !slices.Contains(coverExts, ext) {
		return "", fmt.Errorf("%w: unsupported cover type %q", ErrInvalidArgument, up.Ext)
	}
	dir, err := s.resolve(id)
	if err != nil {
		return "", err
	}
	old, _ := filepath.Glob(filepath.Join(dir, "cover.*"))
	for _, p := range old {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to remove previous cover: %w", err)
		}
	}
	if err := moveFile(up.Path, filepath.Join(dir, "cover"+ext)); err != nil {
		return "", fmt.Errorf("failed to store cover: %w", err)
	}
	return "/data/novels/" + id + "/cover" + ext, nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copy.Copy(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// UpdateNovel applies the non-nil fields of up.
func (s *LocalStore) UpdateNovel(ctx context.Context, id string, up NovelUpdate) (*models.Novel, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var title string
	if up.Title != nil {
		if title = strings.TrimSpace(*up.Title); title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
		}
	}
	if _, err := s.readSidecar(id); err != nil {
		return nil, err
	}
	if up.Synopsis != nil {
		dir, err := s.resolve(id, MainBook)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, fmt.Errorf("failed to create main book: %w", err)
		}
		if err := atomic.WriteFile(filepath.Join(dir, SynopsisChapter+chapterExt), strings.NewReader(*up.Synopsis)); err != nil {
			return nil, fmt.Errorf("failed to write synopsis: %w", err)
		}
	}
	var cover string
	if up.Cover != nil {
		var err error
		if cover, err = s.placeCover(id, up.Cover); err != nil {
			return nil, err
		}
	}
	err := s.refresh(ctx, id, "update novel", func(m *sidecar) {
		if title != "" {
			m.Title = title
		}
		if cover != "" {
			m.Cover = cover
		}
		if up.Synopsis != nil {
			m.Synopsis = *up.Synopsis
		}
	})
	if err != nil {
		return nil, err
	}
	return s.summary(ctx, id)
}

// DeleteNovel removes a novel. Deleting a missing novel succeeds.
func (s *LocalStore) DeleteNovel(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	dir, err := s.resolve(id)
	if err != nil {
		return err
	}
	// The lock entry outlives the novel so waiters and later callers share it.
	unlock := s.locks.lock(id)
	err = os.RemoveAll(dir)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to delete novel %q: %w", id, err)
	}
	s.record(ctx, id+": delete novel")
	return nil
}

// CreateBook adds an empty book.
func (s *LocalStore) CreateBook(ctx context.Context, id, book string) error {
	if err := s.checkBook(id, book); err != nil {
		return err
	}
	dir, err := s.resolve(id, book)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: book %q already exists", ErrConflict, book)
		}
		return fmt.Errorf("failed to create book %q: %w", book, err)
	}
	return s.refresh(ctx, id, "create book "+book, nil)
}

// DeleteBook removes a book and its chapters. Main cannot be deleted.
func (s *LocalStore) DeleteBook(ctx context.Context, id, book string) error {
	if err := s.checkBook(id, book); err != nil {
		return err
	}
	if book == MainBook {
		return fmt.Errorf("%w: the %s book cannot be deleted", ErrConflict, MainBook)
	}
	dir, err := s.existingBook(id, book)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete book %q: %w", book, err)
	}
	return s.refresh(ctx, id, "delete book "+book, nil)
}

// CreateChapter adds an empty chapter. An existing chapter is left intact.
func (s *LocalStore) CreateChapter(ctx context.Context, id, book, chapter string) error {
	p, err := s.chapterPath(id, book, chapter)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G302: chapters are plain documents
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create chapter %q: %w", chapter, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to create chapter %q: %w", chapter, err)
	}
	return s.refresh(ctx, id, fmt.Sprintf("create chapter %s/%s", book, chapter), nil)
}

// DeleteChapter removes a chapter. Main/Synopsis cannot be deleted.
func (s *LocalStore) DeleteChapter(ctx context.Context, id, book, chapter string) error {
	if book == MainBook && chapter == SynopsisChapter {
		return fmt.Errorf("%w: the %s chapter cannot be deleted", ErrConflict, SynopsisChapter)
	}
	p, err := s.chapterPath(id, book, chapter)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: chapter %q", ErrNotFound, chapter)
		}
		return fmt.Errorf("failed to delete chapter %q: %w", chapter, err)
	}
	return s.refresh(ctx, id, fmt.Sprintf("delete chapter %s/%s", book, chapter), nil)
}

// ReadChapter returns the raw content of a chapter.
func (s *LocalStore) ReadChapter(ctx context.Context, id, book, chapter string) (string, error) {
	p, err := s.chapterPath(id, book, chapter)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p) //nolint:gosec // G304: path is validated by resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: chapter %q", ErrNotFound, chapter)
		}
		return "", fmt.Errorf("failed to read chapter %q: %w", chapter, err)
	}
	return string(raw), nil
}

// WriteChapter replaces the content of a chapter, creating it if needed, and
// refreshes the novel statistics.
func (s *LocalStore) WriteChapter(ctx context.Context, id, book, chapter, content string) error {
	p, err := s.chapterPath(id, book, chapter)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(p, strings.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write chapter %q: %w", chapter, err)
	}
	return s.refresh(ctx, id, fmt.Sprintf("edit chapter %s/%s", book, chapter), nil)
}

// checkBook validates the arguments and checks that the novel exists.
func (s *LocalStore) checkBook(id, book string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := checkName("book", book); err != nil {
		return err
	}
	_, err := s.readSidecar(id)
	return err
}

func (s *LocalStore) existingBook(id, book string) (string, error) {
	dir, err := s.resolve(id, book)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: book %q", ErrNotFound, book)
		}
		return "", fmt.Errorf("failed to access book %q: %w", book, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%w: book %q", ErrNotFound, book)
	}
	return dir, nil
}

// chapterPath validates the arguments and returns the chapter file path
// inside an existing book.
func (s *LocalStore) chapterPath(id, book, chapter string) (string, error) {
	if err := checkName("chapter", chapter); err != nil {
		return "", err
	}
	if err := s.checkBook(id, book); err != nil {
		return "", err
	}
	if _, err := s.existingBook(id, book); err != nil {
		return "", err
	}
	return s.resolve(id, book, chapter+chapterExt)
}

// resolve joins parts under the root and verifies, following symlinks, that
// the result does not leave the root.
func (s *LocalStore) resolve(parts ...string) (string, error) {
	p := filepath.Join(append([]string{s.root}, parts...)...)
	resolved, err := evalExisting(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !within(s.realRoot, resolved) {
		slog.Warn("Path escapes novels root", "parts", parts, "resolved", resolved)
		return "", fmt.Errorf("%w: %s", ErrPathEscape, strings.Join(parts, "/"))
	}
	return p, nil
}

// evalExisting evaluates the symlinks of the longest existing prefix of p.
func evalExisting(p string) (string, error) {
	var tail []string
	for cur := p; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
