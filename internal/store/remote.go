package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
	"golang.org/x/sync/errgroup"

	"github.com/maruel/novelist/internal/metrics"
	"github.com/maruel/novelist/internal/models"
)

// remoteConcurrency bounds the parallel chapter reads of one novel.
const remoteConcurrency = 8

var coverRE = regexp.MustCompile(`(?i)cover\.(jpg|jpeg|png|svg|webp)$`)

// RemoteConfig is the remote store connection of a user.
type RemoteConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
}

// RemoteConfigSource returns the remote connection of a user.
type RemoteConfigSource interface {
	RemoteConfig(ctx context.Context, userID int64) (RemoteConfig, error)
}

// RemoteStore implements Backend over WebDAV.
//
// Top-level directories are novels, their subdirectories are books and
// .md/.txt files are chapters. Files at a novel's root form the Main book.
// Nothing is cached: the remote tree may change outside of this process.
//
// Unlike LocalStore, the Main book and the Synopsis chapter are not protected
// against deletion.
type RemoteStore struct {
	configs RemoteConfigSource
	timeout time.Duration
	// Transport overrides http.DefaultTransport, for tests.
	Transport http.RoundTripper
}

// NewRemoteStore returns a store reading each user's connection from
// configs. Every remote request is bounded by timeout.
func NewRemoteStore(configs RemoteConfigSource, timeout time.Duration) *RemoteStore {
	return &RemoteStore{configs: configs, timeout: timeout}
}

// davSession is a connection bound to one operation's context.
type davSession struct {
	ctx context.Context
	c   *gowebdav.Client
}

// ctxTransport attaches the operation context to every request so that
// cancellation reaches the remote calls.
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// do runs fn with a session for the current user and records metrics.
func (r *RemoteStore) do(ctx context.Context, op string, fn func(s *davSession) error) error {
	start := time.Now()
	s, err := r.session(ctx)
	if err == nil {
		err = fn(s)
	}
	metrics.RemoteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.RemoteRequests.WithLabelValues(op, remoteResult(err)).Inc()
	return err
}

func (r *RemoteStore) session(ctx context.Context) (*davSession, error) {
	if r == nil || r.configs == nil {
		return nil, ErrNotConfigured
	}
	user, ok := models.UserFromContext(ctx)
	if !ok {
		return nil, ErrNotConfigured
	}
	cfg, err := r.configs.RemoteConfig(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote settings: %w", err)
	}
	if !cfg.Enabled {
		return nil, ErrNotConfigured
	}
	return r.dial(ctx, cfg)
}

func (r *RemoteStore) dial(ctx context.Context, cfg RemoteConfig) (*davSession, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	base := r.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	c.SetTimeout(r.timeout)
	c.SetTransport(&ctxTransport{ctx: ctx, base: base})
	return &davSession{ctx: ctx, c: c}, nil
}

// TestConnection checks that cfg reaches a WebDAV server accepting the
// credentials.
func (r *RemoteStore) TestConnection(ctx context.Context, cfg RemoteConfig) error {
	start := time.Now()
	s, err := r.dial(ctx, cfg)
	if err == nil {
		err = classify("connect", "/", s.c.Connect())
	}
	metrics.RemoteDuration.WithLabelValues("connect").Observe(time.Since(start).Seconds())
	metrics.RemoteRequests.WithLabelValues("connect", remoteResult(err)).Inc()
	return err
}

// ListNovels lists the top-level remote directories as novels, by title.
// A novel that cannot be read is skipped.
func (r *RemoteStore) ListNovels(ctx context.Context) ([]*models.Novel, error) {
	novels := []*models.Novel{}
	err := r.do(ctx, "list", func(s *davSession) error {
		entries, err := s.c.ReadDir("/")
		if err != nil {
			return classify("list", "/", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if !IsValidFilename(e.Name()) {
				slog.WarnContext(ctx, "Skipping remote novel with unsupported name", "name", e.Name())
				continue
			}
			t, err := s.load(e.Name())
			if err != nil {
				slog.WarnContext(ctx, "Skipping remote novel", "id", e.Name(), "err", err)
				continue
			}
			novels = append(novels, t.novel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(novels, func(a, b *models.Novel) int {
		return strings.Compare(a.Title, b.Title)
	})
	return novels, nil
}

// GetNovel returns a remote novel, recomputed from the live listing.
func (r *RemoteStore) GetNovel(ctx context.Context, id string) (*models.NovelDetail, error) {
	if err := checkName("novel", id); err != nil {
		return nil, err
	}
	var d *models.NovelDetail
	err := r.do(ctx, "get", func(s *davSession) error {
		t, err := s.load(id)
		if err != nil {
			return err
		}
		d = t.detail()
		return nil
	})
	return d, err
}

// CreateNovel creates a directory named after the title, spaces replaced by
// underscores, holding a Synopsis.md file.
func (r *RemoteStore) CreateNovel(ctx context.Context, in NovelInput) (*models.Novel, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if in.Cover != nil {
		return nil, fmt.Errorf("%w: covers cannot be uploaded to a remote novel", ErrInvalidArgument)
	}
	id := remoteID(title)
	if err := checkName("novel", id); err != nil {
		return nil, err
	}
	var n *models.Novel
	err := r.do(ctx, "create_novel", func(s *davSession) error {
		root := novelDir(id)
		if _, err := s.c.Stat(root); err == nil {
			return fmt.Errorf("%w: novel %q already exists", ErrConflict, id)
		} else if statusOf(err) != http.StatusNotFound {
			return classify("stat", root, err)
		}
		if err := s.c.Mkdir(root, 0o755); err != nil {
			return classify("mkdir", root, err)
		}
		p := root + SynopsisChapter + chapterExt
		if err := s.c.Write(p, []byte(in.Synopsis), 0o644); err != nil {
			return classify("write", p, err)
		}
		t, err := s.load(id)
		if err != nil {
			return err
		}
		n = t.novel()
		return nil
	})
	return n, err
}

// UpdateNovel rewrites Synopsis.md and renames the directory on a title
// change. The returned novel carries the new id.
func (r *RemoteStore) UpdateNovel(ctx context.Context, id string, up NovelUpdate) (*models.Novel, error) {
	if err := checkName("novel", id); err != nil {
		return nil, err
	}
	if up.Cover != nil {
		return nil, fmt.Errorf("%w: covers cannot be uploaded to a remote novel", ErrInvalidArgument)
	}
	newID := id
	if up.Title != nil {
		title := strings.TrimSpace(*up.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
		}
		newID = remoteID(title)
		if err := checkName("novel", newID); err != nil {
			return nil, err
		}
	}
	var n *models.Novel
	err := r.do(ctx, "update_novel", func(s *davSession) error {
		root := novelDir(id)
		if _, err := s.c.Stat(root); err != nil {
			return classify("stat", root, err)
		}
		if up.Synopsis != nil {
			p := root + SynopsisChapter + chapterExt
			if err := s.c.Write(p, []byte(*up.Synopsis), 0o644); err != nil {
				return classify("write", p, err)
			}
		}
		if newID != id {
			if err := s.c.Rename(root, novelDir(newID), false); err != nil {
				return classify("rename", root, err)
			}
		}
		t, err := s.load(newID)
		if err != nil {
			return err
		}
		n = t.novel()
		return nil
	})
	return n, err
}

// DeleteNovel removes a remote novel. Deleting a missing novel succeeds.
func (r *RemoteStore) DeleteNovel(ctx context.Context, id string) error {
	if err := checkName("novel", id); err != nil {
		return err
	}
	return r.do(ctx, "delete_novel", func(s *davSession) error {
		err := classify("delete", novelDir(id), s.c.RemoveAll(novelDir(id)))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}

// CreateBook creates a subdirectory. Main always exists.
func (r *RemoteStore) CreateBook(ctx context.Context, id, book string) error {
	if err := checkRemoteBook(id, book); err != nil {
		return err
	}
	return r.do(ctx, "create_book", func(s *davSession) error {
		root := novelDir(id)
		if _, err := s.c.Stat(root); err != nil {
			return classify("stat", root, err)
		}
		if book == MainBook {
			return nil
		}
		return classify("mkdir", bookDir(id, book), s.c.Mkdir(bookDir(id, book), 0o755))
	})
}

// DeleteBook removes a subdirectory. Deleting Main removes the text files at
// the novel's root and a literal Main subdirectory.
func (r *RemoteStore) DeleteBook(ctx context.Context, id, book string) error {
	if err := checkRemoteBook(id, book); err != nil {
		return err
	}
	return r.do(ctx, "delete_book", func(s *davSession) error {
		dir := bookDir(id, book)
		entries, err := s.c.ReadDir(dir)
		if err != nil {
			return classify("list", dir, err)
		}
		if book != MainBook {
			return classify("delete", dir, s.c.RemoveAll(dir))
		}
		for _, e := range entries {
			if e.IsDir() && e.Name() == MainBook {
				if err := s.c.RemoveAll(mainSubdir(id)); err != nil {
					return classify("delete", mainSubdir(id), err)
				}
				continue
			}
			if _, ok := cutTextExt(e.Name()); ok && !e.IsDir() {
				if err := s.c.Remove(dir + e.Name()); err != nil {
					return classify("delete", dir+e.Name(), err)
				}
			}
		}
		return nil
	})
}

// CreateChapter writes an empty .md file unless the chapter exists in
// either format.
func (r *RemoteStore) CreateChapter(ctx context.Context, id, book, chapter string) error {
	if err := checkRemoteChapter(id, book, chapter); err != nil {
		return err
	}
	return r.do(ctx, "create_chapter", func(s *davSession) error {
		dir := bookDir(id, book)
		if _, err := s.c.Stat(dir); err != nil {
			return classify("stat", dir, err)
		}
		base, ext, exists, err := s.locate(id, book, chapter)
		if err != nil || exists {
			return err
		}
		return classify("write", base+ext, s.c.Write(base+ext, nil, 0o644))
	})
}

// DeleteChapter removes a chapter in whichever format it exists.
func (r *RemoteStore) DeleteChapter(ctx context.Context, id, book, chapter string) error {
	if err := checkRemoteChapter(id, book, chapter); err != nil {
		return err
	}
	return r.do(ctx, "delete_chapter", func(s *davSession) error {
		base, ext, exists, err := s.locate(id, book, chapter)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: chapter %q", ErrNotFound, chapter)
		}
		return classify("delete", base+ext, s.c.Remove(base+ext))
	})
}

// ReadChapter reads <chapter>.md, falling back to <chapter>.txt.
func (r *RemoteStore) ReadChapter(ctx context.Context, id, book, chapter string) (string, error) {
	if err := checkRemoteChapter(id, book, chapter); err != nil {
		return "", err
	}
	var content string
	err := r.do(ctx, "read_chapter", func(s *davSession) error {
		base, ext, exists, err := s.locate(id, book, chapter)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: chapter %q", ErrNotFound, chapter)
		}
		raw, err := s.c.Read(base + ext)
		if err != nil {
			return classify("read", base+ext, err)
		}
		content = string(raw)
		return nil
	})
	return content, err
}

// WriteChapter writes to the existing file of the chapter, .md first, or
// creates a .md file.
//
// The existence probe races with concurrent external changes; the remote
// store is assumed to have a single writer.
func (r *RemoteStore) WriteChapter(ctx context.Context, id, book, chapter, content string) error {
	if err := checkRemoteChapter(id, book, chapter); err != nil {
		return err
	}
	return r.do(ctx, "write_chapter", func(s *davSession) error {
		base, ext, _, err := s.locate(id, book, chapter)
		if err != nil {
			return err
		}
		return classify("write", base+ext, s.c.Write(base+ext, []byte(content), 0o644))
	})
}

// ReadCover returns a cover image of a remote novel, for the same-origin
// proxy. file must look like a cover image.
func (r *RemoteStore) ReadCover(ctx context.Context, id, file string) ([]byte, error) {
	if err := checkName("novel", id); err != nil {
		return nil, err
	}
	if err := checkName("cover", file); err != nil {
		return nil, err
	}
	if !coverRE.MatchString(file) {
		return nil, fmt.Errorf("%w: %q is not a cover image", ErrInvalidArgument, file)
	}
	var raw []byte
	err := r.do(ctx, "cover", func(s *davSession) error {
		var err error
		raw, err = s.c.Read(novelDir(id) + file)
		return classify("read", novelDir(id)+file, err)
	})
	return raw, err
}

// locate returns the path without extension and the extension of a chapter.
// A Main chapter missing from the novel's root is looked up in a literal Main
// subdirectory. A chapter found nowhere resolves to a new .md file in the
// book's directory.
func (s *davSession) locate(id, book, chapter string) (string, string, bool, error) {
	base := bookDir(id, book) + chapter
	ext, exists, err := s.resolveExt(base)
	if err != nil || exists || book != MainBook {
		return base, ext, exists, err
	}
	alt := mainSubdir(id) + chapter
	altExt, ok, err := s.resolveExt(alt)
	if err != nil || !ok {
		return base, ext, false, err
	}
	return alt, altExt, true, nil
}

// resolveExt returns the extension of the existing file for base, .md
// first. It returns .md when neither exists.
func (s *davSession) resolveExt(base string) (string, bool, error) {
	for _, ext := range []string{chapterExt, ".txt"} {
		_, err := s.c.Stat(base + ext)
		if err == nil {
			return ext, true, nil
		}
		if statusOf(err) != http.StatusNotFound {
			return "", false, classify("stat", base+ext, err)
		}
	}
	return chapterExt, false, nil
}

// remoteFile is a chapter file of a remote novel.
type remoteFile struct {
	book string
	name string
	path string
	mod  time.Time
	text string
}

// remoteTree is a remote novel as listed from the server.
type remoteTree struct {
	id    string
	cover string
	// mainDir is set when the novel has a literal Main subdirectory; its
	// chapters belong to the Main book along with the root files.
	mainDir bool
	subdirs []string
	files   []*remoteFile
}

// load lists a novel and reads every chapter, in parallel.
func (s *davSession) load(id string) (*remoteTree, error) {
	root := novelDir(id)
	entries, err := s.c.ReadDir(root)
	if err != nil {
		return nil, classify("list", root, err)
	}
	t := &remoteTree{id: id}
	var rootFiles []os.FileInfo
	for _, e := range entries {
		switch {
		case e.IsDir():
			if e.Name() == MainBook {
				t.mainDir = true
			} else if IsValidFilename(e.Name()) {
				t.subdirs = append(t.subdirs, e.Name())
			}
		case t.cover == "" && coverRE.MatchString(e.Name()):
			t.cover = "/litewriter/cover/" + url.PathEscape(id) + "/" + url.PathEscape(e.Name())
		default:
			rootFiles = append(rootFiles, e)
		}
	}
	slices.Sort(t.subdirs)
	t.files = chapterFiles(MainBook, root, rootFiles)
	if t.mainDir {
		dir := mainSubdir(id)
		infos, err := s.c.ReadDir(dir)
		if err != nil {
			return nil, classify("list", dir, err)
		}
		t.files = mergeChapters(t.files, chapterFiles(MainBook, dir, infos))
	}
	for _, sub := range t.subdirs {
		dir := bookDir(id, sub)
		infos, err := s.c.ReadDir(dir)
		if err != nil {
			return nil, classify("list", dir, err)
		}
		t.files = append(t.files, chapterFiles(sub, dir, infos)...)
	}

	g, ctx := errgroup.WithContext(s.ctx)
	g.SetLimit(remoteConcurrency)
	for _, f := range t.files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := s.c.Read(f.path)
			if err != nil {
				return classify("read", f.path, err)
			}
			f.text = string(raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return t, nil
}

// chapterFiles keeps the text files of a directory, one per chapter name,
// preferring .md over .txt.
func chapterFiles(book, dir string, infos []os.FileInfo) []*remoteFile {
	byName := map[string]*remoteFile{}
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		name, ok := cutTextExt(fi.Name())
		if !ok {
			continue
		}
		if prev, ok := byName[name]; ok && strings.HasSuffix(prev.path, chapterExt) {
			continue
		}
		byName[name] = &remoteFile{book: book, name: name, path: dir + fi.Name(), mod: fi.ModTime()}
	}
	out := make([]*remoteFile, 0, len(byName))
	for _, f := range byName {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *remoteFile) int { return strings.Compare(a.name, b.name) })
	return out
}

// mergeChapters appends the chapters of extra not already in files.
func mergeChapters(files, extra []*remoteFile) []*remoteFile {
	for _, f := range extra {
		if !slices.ContainsFunc(files, func(g *remoteFile) bool { return g.book == f.book && g.name == f.name }) {
			files = append(files, f)
		}
	}
	return files
}

func (t *remoteTree) novel() *models.Novel {
	n := &models.Novel{
		ID:     t.id,
		Title:  strings.ReplaceAll(t.id, "_", " "),
		Cover:  DefaultCover,
		Remote: true,
	}
	if t.cover != "" {
		n.Cover = t.cover
	}
	books := map[string]*BookListing{}
	var listing []*BookListing
	add := func(name string) *BookListing {
		b := &BookListing{Name: name}
		books[name] = b
		listing = append(listing, b)
		return b
	}
	var synopsis, intro *remoteFile
	for _, f := range t.files {
		b := books[f.book]
		if b == nil {
			b = add(f.book)
		}
		b.Chapters = append(b.Chapters, f.text)
		if f.book == MainBook && strings.HasSuffix(f.path, chapterExt) {
			switch f.name {
			case SynopsisChapter:
				synopsis = f
			case IntroChapter:
				intro = f
			}
		}
		if n.Created.IsZero() || f.mod.Before(n.Created) {
			n.Created = f.mod
		}
		if f.mod.After(n.LastModified) {
			n.LastModified = f.mod
		}
	}
	if t.mainDir && books[MainBook] == nil {
		add(MainBook)
	}
	for _, sub := range t.subdirs {
		if books[sub] == nil {
			add(sub)
		}
	}
	flat := make([]BookListing, 0, len(listing))
	for _, b := range listing {
		flat = append(flat, *b)
	}
	st := Aggregate(flat)
	n.WordCount = st.WordCount
	n.BookCount = max(st.BookCount, 1)
	switch {
	case synopsis != nil:
		n.Synopsis = synopsis.text
	case intro != nil:
		n.Synopsis = intro.text
	}
	return n
}

func (t *remoteTree) detail() *models.NovelDetail {
	d := &models.NovelDetail{Novel: *t.novel(), Books: []models.Book{}}
	chapters := map[string][]models.Chapter{}
	for _, f := range t.files {
		chapters[f.book] = append(chapters[f.book], models.Chapter{
			Name:         f.name,
			WordCount:    CountWords(f.text),
			LastModified: f.mod,
		})
	}
	if lead := chapters[MainBook]; len(lead) != 0 || t.mainDir {
		if lead == nil {
			lead = []models.Chapter{}
		}
		d.Books = append(d.Books, models.Book{Name: MainBook, Chapters: lead})
	}
	for _, sub := range t.subdirs {
		chs := chapters[sub]
		if chs == nil {
			chs = []models.Chapter{}
		}
		d.Books = append(d.Books, models.Book{Name: sub, Chapters: chs})
	}
	for i := range d.Books {
		sortChapters(d.Books[i].Chapters, remoteLead(d.Books[i].Chapters))
	}
	sortBooks(d.Books)
	return d
}

// remoteLead returns the chapter sorted first: Synopsis, else Intro.
func remoteLead(chapters []models.Chapter) string {
	for _, c := range chapters {
		if c.Name == SynopsisChapter {
			return SynopsisChapter
		}
	}
	return IntroChapter
}

func cutTextExt(name string) (string, bool) {
	if base, ok := strings.CutSuffix(name, chapterExt); ok {
		return base, true
	}
	return strings.CutSuffix(name, ".txt")
}

func remoteID(title string) string {
	return strings.ReplaceAll(title, " ", "_")
}

func novelDir(id string) string {
	return "/" + id + "/"
}

// bookDir returns the directory of a book; Main is the novel's root.
func bookDir(id, book string) string {
	if book == MainBook {
		return novelDir(id)
	}
	return novelDir(id) + book + "/"
}

// mainSubdir is a literal Main directory inside a novel.
func mainSubdir(id string) string {
	return novelDir(id) + MainBook + "/"
}

func checkRemoteBook(id, book string) error {
	if err := checkName("novel", id); err != nil {
		return err
	}
	return checkName("book", book)
}

func checkRemoteChapter(id, book, chapter string) error {
	if err := checkRemoteBook(id, book); err != nil {
		return err
	}
	return checkName("chapter", chapter)
}

// statusOf returns the HTTP status carried by a WebDAV client error, or 0.
func statusOf(err error) int {
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// classify maps a WebDAV client error to the store error kinds.
func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	switch statusOf(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrAuth, op, p)
	case http.StatusMethodNotAllowed, http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s already exists", ErrConflict, p)
	default:
		return fmt.Errorf("%w: %s %s: %w", ErrTransientNetwork, op, p, err)
	}
}

func remoteResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrTransientNetwork):
		return "transient"
	default:
		return "error"
	}
}
