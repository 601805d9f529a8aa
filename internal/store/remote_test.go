package store

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/studio-b12/gowebdav"
	"golang.org/x/net/webdav"

	"github.com/maruel/novelist/internal/models"
)

type fakeConfigs struct {
	cfg RemoteConfig
	err error
}

func (f *fakeConfigs) RemoteConfig(ctx context.Context, userID int64) (RemoteConfig, error) {
	return f.cfg, f.err
}

// newTestRemote returns a remote store backed by an in-memory WebDAV server
// and a context carrying a user.
func newTestRemote(t *testing.T) (*RemoteStore, webdav.FileSystem, context.Context) {
	t.Helper()
	fs := webdav.NewMemFS()
	srv := httptest.NewServer(&webdav.Handler{FileSystem: fs, LockSystem: webdav.NewMemLS()})
	t.Cleanup(srv.Close)
	r := NewRemoteStore(&fakeConfigs{cfg: RemoteConfig{Enabled: true, URL: srv.URL}}, 5*time.Second)
	ctx := models.WithUser(t.Context(), &models.User{ID: 1, Username: "alice"})
	return r, fs, ctx
}

func putFile(t *testing.T, fs webdav.FileSystem, name, content string) {
	t.Helper()
	ctx := context.Background()
	dir := "/"
	for _, part := range strings.Split(strings.Trim(path.Dir(name), "/"), "/") {
		if part == "" {
			continue
		}
		dir = path.Join(dir, part)
		if err := fs.Mkdir(ctx, dir, 0o755); err != nil && !os.IsExist(err) {
			t.Fatal(err)
		}
	}
	f, err := fs.OpenFile(ctx, name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func getFile(t *testing.T, fs webdav.FileSystem, name string) (string, bool) {
	t.Helper()
	f, err := fs.OpenFile(context.Background(), name, os.O_RDONLY, 0)
	if err != nil {
		return "", false
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw), true
}

func seedRemote(t *testing.T, fs webdav.FileSystem) {
	putFile(t, fs, "/My_Novel/Synopsis.md", "A desert planet.")
	putFile(t, fs, "/My_Novel/Intro.txt", "hello there")
	putFile(t, fs, "/My_Novel/cover.png", "png")
	putFile(t, fs, "/My_Novel/notes.pdf", "ignored")
	putFile(t, fs, "/My_Novel/Book2/Ch1.txt", "one two")
	putFile(t, fs, "/My_Novel/Book2/Ch1.md", "one two three")
}

func TestRemoteNotConfigured(t *testing.T) {
	r, _, ctx := newTestRemote(t)
	if _, err := r.ListNovels(t.Context()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("without user: %v, want ErrNotConfigured", err)
	}

	disabled := NewRemoteStore(&fakeConfigs{cfg: RemoteConfig{URL: "http://localhost:1"}}, time.Second)
	if _, err := disabled.ListNovels(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("disabled: %v, want ErrNotConfigured", err)
	}
	noURL := NewRemoteStore(&fakeConfigs{cfg: RemoteConfig{Enabled: true}}, time.Second)
	if _, err := noURL.ReadChapter(ctx, "a", MainBook, "b"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no url: %v, want ErrNotConfigured", err)
	}
	var none *RemoteStore
	if err := none.DeleteNovel(ctx, "a"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("nil store: %v, want ErrNotConfigured", err)
	}
	broken := NewRemoteStore(&fakeConfigs{err: errors.New("db is gone")}, time.Second)
	if _, err := broken.ListNovels(ctx); err == nil || errors.Is(err, ErrNotConfigured) {
		t.Errorf("config error: %v", err)
	}
}

func TestRemoteListAndGet(t *testing.T) {
	r, fs, ctx := newTestRemote(t)
	seedRemote(t, fs)

	novels, err := r.ListNovels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != 1 {
		t.Fatalf("got %d novels, want 1", len(novels))
	}
	n := novels[0]
	if n.ID != "My_Novel" || n.Title != "My Novel" || !n.Remote {
		t.Errorf("novel = %+v", n)
	}
	if n.Cover != "/litewriter/cover/My_Novel/cover.png" {
		t.Errorf("Cover = %q", n.Cover)
	}
	if n.WordCount != 8 || n.BookCount != 2 {
		t.Errorf("counts = %d words, %d books; want 8, 2", n.WordCount, n.BookCount)
	}
	if n.Synopsis != "A desert planet." {
		t.Errorf("Synopsis = %q", n.Synopsis)
	}

	d, err := r.GetNovel(ctx, "My_Novel")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Books) != 2 || d.Books[0].Name != MainBook || d.Books[1].Name != "Book2" {
		t.Fatalf("Books = %+v", d.Books)
	}
	lead := d.Books[0].Chapters
	if len(lead) != 2 || lead[0].Name != SynopsisChapter || lead[1].Name != IntroChapter {
		t.Errorf("Main chapters = %+v", lead)
	}
	if chs := d.Books[1].Chapters; len(chs) != 1 || chs[0].WordCount != 3 {
		t.Errorf("Book2 chapters = %+v, want Ch1 from the .md file", chs)
	}

	if _, err := r.GetNovel(ctx, "Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNovel(missing) = %v, want ErrNotFound", err)
	}
	if _, err := r.GetNovel(ctx, "../etc"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("GetNovel(../etc) = %v, want ErrInvalidArgument", err)
	}
}

func TestRemoteIntroAsSynopsis(t *testing.T) {
	r, fs, ctx := newTestRemote(t)
	putFile(t, fs, "/Plain/Intro.md", "just an intro")
	putFile(t, fs, "/Plain/Ch2.md", "x")
	putFile(t, fs, "/Text/Intro.txt", "not a synopsis")
	putFile(t, fs, "/Text/Synopsis.txt", "neither")
	d, err := r.GetNovel(ctx, "Text")
	if err != nil {
		t.Fatal(err)
	}
	if d.Synopsis != "" {
		t.Errorf("Synopsis from .txt files = %q, want empty", d.Synopsis)
	}
	d, err = r.GetNovel(ctx, "Plain")
	if err != nil {
		t.Fatal(err)
	}
	if d.Synopsis != "just an intro" {
		t.Errorf("Synopsis = %q", d.Synopsis)
	}
	if d.BookCount != 1 || d.Cover != DefaultCover {
		t.Errorf("novel = %+v", d.Novel)
	}
	if chs := d.Books[0].Chapters; chs[0].Name != IntroChapter {
		t.Errorf("first chapter = %q, want %s", chs[0].Name, IntroChapter)
	}
}

func TestRemoteLiteralMainDir(t *testing.T) {
	r, fs, ctx := newTestRemote(t)
	putFile(t, fs, "/N/Synopsis.md", "one two three")
	putFile(t, fs, "/N/Main/Ch.md", "four five")
	putFile(t, fs, "/N/Main/Synopsis.md", "shadowed by the root file")

	d, err := r.GetNovel(ctx, "N")
	if err != nil {
		t.Fatal(err)
	}
	if d.WordCount != 5 || d.BookCount != 1 || d.Synopsis != "one two three" {
		t.Errorf("novel = %d words, %d books, synopsis %q; want 5, 1, %q", d.WordCount, d.BookCount, d.Synopsis, "one two three")
	}
	if len(d.Books) != 1 || d.Books[0].Name != MainBook {
		t.Fatalf("Books = %+v", d.Books)
	}
	var names []string
	for _, c := range d.Books[0].Chapters {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "Synopsis,Ch" {
		t.Errorf("Main chapters = %v, want [Synopsis Ch]", names)
	}

	if text, err := r.ReadChapter(ctx, "N", MainBook, "Ch"); err != nil || text != "four five" {
		t.Errorf("ReadChapter(Main, Ch) = %q, %v", text, err)
	}
	if err := r.WriteChapter(ctx, "N", MainBook, "Ch", "six"); err != nil {
		t.Fatal(err)
	}
	if got, _ := getFile(t, fs, "/N/Main/Ch.md"); got != "six" {
		t.Errorf("Main/Ch.md = %q", got)
	}
	if _, ok := getFile(t, fs, "/N/Ch.md"); ok {
		t.Error("Ch.md must not be created at the root")
	}
	if err := r.DeleteChapter(ctx, "N", MainBook, "Ch"); err != nil {
		t.Fatal(err)
	}
	if _, ok := getFile(t, fs, "/N/Main/Ch.md"); ok {
		t.Error("Main/Ch.md survived DeleteChapter")
	}

	// Only a Main directory, nothing at the root.
	putFile(t, fs, "/M/Main/A.md", "a b")
	d, err = r.GetNovel(ctx, "M")
	if err != nil {
		t.Fatal(err)
	}
	if d.WordCount != 2 || len(d.Books) != 1 || len(d.Books[0].Chapters) != 1 {
		t.Errorf("novel M = %d words, books %+v", d.WordCount, d.Books)
	}
	if err := r.DeleteBook(ctx, "M", MainBook); err != nil {
		t.Fatal(err)
	}
	if _, ok := getFile(t, fs, "/M/Main/A.md"); ok {
		t.Error("Main/A.md survived DeleteBook(Main)")
	}
}

func TestRemoteDotNames(t *testing.T) {
	r, fs, ctx := newTestRemote(t)
	putFile(t, fs, "/Keep/Synopsis.md", "keep me")
	putFile(t, fs, "/Keep/Part/Ch.md", "and me")
	if err := r.DeleteBook(ctx, "Keep", "."); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("DeleteBook(.) = %v, want ErrInvalidArgument", err)
	}
	if err := r.DeleteNovel(ctx, "."); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("DeleteNovel(.) = %v, want ErrInvalidArgument", err)
	}
	if err := r.DeleteChapter(ctx, "Keep", ".", SynopsisChapter); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("DeleteChapter(., Synopsis) = %v, want ErrInvalidArgument", err)
	}
	if err := r.CreateBook(ctx, ".", "Part"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("CreateBook(.) = %v, want ErrInvalidArgument", err)
	}
	for _, p := range []string{"/Keep/Synopsis.md", "/Keep/Part/Ch.md"} {
		if _, ok := getFile(t, fs, p); !ok {
			t.Errorf("%s was deleted", p)
		}
	}
}

func TestRemoteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	r := NewRemoteStore(&fakeConfigs{cfg: RemoteConfig{Enabled: true, URL: srv.URL}}, 200*time.Millisecond)
	ctx := models.WithUser(t.Context(), &models.User{ID: 1, Username: "alice"})

	start := time.Now()
	if _, err := r.ReadChapter(ctx, "N", MainBook, "Ch"); !errors.Is(err, ErrTransientNetwork) {
		t.Errorf("ReadChapter() = %v, want ErrTransientNetwork", err)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("ReadChapter() took %v", d)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := r.WriteChapter(canceled, "N", MainBook, "Ch", "x"); !errors.Is(err, ErrTransientNetwork) {
		t.Errorf("WriteChapter(canceled) = %v, want ErrTransientNetwork", err)
	}
}

func TestRemoteChapters(t *testing.T) {
	r, fs, ctx := newTestRemote(t)
	seedRemote(t, fs)

	text, err := r.ReadChapter(ctx, "My_Novel", MainBook, IntroChapter)
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello there" {
		t.Errorf("ReadChapter(.txt) = %q", text)
	}
	if text, err = r.ReadChapter(ctx, "My_Novel", "Book2", "Ch1"); err != nil || text != "one two three" {
		t.Errorf("ReadChapter(.md) = %q, %v", text, err)
	}
	if _, err := r.ReadChapter(ctx, "My_Novel", MainBook, "Nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadChapter(missing) = %v, want ErrNotFound", err)
	}

	// Writes go to the existing file, whatever its format.
	if err := r.WriteChapter(ctx, "My_Novel", MainBook, IntroChapter, "rewritten"); err != nil {
		t.Fatal(err)
	}
	if got, _ := getFile(t, fs, "/My_Novel/Intro.txt"); got != "rewritten" {
		t.Errorf("Intro.txt = %q", got)
	}
	if _, ok := getFile(t, fs, "/My_Novel/Intro.md"); ok {
		t.Error("Intro.md must not be created")
	}

	if err := r.CreateChapter(ctx, "My_Novel", "Book2", "Ch2"); err != nil {
		t.Fatal(err)
	}
	if got, ok := getFile(t, fs, "/My_Novel/Book2/Ch2.md"); !ok || got != "" {
		t.Errorf("Ch2.md = %q, %v", got, ok)
	}
	if err := r.DeleteChapter(ctx, "My_Novel", "Book2", "Ch2"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteChapter(ctx, "My_Novel", "Book2", "Ch2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteChapter(missing) = %v, want ErrNotFound", err)
	}
	if err := r.WriteChapter(ctx, "My_Novel", "Book2", "../x", "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("WriteChapter(../x) = %v, want ErrInvalidArgument", err)
	}
}

func TestRemoteNovelLifecycle(t *testing.T) {
	r, fs, ctx := newTestRemote(t)

	n, err := r.CreateNovel(ctx, NovelInput{Title: "The Book", Synopsis: "two words"})
	if err != nil {
		t.Fatal(err)
	}
	if n.ID != "The_Book" || n.Title != "The Book" || n.WordCount != 2 || n.BookCount != 1 {
		t.Errorf("CreateNovel() = %+v", n)
	}
	if got, _ := getFile(t, fs, "/The_Book/Synopsis.md"); got != "two words" {
		t.Errorf("Synopsis.md = %q", got)
	}
	if _, err := r.CreateNovel(ctx, NovelInput{Title: "The Book"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate CreateNovel() = %v, want ErrConflict", err)
	}
	if _, err := r.CreateNovel(ctx, NovelInput{Title: "X", Cover: &Upload{Path: "/tmp/x", Ext: ".png"}}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("CreateNovel(cover) = %v, want ErrInvalidArgument", err)
	}

	if err := r.CreateBook(ctx, "The_Book", "Part"); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateBook(ctx, "The_Book", "Part"); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate CreateBook() = %v, want ErrConflict", err)
	}
	if err := r.CreateBook(ctx, "The_Book", MainBook); err != nil {
		t.Errorf("CreateBook(Main) = %v", err)
	}
	if err := r.CreateBook(ctx, "Missing", "Part"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateBook(missing novel) = %v, want ErrNotFound", err)
	}
	if err := r.DeleteBook(ctx, "The_Book", "Part"); err != nil {
		t.Fatal(err)
	}

	title, synopsis := "New Title", "three more words"
	n, err = r.UpdateNovel(ctx, "The_Book", NovelUpdate{Title: &title, Synopsis: &synopsis})
	if err != nil {
		t.Fatal(err)
	}
	if n.ID != "New_Title" || n.WordCount != 3 {
		t.Errorf("UpdateNovel() = %+v", n)
	}
	if _, err := r.GetNovel(ctx, "The_Book"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNovel(old id) = %v, want ErrNotFound", err)
	}

	// Main is not protected on remote novels.
	if err := r.DeleteBook(ctx, "New_Title", MainBook); err != nil {
		t.Fatal(err)
	}
	if _, ok := getFile(t, fs, "/New_Title/Synopsis.md"); ok {
		t.Error("Synopsis.md survived the deletion of Main")
	}

	for range 2 {
		if err := r.DeleteNovel(ctx, "New_Title"); err != nil {
			t.Fatal(err)
		}
	}
	novels, err := r.ListNovels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != 0 {
		t.Errorf("got %d novels after delete", len(novels))
	}
}

func TestRemoteReadCover(t *testing.T) {
	r, fs, ctx := newTestRemote(t)
	seedRemote(t, fs)
	raw, err := r.ReadCover(ctx, "My_Novel", "cover.png")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "png" {
		t.Errorf("ReadCover() = %q", raw)
	}
	if _, err := r.ReadCover(ctx, "My_Novel", "notes.pdf"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ReadCover(pdf) = %v, want ErrInvalidArgument", err)
	}
	if _, err := r.ReadCover(ctx, "My_Novel", "cover.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadCover(missing) = %v, want ErrNotFound", err)
	}
}

func TestRemoteTestConnection(t *testing.T) {
	r, _, ctx := newTestRemote(t)
	cfg, err := r.configs.RemoteConfig(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.TestConnection(ctx, cfg); err != nil {
		t.Errorf("TestConnection() = %v", err)
	}
	if err := r.TestConnection(ctx, RemoteConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("TestConnection(empty) = %v, want ErrNotConfigured", err)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	if err := r.TestConnection(ctx, RemoteConfig{URL: url}); !errors.Is(err, ErrTransientNetwork) {
		t.Errorf("TestConnection(down) = %v, want ErrTransientNetwork", err)
	}
}

func TestClassify(t *testing.T) {
	wrap := func(status int) error {
		return &os.PathError{Op: "PROPFIND", Path: "/x", Err: gowebdav.StatusError{Status: status}}
	}
	tests := []struct {
		err  error
		want error
	}{
		{wrap(http.StatusNotFound), ErrNotFound},
		{wrap(http.StatusUnauthorized), ErrAuth},
		{wrap(http.StatusForbidden), ErrAuth},
		{wrap(http.StatusMethodNotAllowed), ErrConflict},
		{wrap(http.StatusInternalServerError), ErrTransientNetwork},
		{errors.New("connection refused"), ErrTransientNetwork},
	}
	for _, tt := range tests {
		if got := classify("op", "/x", tt.err); !errors.Is(got, tt.want) {
			t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if classify("op", "/x", nil) != nil {
		t.Error("classify(nil) != nil")
	}
}
