package history

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRecordAndLog(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, "novelist", "novelist@localhost")
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()

	commits, err := r.Log(ctx, "1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 0 {
		t.Fatalf("empty repo has %d commits", len(commits))
	}

	writeFile(t, dir, "1/meta.json", `{"title":"One"}`)
	if err := r.Record(ctx, "1: create novel"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "2/meta.json", `{"title":"Two"}`)
	if err := r.Record(ctx, "2: create novel"); err != nil {
		t.Fatal(err)
	}
	// Nothing changed.
	if err := r.Record(ctx, "1: noop"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "1/Main/Ch1.md", "text")
	if err := r.Record(ctx, "1: edit chapter Main/Ch1"); err != nil {
		t.Fatal(err)
	}

	commits, err = r.Log(ctx, "1", 0)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range commits {
		got = append(got, c.Message)
	}
	want := []string{"1: edit chapter Main/Ch1", "1: create novel"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Log(1) = %q, want %q", got, want)
	}
	if commits[0].Hash == "" || commits[0].Timestamp.IsZero() {
		t.Errorf("commit = %+v", commits[0])
	}

	if commits, err = r.Log(ctx, "1", 1); err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 || commits[0].Message != want[0] {
		t.Errorf("Log(1, limit 1) = %+v", commits)
	}
	if commits, err = r.Log(ctx, "2", 0); err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 {
		t.Errorf("Log(2) returned %d commits, want 1", len(commits))
	}
	// "1" must not match "10".
	writeFile(t, dir, "10/meta.json", `{}`)
	if err := r.Record(ctx, "10: create novel"); err != nil {
		t.Fatal(err)
	}
	if commits, err = r.Log(ctx, "1", 0); err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Errorf("Log(1) returned %d commits after creating 10, want 2", len(commits))
	}
}

func TestRecordDeletion(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, "novelist", "novelist@localhost")
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	writeFile(t, dir, "5/meta.json", `{}`)
	if err := r.Record(ctx, "5: create novel"); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(dir, "5")); err != nil {
		t.Fatal(err)
	}
	if err := r.Record(ctx, "5: delete novel"); err != nil {
		t.Fatal(err)
	}
	commits, err := r.Log(ctx, "5", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 || commits[0].Message != "5: delete novel" {
		t.Errorf("Log(5) = %+v", commits)
	}

	// Reopening an existing repository keeps its history.
	r2, err := Open(dir, "other", "other@localhost")
	if err != nil {
		t.Fatal(err)
	}
	if commits, err = r2.Log(ctx, "5", 0); err != nil || len(commits) != 2 {
		t.Errorf("reopened Log(5) = %d commits, %v", len(commits), err)
	}
}
