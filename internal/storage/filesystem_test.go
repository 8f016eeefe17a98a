package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	key, err := store.Write(context.Background(), "/jobs/../jobs/42/out.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if key != "jobs/42/out.txt" {
		t.Fatalf("Write() key = %q", key)
	}
	got, err := store.Read(context.Background(), key)
	if err != nil || string(got) != "hello" {
		t.Fatalf("Read() = %q, %v", got, err)
	}
	if _, err := store.Read(context.Background(), "jobs/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "..", "../escape", "a/../../b"} {
		if _, err := store.Write(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("Write(%q) expected error", key)
		}
	}
}

func TestSaveResultReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	key, err := store.SaveResult(ctx, "job-1", []byte("png"), "image/png")
	if err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	if key != "job-1/result.png" {
		t.Fatalf("SaveResult() key = %q", key)
	}

	key, err = store.SaveResult(ctx, "job-1", []byte(`{"ok":true}`), "application/json; charset=utf-8")
	if err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	if key != "job-1/result.json" {
		t.Fatalf("SaveResult() key = %q", key)
	}
	if _, err := os.Stat(filepath.Join(dir, "job-1", "result.png")); !os.IsNotExist(err) {
		t.Fatalf("previous result should be removed, stat err = %v", err)
	}

	found, err := store.FindResult("job-1")
	if err != nil || found != "job-1/result.json" {
		t.Fatalf("FindResult() = %q, %v", found, err)
	}
	if _, err := store.FindResult("job-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindResult(job-2) error = %v", err)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":               ".jpg",
		"text/plain; charset=utf8": ".txt",
		"":                         ".bin",
		"application/x-unknown-42": ".bin",
	}
	for ct, want := range tests {
		if got := extensionFor(ct); got != want {
			t.Fatalf("extensionFor(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestURL(t *testing.T) {
	if got := URL("http://localhost:8080/results/", "/job-1/result.png"); got != "http://localhost:8080/results/job-1/result.png" {
		t.Fatalf("URL() = %q", got)
	}
	if got := URL("", "a/b"); got != "/a/b" {
		t.Fatalf("URL() = %q", got)
	}
}
