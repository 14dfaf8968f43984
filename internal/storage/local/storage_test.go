package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/formyhq/editflow/internal/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dir := t.TempDir()
	s, err := NewStorage(filepath.Join(dir, "uploads"), filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return s
}

func TestSaveUploadAndResolve(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	path, err := s.SaveUpload(ctx, "source", "abc123.jpg", strings.NewReader("image-bytes"))
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("saved file missing: %v", err)
	}

	got, err := s.Resolve(ctx, "abc123")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != path {
		t.Errorf("Resolve = %s, want %s", got, path)
	}
}

func TestResolve_SearchesAllKinds(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.SaveUpload(ctx, "reference", "ref1.png", strings.NewReader("x")); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}

	if _, err := s.Resolve(ctx, "ref1"); err != nil {
		t.Errorf("Resolve from reference kind: %v", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Resolve(context.Background(), "nope")
	if !errors.Is(err, storage.ErrFileNotFound) {
		t.Fatalf("Resolve = %v, want ErrFileNotFound", err)
	}

	_, err = s.Resolve(context.Background(), "")
	if !errors.Is(err, storage.ErrFileNotFound) {
		t.Fatalf("Resolve with empty id = %v, want ErrFileNotFound", err)
	}
}

func TestSaveResultAndCopy(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	path, err := s.SaveResult(ctx, "out.jpg", []byte("result-bytes"))
	if err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(data) != "result-bytes" {
		t.Errorf("result content = %q", data)
	}

	copied, err := s.CopyToResults(ctx, path, "copy.jpg")
	if err != nil {
		t.Fatalf("CopyToResults: %v", err)
	}
	if _, err := os.Stat(copied); err != nil {
		t.Errorf("copied file missing: %v", err)
	}

	if got := s.ResultURL("out.jpg"); got != "/results/out.jpg" {
		t.Errorf("ResultURL = %s, want /results/out.jpg", got)
	}
}
