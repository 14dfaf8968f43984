package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/formyhq/editflow/internal/storage"
)

// Storage provides a simple file-based storage backend.
// Uploads live under uploadDir/{source,reference,other}; result artifacts
// under resultDir.
type Storage struct {
	uploadDir string
	resultDir string
}

// NewStorage creates a new Storage rooted at the given directories,
// creating them if needed.
func NewStorage(uploadDir, resultDir string) (*Storage, error) {
	for _, dir := range []string{uploadDir, resultDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Storage{uploadDir: uploadDir, resultDir: resultDir}, nil
}

// Resolve locates an uploaded file by id. The id is the stored filename
// without its extension; the known upload subdirectories are searched
// first, then the whole upload tree.
func (s *Storage) Resolve(_ context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", fmt.Errorf("empty file id: %w", storage.ErrFileNotFound)
	}

	for _, kind := range storage.UploadKinds {
		matches, err := filepath.Glob(filepath.Join(s.uploadDir, kind, fileID+".*"))
		if err == nil && len(matches) > 0 {
			return matches[0], nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(s.uploadDir, "*", fileID+".*"))
	if err == nil && len(matches) > 0 {
		return matches[0], nil
	}

	return "", fmt.Errorf("%s: %w", fileID, storage.ErrFileNotFound)
}

// SaveUpload stores the uploaded file under the given kind subdirectory.
func (s *Storage) SaveUpload(_ context.Context, kind, filename string, src io.Reader) (string, error) {
	dir := filepath.Join(s.uploadDir, kind)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dstPath := filepath.Join(dir, filename)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return dstPath, nil
}

// SaveResult writes raw result bytes into the result directory.
func (s *Storage) SaveResult(_ context.Context, filename string, data []byte) (string, error) {
	dstPath := filepath.Join(s.resultDir, filename)
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result %s: %w", dstPath, err)
	}
	return dstPath, nil
}

// CopyToResults copies a local file into the result directory.
func (s *Storage) CopyToResults(_ context.Context, srcPath, filename string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source %s: %w", srcPath, err)
	}
	defer src.Close()

	dstPath := filepath.Join(s.resultDir, filename)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create result %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy result %s: %w", dstPath, err)
	}

	return dstPath, nil
}

// ResultURL returns the public URL path for a result artifact.
func (s *Storage) ResultURL(filename string) string {
	return "/results/" + filename
}

// ResultDir returns the directory result artifacts are written to.
// The HTTP layer serves it as static content.
func (s *Storage) ResultDir() string {
	return s.resultDir
}
