// Package storage defines the file storage contract consumed by the
// pipelines and the upload handler. Uploaded images are addressed by an
// opaque file id; result artifacts are addressed by filename.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrFileNotFound is returned when no stored file matches the given id.
var ErrFileNotFound = errors.New("file not found")

// Upload subdirectories an uploaded file may land in.
var UploadKinds = []string{"source", "reference", "other"}

// Storage resolves uploaded files to local paths and persists result
// artifacts. Engines work on local files, so every backend must be able
// to materialize a stored object on local disk.
type Storage interface {
	// Resolve returns a local filesystem path for an uploaded file id.
	Resolve(ctx context.Context, fileID string) (string, error)

	// SaveUpload stores an uploaded file under the given kind
	// ("source", "reference", "other") and returns its path.
	SaveUpload(ctx context.Context, kind, filename string, src io.Reader) (string, error)

	// SaveResult stores raw result bytes under filename and returns the
	// stored path.
	SaveResult(ctx context.Context, filename string, data []byte) (string, error)

	// CopyToResults copies a local file into result storage under filename
	// and returns the stored path.
	CopyToResults(ctx context.Context, srcPath, filename string) (string, error)

	// ResultURL returns the URL path under which a result artifact is served.
	ResultURL(filename string) string
}
