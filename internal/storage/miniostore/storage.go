package miniostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/formyhq/editflow/internal/storage"
)

// Storage provides an S3-compatible storage backend using MinIO.
// Objects are keyed uploads/<kind>/<name> and results/<name>. Engines need
// local files, so Resolve stages objects into a scratch directory.
type Storage struct {
	client     *minio.Client
	bucketName string
	scratchDir string
}

// NewStorage creates a new Storage connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName, scratchDir string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if err := os.MkdirAll(scratchDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	return &Storage{client: client, bucketName: bucketName, scratchDir: scratchDir}, nil
}

// Resolve finds the uploaded object matching the file id and downloads it
// into the scratch directory, returning the local path.
func (s *Storage) Resolve(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", fmt.Errorf("empty file id: %w", storage.ErrFileNotFound)
	}

	for _, kind := range storage.UploadKinds {
		prefix := filepath.Join("uploads", kind, fileID)
		for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: prefix}) {
			if obj.Err != nil {
				return "", fmt.Errorf("failed to list objects: %w", obj.Err)
			}

			localPath := filepath.Join(s.scratchDir, filepath.Base(obj.Key))
			if err := s.client.FGetObject(ctx, s.bucketName, obj.Key, localPath, minio.GetObjectOptions{}); err != nil {
				return "", fmt.Errorf("failed to fetch object %s: %w", obj.Key, err)
			}
			return localPath, nil
		}
	}

	return "", fmt.Errorf("%s: %w", fileID, storage.ErrFileNotFound)
}

// SaveUpload streams the uploaded file into the bucket.
func (s *Storage) SaveUpload(ctx context.Context, kind, filename string, src io.Reader) (string, error) {
	objectName := filepath.Join("uploads", kind, filename)

	_, err := s.client.PutObject(ctx, s.bucketName, objectName, src, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}

	return objectName, nil
}

// SaveResult stores raw result bytes as a result object.
func (s *Storage) SaveResult(ctx context.Context, filename string, data []byte) (string, error) {
	objectName := filepath.Join("results", filename)

	_, err := s.client.PutObject(ctx, s.bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save result: %w", err)
	}

	return objectName, nil
}

// CopyToResults uploads a local file as a result object.
func (s *Storage) CopyToResults(ctx context.Context, srcPath, filename string) (string, error) {
	objectName := filepath.Join("results", filename)

	_, err := s.client.FPutObject(ctx, s.bucketName, objectName, srcPath, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy result: %w", err)
	}

	return objectName, nil
}

// ResultURL returns the public URL path for a result artifact.
func (s *Storage) ResultURL(filename string) string {
	return "/results/" + filename
}
