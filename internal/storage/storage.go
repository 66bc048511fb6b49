// Package storage mirrors completed downloads to S3 compatible object storage.
package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// UploadOptions conveys per upload metadata.
type UploadOptions struct {
	ContentType      string
	ProgressCallback func(done, total int64)
}

// Service stores files in a single bucket.
type Service interface {
	UploadFile(ctx context.Context, localPath, key string, opts UploadOptions) (string, error)
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, prefix string) error
	ObjectURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
