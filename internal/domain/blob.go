package domain

import (
	"context"
	"io"
	"time"
)

// Content types used for archived documents.
const (
	ContentTypeJSON = "application/json"
	ContentTypeJSONL = "application/x-ndjson"
)

// BlobInfo is the listing entry for one archived object, such as a history
// CSV under the configured prefix.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobReader is the read side of the object store. History loaders fetch
// series through Get; the result archiver checks Exists before uploading.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// BlobWriter is the write side of the object store. PutMultipart is for
// payloads large enough to need a chunked upload; partSize is a lower bound.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobStore is an object store that can be both read and written.
type BlobStore interface {
	BlobReader
	BlobWriter
}
