package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves aged observations from the database to cold storage.
type Archiver interface {
	ArchiveGapObservations(ctx context.Context, before time.Time) (int64, error)
}
