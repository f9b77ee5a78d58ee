package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver copies the position ledger to cold storage.
type Archiver interface {
	ArchiveLedger(ctx context.Context) (path string, n int, err error)
}
