package archive

import (
	"context"
	"time"

	"github.com/JakeFAU/discourse-archiver/internal/fetcher"
)

// Fetcher performs one GET with the transport's retry policy applied.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetcher.Response, error)
}

// FileStore persists archive files relative to the archive root.
type FileStore interface {
	Write(rel string, data []byte) error
	Read(rel string) ([]byte, error)
	Exists(rel string) bool
	IsDir(rel string) bool
	MkdirAll(rel string) error
	Remove(rel string) error
}

// Clock returns the current time and sleeps cancellably.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
