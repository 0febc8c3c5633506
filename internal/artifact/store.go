package artifact

import (
	"context"
	"time"
)

// FetchRequest asks a store for one file.
type FetchRequest struct {
	// Revision pins the download to the token the refresh will record.
	// Empty means the store's current content.
	Revision string
	RemoteID string
	DestDir  string
}

// Store is a remote artifact repository.
type Store interface {
	// Name identifies the store in logs, e.g. "hub:owner/repo".
	Name() string

	// Revision returns the token describing the remote content, or
	// ErrRevisionUnavailable if the store cannot tell.
	Revision(ctx context.Context) (string, error)

	// Fetch downloads one file somewhere under req.DestDir and returns the
	// path it was written to. The path need not equal the final location.
	Fetch(ctx context.Context, req FetchRequest) (string, error)

	Close() error
}

// Publisher is implemented by stores that accept uploads.
type Publisher interface {
	Publish(ctx context.Context, localPath, remoteID string) error
	SetRevision(ctx context.Context, token string) error
}

// Observer receives lifecycle events, typically to export metrics.
type Observer interface {
	RecordDownload(name string, bytes int64, d time.Duration, err error)
	RecordRefresh(reason string)
	RecordDigest(name string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordDownload(string, int64, time.Duration, error) {}
func (nopObserver) RecordRefresh(string)                              {}
func (nopObserver) RecordDigest(string, time.Duration)                {}
