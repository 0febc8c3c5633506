package stores

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/orthovision/orthovision/internal/artifact"
	enhancederrors "github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
)

// Local mirrors artifacts from a directory, typically a mounted share.
type Local struct {
	root string
	log  logger.Logger
}

// NewLocal creates a local directory store rooted at root.
func NewLocal(root string, lg logger.Logger) (*Local, error) {
	if root == "" {
		return nil, enhancederrors.Newf("local: path is required").
			Component("artifact-store").
			Category(enhancederrors.CategoryConfiguration).
			Build()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local: resolve %s: %w", root, err)
	}
	if lg == nil {
		lg = GetLogger()
	}
	return &Local{root: abs, log: lg.With(logString("store", "local"), logString("root", abs))}, nil
}

// Name returns the store identifier.
func (l *Local) Name() string {
	return "local:" + l.root
}

// Revision reads the revision file in the root directory.
func (l *Local) Revision(context.Context) (string, error) {
	p := filepath.Join(l.root, RevisionFile)
	f, err := os.Open(p) //nolint:gosec // G304: path under configured store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", l.wrap(fmt.Errorf("%w: %s not present", artifact.ErrRevisionUnavailable, p), "revision", p)
		}
		return "", l.wrap(err, "revision", p)
	}
	defer func() { _ = f.Close() }()

	token, err := readRevision(f)
	if err != nil {
		return "", l.wrap(err, "revision", p)
	}
	return token, nil
}

// Fetch copies one file into req.DestDir.
func (l *Local) Fetch(ctx context.Context, req artifact.FetchRequest) (string, error) {
	rel, err := cleanRemoteID(req.RemoteID)
	if err != nil {
		return "", err
	}
	src := filepath.Join(l.root, filepath.FromSlash(rel))

	f, err := os.Open(src) //nolint:gosec // G304: path under configured store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", artifact.ErrRemoteNotFound, src)
		}
		return "", l.wrap(err, "fetch", src)
	}
	defer func() { _ = f.Close() }()

	start := time.Now()
	dst, n, err := writeAtomic(req.DestDir, rel, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return "", l.wrap(err, "fetch", src)
	}
	l.log.Debug("copied artifact",
		logString("source", src),
		logInt64("bytes", n),
		logDuration("elapsed", time.Since(start)))
	return dst, nil
}

// Publish copies localPath into the store root.
func (l *Local) Publish(ctx context.Context, localPath, remoteID string) error {
	f, err := os.Open(localPath) //nolint:gosec // G304: operator supplied artifact path
	if err != nil {
		return l.wrap(err, "publish", localPath)
	}
	defer func() { _ = f.Close() }()

	if _, _, err := writeAtomic(l.root, remoteID, &ctxReader{ctx: ctx, r: f}); err != nil {
		return l.wrap(err, "publish", remoteID)
	}
	return nil
}

// SetRevision writes the revision file.
func (l *Local) SetRevision(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.root, PermDir); err != nil {
		return l.wrap(err, "set-revision", l.root)
	}
	p := filepath.Join(l.root, RevisionFile)
	tmp := p + partSuffix
	if err := os.WriteFile(tmp, []byte(token+"\n"), PermFile); err != nil {
		return l.wrap(err, "set-revision", p)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return l.wrap(err, "set-revision", p)
	}
	return nil
}

// Close is a no-op.
func (l *Local) Close() error {
	return nil
}

func (l *Local) wrap(err error, op, p string) error {
	category := storeCategory(err)
	if category == enhancederrors.CategoryNetwork {
		category = enhancederrors.CategoryFileIO
	}
	return enhancederrors.New(fmt.Errorf("local %s: %w", op, err)).
		Component("artifact-store").
		Category(category).
		Context("operation", op).
		Context("path", p).
		Build()
}
