package stores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/orthovision/orthovision/internal/artifact"
	enhancederrors "github.com/orthovision/orthovision/internal/errors"
)

// Common constants for store implementations
const (
	// RevisionFile holds the revision token in stores without native
	// versioning. Publish writes it after every artifact is uploaded.
	RevisionFile = "REVISION"

	// Permissions for downloaded files and directories
	PermDir  = 0o755
	PermFile = 0o644

	// Retry defaults
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second

	// Connection defaults
	DefaultMaxConns = 2
	DefaultTimeout  = 30 * time.Second
	DefaultFTPPort  = 21
	DefaultSSHPort  = 22

	partSuffix      = ".part"
	maxRevisionSize = 4096
)

// transientErrorPatterns contains substrings that indicate a transient/retriable error
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
}

// temporary is implemented by errors that know whether a retry may help.
type temporary interface {
	Temporary() bool
}

// IsTransientError determines if an error is likely transient and can be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, artifact.ErrUnauthorized) ||
		errors.Is(err, artifact.ErrRemoteNotFound) ||
		errors.Is(err, artifact.ErrRevisionUnavailable) {
		return false
	}

	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	if os.IsTimeout(err) {
		return true
	}

	errStr := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// storeCategory picks the error category reported for a failed store call.
func storeCategory(err error) enhancederrors.ErrorCategory {
	switch {
	case errors.Is(err, artifact.ErrUnauthorized):
		return enhancederrors.CategoryAuthentication
	case errors.Is(err, artifact.ErrRemoteNotFound), errors.Is(err, artifact.ErrRevisionUnavailable):
		return enhancederrors.CategoryNotFound
	case errors.Is(err, context.Canceled):
		return enhancederrors.CategoryCancellation
	case errors.Is(err, context.DeadlineExceeded):
		return enhancederrors.CategoryTimeout
	default:
		return enhancederrors.CategoryNetwork
	}
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
	OnRetry    func(err error, attempt int)
}

// DefaultRetryConfig returns a RetryConfig with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultRetryBackoff,
	}
}

// WithRetry runs op until it succeeds, fails permanently or attempts run out.
// Backoff is linear: 1x, 2x, 3x the configured delay.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error
	for attempt := range cfg.MaxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err
		if attempt == cfg.MaxRetries-1 {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(err, attempt+1)
		}

		timer := time.NewTimer(cfg.Backoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

// cleanRemoteID validates a slash separated remote path and returns it
// relative and cleaned.
func cleanRemoteID(remoteID string) (string, error) {
	if remoteID == "" {
		return "", fmt.Errorf("empty remote identifier")
	}
	cleaned := path.Clean(strings.TrimPrefix(remoteID, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("remote identifier %q escapes the store root", remoteID)
	}
	return cleaned, nil
}

// writeAtomic streams r into destDir/remoteID through a temporary .part file
// and returns the final path and bytes written.
func writeAtomic(destDir, remoteID string, r io.Reader) (string, int64, error) {
	rel, err := cleanRemoteID(remoteID)
	if err != nil {
		return "", 0, err
	}
	dst := filepath.Join(destDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), PermDir); err != nil {
		return "", 0, fmt.Errorf("create download directory: %w", err)
	}

	part := dst + partSuffix
	f, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, PermFile) //nolint:gosec // G304: path under managed directory
	if err != nil {
		return "", 0, fmt.Errorf("create partial file: %w", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(part)
		if copyErr != nil {
			return "", n, fmt.Errorf("write %s: %w", rel, copyErr)
		}
		return "", n, fmt.Errorf("close %s: %w", rel, closeErr)
	}

	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return "", n, fmt.Errorf("finalize %s: %w", rel, err)
	}
	return dst, n, nil
}

// readRevision reads a revision token, rejecting oversized or empty content.
func readRevision(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxRevisionSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxRevisionSize {
		return "", fmt.Errorf("revision file exceeds %d bytes", maxRevisionSize)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("revision file is empty")
	}
	return token, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
