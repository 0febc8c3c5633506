package stores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/orthovision/orthovision/internal/artifact"
	enhancederrors "github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
)

const ftpTempFilePrefix = ".upload-"

// FTPConfig holds configuration for the FTP store.
type FTPConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	BasePath     string
	Timeout      time.Duration
	MaxConns     int
	MaxRetries   int
	RetryBackoff time.Duration
}

// FTP serves artifacts from a directory on an FTP server. The revision token
// is read from BasePath/REVISION.
type FTP struct {
	config   FTPConfig
	log      logger.Logger
	connPool chan *ftp.ServerConn
	mu       sync.Mutex // guards pool draining on Close
	closed   bool
}

// ftpTransientError marks 4xx replies, which the server reports as retriable.
type ftpTransientError struct {
	err error
}

func (e *ftpTransientError) Error() string   { return e.err.Error() }
func (e *ftpTransientError) Unwrap() error   { return e.err }
func (e *ftpTransientError) Temporary() bool { return true }

// NewFTP creates an FTP store with the given configuration.
func NewFTP(config FTPConfig, lg logger.Logger) (*FTP, error) {
	if config.Host == "" {
		return nil, enhancederrors.Newf("ftp: host is required").
			Component("artifact-store").
			Category(enhancederrors.CategoryConfiguration).
			Build()
	}

	if config.Port == 0 {
		config.Port = DefaultFTPPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")
	if config.BasePath == "" {
		config.BasePath = "/"
	}
	if config.MaxConns == 0 {
		config.MaxConns = DefaultMaxConns
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if lg == nil {
		lg = GetLogger()
	}

	return &FTP{
		config:   config,
		log:      lg.With(logString("store", "ftp"), logString("host", config.Host)),
		connPool: make(chan *ftp.ServerConn, config.MaxConns),
	}, nil
}

// Name returns the store identifier.
func (f *FTP) Name() string {
	return fmt.Sprintf("ftp:%s%s", f.config.Host, f.config.BasePath)
}

// Revision reads the revision file. A missing file means the store does not
// track revisions.
func (f *FTP) Revision(ctx context.Context) (string, error) {
	var token string
	remotePath := path.Join(f.config.BasePath, RevisionFile)

	err := f.withConn(ctx, RevisionFile, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(remotePath)
		if err != nil {
			if ftpCode(err) == ftp.StatusFileUnavailable {
				return fmt.Errorf("%w: %s not present", artifact.ErrRevisionUnavailable, remotePath)
			}
			return f.mapError(err, remotePath)
		}
		defer func() { _ = resp.Close() }()

		token, err = readRevision(resp)
		return err
	})
	if err != nil {
		return "", f.wrap(err, "revision", remotePath)
	}
	return token, nil
}

// Fetch downloads one file into req.DestDir. req.Revision is ignored since
// the server only holds the current set.
func (f *FTP) Fetch(ctx context.Context, req artifact.FetchRequest) (string, error) {
	rel, err := cleanRemoteID(req.RemoteID)
	if err != nil {
		return "", err
	}
	remotePath := path.Join(f.config.BasePath, rel)

	var dst string
	start := time.Now()
	err = f.withConn(ctx, rel, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(remotePath)
		if err != nil {
			return f.mapError(err, remotePath)
		}
		defer func() { _ = resp.Close() }()

		p, n, err := writeAtomic(req.DestDir, rel, resp)
		if err != nil {
			return err
		}
		dst = p
		f.log.Debug("downloaded artifact",
			logString("remote_path", remotePath),
			logInt64("bytes", n),
			logDuration("elapsed", time.Since(start)))
		return nil
	})
	if err != nil {
		return "", f.wrap(err, "fetch", remotePath)
	}
	return dst, nil
}

// Publish uploads localPath to remoteID through a temporary name so readers
// never see a partial file.
func (f *FTP) Publish(ctx context.Context, localPath, remoteID string) error {
	rel, err := cleanRemoteID(remoteID)
	if err != nil {
		return err
	}
	remotePath := path.Join(f.config.BasePath, rel)

	err = f.withConn(ctx, rel, func(conn *ftp.ServerConn) error {
		if err := f.createDirectory(conn, path.Dir(remotePath)); err != nil {
			return err
		}
		file, err := os.Open(localPath) //nolint:gosec // G304: operator supplied artifact path
		if err != nil {
			return fmt.Errorf("open %s: %w", localPath, err)
		}
		defer func() { _ = file.Close() }()

		return f.atomicUpload(ctx, conn, file, remotePath)
	})
	if err != nil {
		return f.wrap(err, "publish", remotePath)
	}
	return nil
}

// SetRevision writes the revision file.
func (f *FTP) SetRevision(ctx context.Context, token string) error {
	remotePath := path.Join(f.config.BasePath, RevisionFile)
	err := f.withConn(ctx, RevisionFile, func(conn *ftp.ServerConn) error {
		if err := f.createDirectory(conn, f.config.BasePath); err != nil {
			return err
		}
		return f.atomicUpload(ctx, conn, strings.NewReader(token+"\n"), remotePath)
	})
	if err != nil {
		return f.wrap(err, "set-revision", remotePath)
	}
	return nil
}

// Close quits every pooled connection.
func (f *FTP) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true

	var lastErr error
	for {
		select {
		case conn := <-f.connPool:
			if err := conn.Quit(); err != nil {
				lastErr = err
			}
		default:
			return lastErr
		}
	}
}

// getConnection gets a connection from the pool or creates a new one
func (f *FTP) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-f.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return f.connect(ctx)
}

// returnConnection returns a connection to the pool or closes it if the pool is full
func (f *FTP) returnConnection(conn *ftp.ServerConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		_ = conn.Quit()
		return
	}
	select {
	case f.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			f.log.Debug("failed to close FTP connection", logError(err))
		}
	}
}

func (f *FTP) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.config.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	if f.config.Username != "" {
		if err := conn.Login(f.config.Username, f.config.Password); err != nil {
			_ = conn.Quit()
			if ftpCode(err) == ftp.StatusNotLoggedIn {
				return nil, fmt.Errorf("%w: login as %s rejected by %s: %w",
					artifact.ErrUnauthorized, f.config.Username, f.config.Host, err)
			}
			return nil, fmt.Errorf("login to %s: %w", addr, err)
		}
	}
	return conn, nil
}

// withConn runs op on a pooled connection under the retry policy. Failed
// connections are discarded rather than pooled.
func (f *FTP) withConn(ctx context.Context, what string, op func(*ftp.ServerConn) error) error {
	cfg := RetryConfig{
		MaxRetries: f.config.MaxRetries,
		Backoff:    f.config.RetryBackoff,
		OnRetry: func(err error, attempt int) {
			f.log.Warn("FTP operation failed, retrying",
				logString("target", what),
				logInt("attempt", attempt),
				logError(err))
		},
	}
	return WithRetry(ctx, cfg, func() error {
		conn, err := f.getConnection(ctx)
		if err != nil {
			return err
		}
		if err := op(conn); err != nil {
			_ = conn.Quit()
			return err
		}
		f.returnConnection(conn)
		return nil
	})
}

// atomicUpload stores r under a temporary name next to remotePath and renames it.
func (f *FTP) atomicUpload(ctx context.Context, conn *ftp.ServerConn, r io.Reader, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tempName := path.Join(path.Dir(remotePath),
		fmt.Sprintf("%s%d-%s", ftpTempFilePrefix, time.Now().UnixNano(), path.Base(remotePath)))

	if err := conn.Stor(tempName, r); err != nil {
		_ = conn.Delete(tempName)
		return f.mapError(err, tempName)
	}
	if err := conn.Rename(tempName, remotePath); err != nil {
		_ = conn.Delete(tempName)
		return fmt.Errorf("rename %s to %s: %w", tempName, remotePath, err)
	}
	return nil
}

// createDirectory creates dirPath and its parents, ignoring existing ones.
func (f *FTP) createDirectory(conn *ftp.ServerConn, dirPath string) error {
	if dirPath == "" || dirPath == "/" || dirPath == "." {
		return nil
	}

	current, err := conn.CurrentDir()
	if err != nil {
		return fmt.Errorf("get current directory: %w", err)
	}
	defer func() { _ = conn.ChangeDir(current) }()

	prefix := ""
	if strings.HasPrefix(dirPath, "/") {
		prefix = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dirPath, "/"), "/") {
		prefix = path.Join(prefix, part)
		if conn.ChangeDir(prefix) == nil {
			continue
		}
		if err := conn.MakeDir(prefix); err != nil {
			return fmt.Errorf("create directory %s: %w", prefix, err)
		}
	}
	return nil
}

// mapError translates FTP reply codes into store errors.
func (f *FTP) mapError(err error, remotePath string) error {
	code := ftpCode(err)
	switch {
	case code == ftp.StatusFileUnavailable:
		return fmt.Errorf("%w: %s: %w", artifact.ErrRemoteNotFound, remotePath, err)
	case code == ftp.StatusNotLoggedIn:
		return fmt.Errorf("%w: %w", artifact.ErrUnauthorized, err)
	case code >= 400 && code < 500:
		return &ftpTransientError{err: err}
	default:
		return err
	}
}

func (f *FTP) wrap(err error, op, remotePath string) error {
	return enhancederrors.New(fmt.Errorf("ftp %s: %w", op, err)).
		Component("artifact-store").
		Category(storeCategory(err)).
		Context("operation", op).
		Context("host", f.config.Host).
		Context("remote_path", remotePath).
		Build()
}

// ftpCode extracts the reply code from a protocol error, or 0.
func ftpCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}
