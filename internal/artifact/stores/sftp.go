package stores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/orthovision/orthovision/internal/artifact"
	enhancederrors "github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
)

// SFTPConfig holds configuration for the SFTP store.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	BasePath       string
	Timeout        time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// SFTP serves artifacts from a directory on an SSH server. Each operation
// opens its own session.
type SFTP struct {
	config  SFTPConfig
	log     logger.Logger
	hostKey ssh.HostKeyCallback
}

// NewSFTP creates an SFTP store with the given configuration.
func NewSFTP(config SFTPConfig, lg logger.Logger) (*SFTP, error) {
	if config.Host == "" {
		return nil, sftpConfigError("sftp: host is required")
	}
	if config.Password == "" && config.KeyFile == "" {
		return nil, sftpConfigError("sftp: no authentication method provided")
	}
	if config.Port == 0 {
		config.Port = DefaultSSHPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")
	if config.BasePath == "" {
		config.BasePath = "."
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

	s := &SFTP{
		config: config,
		log:    lg.With(logString("store", "sftp"), logString("host", config.Host)),
	}

	if config.KnownHostsFile != "" {
		cb, err := knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, enhancederrors.New(fmt.Errorf("sftp: load known hosts: %w", err)).
				Component("artifact-store").
				Category(enhancederrors.CategoryConfiguration).
				Context("known_hosts_file", config.KnownHostsFile).
				Build()
		}
		s.hostKey = cb
	} else {
		s.log.Warn("no known_hosts_file configured, host key is not verified")
		s.hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: operator opted out of host key checking
	}
	return s, nil
}

// Name returns the store identifier.
func (s *SFTP) Name() string {
	return fmt.Sprintf("sftp:%s:%s", s.config.Host, s.config.BasePath)
}

// Revision reads the revision file.
func (s *SFTP) Revision(ctx context.Context) (string, error) {
	remotePath := path.Join(s.config.BasePath, RevisionFile)
	var token string
	err := s.withClient(ctx, RevisionFile, func(client *sftp.Client) error {
		f, err := client.Open(remotePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s not present", artifact.ErrRevisionUnavailable, remotePath)
			}
			return err
		}
		defer func() { _ = f.Close() }()
		token, err = readRevision(f)
		return err
	})
	if err != nil {
		return "", s.wrap(err, "revision", remotePath)
	}
	return token, nil
}

// Fetch downloads one file into req.DestDir.
func (s *SFTP) Fetch(ctx context.Context, req artifact.FetchRequest) (string, error) {
	rel, err := cleanRemoteID(req.RemoteID)
	if err != nil {
		return "", err
	}
	remotePath := path.Join(s.config.BasePath, rel)

	var dst string
	start := time.Now()
	err = s.withClient(ctx, rel, func(client *sftp.Client) error {
		f, err := client.Open(remotePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s: %w", artifact.ErrRemoteNotFound, remotePath, err)
			}
			return err
		}
		defer func() { _ = f.Close() }()

		p, n, err := writeAtomic(req.DestDir, rel, &ctxReader{ctx: ctx, r: f})
		if err != nil {
			return err
		}
		dst = p
		s.log.Debug("downloaded artifact",
			logString("remote_path", remotePath),
			logInt64("bytes", n),
			logDuration("elapsed", time.Since(start)))
		return nil
	})
	if err != nil {
		return "", s.wrap(err, "fetch", remotePath)
	}
	return dst, nil
}

// Publish uploads localPath to remoteID via a temporary file and rename.
func (s *SFTP) Publish(ctx context.Context, localPath, remoteID string) error {
	rel, err := cleanRemoteID(remoteID)
	if err != nil {
		return err
	}
	remotePath := path.Join(s.config.BasePath, rel)

	err = s.withClient(ctx, rel, func(client *sftp.Client) error {
		src, err := os.Open(localPath) //nolint:gosec // G304: operator supplied artifact path
		if err != nil {
			return fmt.Errorf("open %s: %w", localPath, err)
		}
		defer func() { _ = src.Close() }()
		return s.atomicUpload(ctx, client, src, remotePath)
	})
	if err != nil {
		return s.wrap(err, "publish", remotePath)
	}
	return nil
}

// SetRevision writes the revision file.
func (s *SFTP) SetRevision(ctx context.Context, token string) error {
	remotePath := path.Join(s.config.BasePath, RevisionFile)
	err := s.withClient(ctx, RevisionFile, func(client *sftp.Client) error {
		return s.atomicUpload(ctx, client, strings.NewReader(token+"\n"), remotePath)
	})
	if err != nil {
		return s.wrap(err, "set-revision", remotePath)
	}
	return nil
}

// Close is a no-op; sessions do not outlive an operation.
func (s *SFTP) Close() error {
	return nil
}

func (s *SFTP) atomicUpload(ctx context.Context, client *sftp.Client, r io.Reader, remotePath string) error {
	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("create directory %s: %w", path.Dir(remotePath), err)
	}

	tempName := path.Join(path.Dir(remotePath),
		fmt.Sprintf(".upload-%d-%s", time.Now().UnixNano(), path.Base(remotePath)))
	dst, err := client.Create(tempName)
	if err != nil {
		return fmt.Errorf("create %s: %w", tempName, err)
	}

	_, copyErr := io.Copy(dst, &ctxReader{ctx: ctx, r: r})
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = client.Remove(tempName)
		return fmt.Errorf("upload %s: %w", remotePath, errors.Join(copyErr, closeErr))
	}

	if err := client.PosixRename(tempName, remotePath); err != nil {
		_ = client.Remove(tempName)
		return fmt.Errorf("rename %s to %s: %w", tempName, remotePath, err)
	}
	return nil
}

// withClient runs op on a fresh session under the retry policy.
func (s *SFTP) withClient(ctx context.Context, what string, op func(*sftp.Client) error) error {
	cfg := RetryConfig{
		MaxRetries: s.config.MaxRetries,
		Backoff:    s.config.RetryBackoff,
		OnRetry: func(err error, attempt int) {
			s.log.Warn("SFTP operation failed, retrying",
				logString("target", what),
				logInt("attempt", attempt),
				logError(err))
		},
	}
	return WithRetry(ctx, cfg, func() error {
		client, err := s.connect(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		return op(client)
	})
}

// clientConfig builds the SSH client configuration.
func (s *SFTP) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            s.config.Username,
		HostKeyCallback: s.hostKey,
		Timeout:         s.config.Timeout,
	}

	switch {
	case s.config.KeyFile != "":
		key, err := os.ReadFile(s.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(s.config.Password)}
	}
	return config, nil
}

// connect establishes an SFTP session, abandoning it if ctx ends first.
func (s *SFTP) connect(ctx context.Context) (*sftp.Client, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			if strings.Contains(err.Error(), "unable to authenticate") {
				err = fmt.Errorf("%w: %s rejected credentials for %s: %w",
					artifact.ErrUnauthorized, addr, s.config.Username, err)
			}
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		// close the session if it arrives after cancellation
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.client, result.err
	}
}

func (s *SFTP) wrap(err error, op, remotePath string) error {
	return enhancederrors.New(fmt.Errorf("sftp %s: %w", op, err)).
		Component("artifact-store").
		Category(storeCategory(err)).
		Context("operation", op).
		Context("host", s.config.Host).
		Context("remote_path", remotePath).
		Build()
}

func sftpConfigError(msg string) error {
	return enhancederrors.Newf("%s", msg).
		Component("artifact-store").
		Category(enhancederrors.CategoryConfiguration).
		Build()
}
