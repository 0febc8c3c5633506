package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/httpclient"
	"github.com/orthovision/orthovision/internal/logger"
)

// HubConfig configures a Hugging Face compatible model hub.
type HubConfig struct {
	Endpoint     string // e.g. https://huggingface.co
	Repository   string // owner/name
	Revision     string // branch, tag or commit; defaults to main
	Token        string // optional bearer token
	CacheTTL     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Hub fetches artifacts from a model hub. Revision lookups return the commit
// sha the configured revision points to; downloads are pinned to a sha.
type Hub struct {
	config HubConfig
	client *httpclient.Client
	cache  *cache.Cache
	log    logger.Logger
}

type hubRevisionResponse struct {
	SHA string `json:"sha"`
}

// hubStatusError is a non-success HTTP status from the hub.
type hubStatusError struct {
	Status int
	URL    string
}

func (e *hubStatusError) Error() string {
	return fmt.Sprintf("hub returned %d %s for %s", e.Status, http.StatusText(e.Status), e.URL)
}

// Temporary reports whether retrying may succeed.
func (e *hubStatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// NewHub creates a hub store. A nil client uses httpclient defaults.
func NewHub(config HubConfig, client *httpclient.Client, lg logger.Logger) (*Hub, error) {
	if config.Endpoint == "" {
		return nil, errors.Newf("hub: endpoint is required").
			Component("artifact-store").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.Repository == "" {
		return nil, errors.Newf("hub: repository is required").
			Component("artifact-store").
			Category(errors.CategoryConfiguration).
			Build()
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.Revision == "" {
		config.Revision = "main"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	if lg == nil {
		lg = GetLogger()
	}

	h := &Hub{
		config: config,
		client: client,
		log:    lg.With(logString("store", "hub"), logString("repository", config.Repository)),
	}
	if config.CacheTTL > 0 {
		h.cache = cache.New(config.CacheTTL, 2*config.CacheTTL)
	}
	return h, nil
}

// Name returns the store identifier.
func (h *Hub) Name() string {
	return "hub:" + h.config.Repository
}

// Revision resolves the configured revision to a commit sha.
func (h *Hub) Revision(ctx context.Context) (string, error) {
	if h.cache != nil {
		if sha, ok := h.cache.Get(h.config.Revision); ok {
			return sha.(string), nil
		}
	}

	endpoint := fmt.Sprintf("%s/api/models/%s/revision/%s",
		h.config.Endpoint, h.config.Repository, url.PathEscape(h.config.Revision))

	var sha string
	err := WithRetry(ctx, h.retryConfig("revision"), func() error {
		resp, err := h.client.Get(ctx, endpoint, h.authHeader())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return h.statusError(resp, endpoint, "")
		}

		var body hubRevisionResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
			return fmt.Errorf("decode revision response: %w", err)
		}
		if body.SHA == "" {
			return fmt.Errorf("revision response for %s carries no sha", h.config.Revision)
		}
		sha = body.SHA
		return nil
	})
	if err != nil {
		return "", h.wrap(err, "revision", endpoint)
	}

	if h.cache != nil {
		h.cache.SetDefault(h.config.Revision, sha)
	}
	return sha, nil
}

// Fetch downloads one file into req.DestDir/req.RemoteID. An empty
// req.Revision uses the configured revision.
func (h *Hub) Fetch(ctx context.Context, req artifact.FetchRequest) (string, error) {
	rel, err := cleanRemoteID(req.RemoteID)
	if err != nil {
		return "", err
	}
	revision := req.Revision
	if revision == "" {
		revision = h.config.Revision
	}

	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	endpoint := fmt.Sprintf("%s/%s/resolve/%s/%s",
		h.config.Endpoint, h.config.Repository, url.PathEscape(revision), strings.Join(segments, "/"))

	var dst string
	start := time.Now()
	err = WithRetry(ctx, h.retryConfig(rel), func() error {
		resp, err := h.client.Get(ctx, endpoint, h.authHeader())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return h.statusError(resp, endpoint, rel)
		}

		path, n, err := writeAtomic(req.DestDir, rel, resp.Body)
		if err != nil {
			return err
		}
		if resp.ContentLength > 0 && n != resp.ContentLength {
			return fmt.Errorf("short download of %s: got %d of %d bytes: temporary", rel, n, resp.ContentLength)
		}
		dst = path
		h.log.Debug("downloaded artifact",
			logString("remote_id", rel),
			logString("revision", revision),
			logInt64("bytes", n),
			logDuration("elapsed", time.Since(start)))
		return nil
	})
	if err != nil {
		return "", h.wrap(err, "fetch", endpoint)
	}
	return dst, nil
}

// Close releases idle connections.
func (h *Hub) Close() error {
	h.client.Close()
	return nil
}

func (h *Hub) authHeader() http.Header {
	if h.config.Token == "" {
		return nil
	}
	return http.Header{"Authorization": {"Bearer " + h.config.Token}}
}

func (h *Hub) retryConfig(what string) RetryConfig {
	return RetryConfig{
		MaxRetries: h.config.MaxRetries,
		Backoff:    h.config.RetryBackoff,
		OnRetry: func(err error, attempt int) {
			h.log.Warn("hub request failed, retrying",
				logString("target", what),
				logInt("attempt", attempt),
				logError(err))
		},
	}
}

// statusError maps an HTTP status to a store error. Missing credentials get
// an actionable message since private repositories answer 401.
func (h *Hub) statusError(resp *http.Response, endpoint, remoteID string) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	statusErr := &hubStatusError{Status: resp.StatusCode, URL: endpoint}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if h.config.Token == "" {
			return fmt.Errorf("%w: repository %s requires authentication: set HF_TOKEN (artifacts.token): %w",
				artifact.ErrUnauthorized, h.config.Repository, statusErr)
		}
		return fmt.Errorf("%w: token rejected for repository %s, check HF_TOKEN permissions: %w",
			artifact.ErrUnauthorized, h.config.Repository, statusErr)
	case http.StatusNotFound:
		what := "repository or revision"
		if remoteID != "" {
			what = remoteID
		}
		return fmt.Errorf("%w: %s not found in %s: %w", artifact.ErrRemoteNotFound, what, h.config.Repository, statusErr)
	default:
		return statusErr
	}
}

func (h *Hub) wrap(err error, op, endpoint string) error {
	return errors.New(fmt.Errorf("hub %s: %w", op, err)).
		Component("artifact-store").
		Category(storeCategory(err)).
		Context("operation", op).
		Context("url", endpoint).
		Build()
}
