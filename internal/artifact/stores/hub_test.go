package stores

import (
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/httpclient"
)

const (
	testHubURL  = "https://hub.test"
	testRepo    = "owner/models"
	revisionURL = testHubURL + "/api/models/owner/models/revision/main"
)

func newTestHub(t *testing.T, token string, ttl time.Duration) (*Hub, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: mock})
	hub, err := NewHub(HubConfig{
		Endpoint:     testHubURL + "/",
		Repository:   testRepo,
		Token:        token,
		CacheTTL:     ttl,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, client, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Close() })
	return hub, mock
}

func TestHub_RevisionIsCached(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", time.Minute)
	mock.RegisterResponder(http.MethodGet, revisionURL,
		httpmock.NewStringResponder(http.StatusOK, `{"id":"owner/models","sha":"9f8e7d"}`))

	for range 3 {
		sha, err := hub.Revision(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "9f8e7d", sha)
	}
	assert.Equal(t, 1, mock.GetTotalCallCount())
	assert.Equal(t, "hub:owner/models", hub.Name())
}

func TestHub_RevisionWithoutCache(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	mock.RegisterResponder(http.MethodGet, revisionURL,
		httpmock.NewStringResponder(http.StatusOK, `{"sha":"1"}`))

	_, err := hub.Revision(t.Context())
	require.NoError(t, err)
	_, err = hub.Revision(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GetTotalCallCount())
}

func TestHub_SendsBearerToken(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "hf_testtoken", 0)
	mock.RegisterResponder(http.MethodGet, revisionURL,
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer hf_testtoken" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"sha":"abc"}`), nil
		})

	sha, err := hub.Revision(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "abc", sha)
}

func TestHub_UnauthorizedWithoutToken(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	mock.RegisterResponder(http.MethodGet, revisionURL,
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"Invalid credentials"}`))

	_, err := hub.Revision(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrUnauthorized)
	assert.Contains(t, err.Error(), "set HF_TOKEN")
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthentication))
	assert.Equal(t, 1, mock.GetTotalCallCount(), "authentication errors are not retried")
}

func TestHub_RejectedToken(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "hf_expired", 0)
	mock.RegisterResponder(http.MethodGet, revisionURL,
		httpmock.NewStringResponder(http.StatusForbidden, ""))

	_, err := hub.Revision(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrUnauthorized)
	assert.Contains(t, err.Error(), "token rejected")
	assert.NotContains(t, err.Error(), "hf_expired")
}

func TestHub_FetchPinnedRevision(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	mock.RegisterResponder(http.MethodGet, testHubURL+"/owner/models/resolve/9f8e7d/weights/classifier.onnx",
		httpmock.NewBytesResponder(http.StatusOK, []byte("onnx-bytes")))

	dest := t.TempDir()
	path, err := hub.Fetch(t.Context(), artifact.FetchRequest{
		Revision: "9f8e7d",
		RemoteID: "weights/classifier.onnx",
		DestDir:  dest,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "weights", "classifier.onnx"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))
	assert.NoFileExists(t, path+partSuffix)
}

func TestHub_FetchDefaultsToConfiguredRevision(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	mock.RegisterResponder(http.MethodGet, testHubURL+"/owner/models/resolve/main/best.onnx",
		httpmock.NewStringResponder(http.StatusOK, "x"))

	_, err := hub.Fetch(t.Context(), artifact.FetchRequest{RemoteID: "best.onnx", DestDir: t.TempDir()})
	require.NoError(t, err)
}

func TestHub_FetchNotFound(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	mock.RegisterResponder(http.MethodGet, testHubURL+"/owner/models/resolve/main/missing.onnx",
		httpmock.NewStringResponder(http.StatusNotFound, "Entry not found"))

	_, err := hub.Fetch(t.Context(), artifact.FetchRequest{RemoteID: "missing.onnx", DestDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrRemoteNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	assert.Contains(t, err.Error(), "missing.onnx")
}

func TestHub_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	var calls atomic.Int32
	mock.RegisterResponder(http.MethodGet, testHubURL+"/owner/models/resolve/main/best.onnx",
		func(*http.Request) (*http.Response, error) {
			if calls.Add(1) < 3 {
				return httpmock.NewStringResponse(http.StatusBadGateway, "upstream"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "weights"), nil
		})

	_, err := hub.Fetch(t.Context(), artifact.FetchRequest{RemoteID: "best.onnx", DestDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHub_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	mock.RegisterResponder(http.MethodGet, revisionURL,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	_, err := hub.Revision(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, mock.GetTotalCallCount())
}

func TestHub_RejectsEscapingRemoteID(t *testing.T) {
	t.Parallel()

	hub, mock := newTestHub(t, "", 0)
	_, err := hub.Fetch(t.Context(), artifact.FetchRequest{RemoteID: "../../etc/passwd", DestDir: t.TempDir()})
	require.Error(t, err)
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestNewHub_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewHub(HubConfig{Repository: testRepo}, nil, nil)
	require.Error(t, err)
	_, err = NewHub(HubConfig{Endpoint: testHubURL}, nil, nil)
	require.Error(t, err)
}
