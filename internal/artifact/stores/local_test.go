package stores

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/errors"
)

func testArtifacts(t *testing.T) (string, []artifact.Descriptor) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"best_model_f1_focused.onnx":       "classifier",
		"fracatlas_train_best.onnx":        "stage0",
		"combined_bone_fracture_best.onnx": "stage1",
	}
	var descs []artifact.Descriptor
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
		descs = append(descs, artifact.Descriptor{Name: content, Filename: name, RemoteID: name})
	}
	return dir, descs
}

func TestLocal_PublishThenFetch(t *testing.T) {
	t.Parallel()

	src, descs := testArtifacts(t)
	store, err := NewLocal(filepath.Join(t.TempDir(), "mirror"), testLogger())
	require.NoError(t, err)

	token, err := artifact.Publish(t.Context(), store, src, descs, testLogger())
	require.NoError(t, err)

	rev, err := store.Revision(t.Context())
	require.NoError(t, err)
	assert.Equal(t, token, rev)

	dest := t.TempDir()
	p, err := store.Fetch(t.Context(), artifact.FetchRequest{Revision: rev, RemoteID: "fracatlas_train_best.onnx", DestDir: dest})
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "stage0", string(data))
}

func TestLocal_RevisionUnavailable(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = store.Revision(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrRevisionUnavailable)
}

func TestLocal_FetchMissing(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = store.Fetch(t.Context(), artifact.FetchRequest{RemoteID: "absent.onnx", DestDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrRemoteNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestLocal_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewLocal("", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

// A manager syncing from a local mirror refreshes when a new set is published.
func TestLocal_ManagerFollowsPublishedRevision(t *testing.T) {
	t.Parallel()

	src, descs := testArtifacts(t)
	store, err := NewLocal(filepath.Join(t.TempDir(), "mirror"), testLogger())
	require.NoError(t, err)
	first, err := artifact.Publish(t.Context(), store, src, descs, testLogger())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "models")
	m, err := artifact.NewManager(store, artifact.Options{Dir: dir, VerifyDigests: true}, testLogger(), nil)
	require.NoError(t, err)

	set, err := m.EnsureCurrent(t.Context(), descs)
	require.NoError(t, err)
	assert.Equal(t, first, set.Revision)

	require.NoError(t, os.WriteFile(filepath.Join(src, "fracatlas_train_best.onnx"), []byte("stage0 v2"), 0o600))
	second, err := artifact.Publish(t.Context(), store, src, descs, testLogger())
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	set, err = m.EnsureCurrent(t.Context(), descs)
	require.NoError(t, err)
	assert.Equal(t, second, set.Revision)

	p, ok := set.Path("stage0")
	require.True(t, ok)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "stage0 v2", string(data))
}
