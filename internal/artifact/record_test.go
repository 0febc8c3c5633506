package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "models.revision.json")
	rs := NewRecordStore(path)

	rev, err := rs.Load()
	require.NoError(t, err)
	assert.Nil(t, rev, "absent record is not an error")

	want := &Revision{
		Token:     "3f2a9c",
		Digests:   map[string]string{"classifier": "aa", "stage0": "bb"},
		AppliedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, rs.Save(want))
	assert.NoFileExists(t, path+".tmp")

	got, err := rs.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, rs.Remove())
	require.NoError(t, rs.Remove(), "removing twice is fine")
}

func TestRecordStore_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rev.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"revision": 12`), 0o600))

	_, err := NewRecordStore(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRecordStore_EmptyDigestsNormalized(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rev.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"revision":"r"}`), 0o600))

	rev, err := NewRecordStore(path).Load()
	require.NoError(t, err)
	assert.NotNil(t, rev.Digests)
}

func TestRevisionToken(t *testing.T) {
	t.Parallel()

	a := RevisionToken(map[string]string{"b": "02", "a": "01"})
	b := RevisionToken(map[string]string{"a": "01", "b": "02"})
	c := RevisionToken(map[string]string{"a": "01", "b": "03"})

	assert.Equal(t, a, b, "order independent")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.Equal(t, a, RevisionToken(map[string]string{"a": "01", "b": "02"}))

	sum := sha256.Sum256([]byte("a:01\nb:02\n"))
	assert.Equal(t, hex.EncodeToString(sum[:]), a, "sorted name:digest lines")
	assert.Equal(t, RevisionToken(map[string]string{"a": "AB"}), RevisionToken(map[string]string{"a": "ab"}), "digests are case folded")
}

func TestPublish(t *testing.T) {
	t.Parallel()

	source := newFakeStore("")
	dir := t.TempDir()
	writeArtifacts(t, dir, source)

	target := newFakeStore("")
	token, err := Publish(t.Context(), target, dir, testDescriptors(), testLogger())
	require.NoError(t, err)

	assert.Len(t, target.published, 3)
	assert.Equal(t, source.files["stage1.onnx"], target.published["stage1.onnx"])
	assert.Equal(t, token, target.publishedRev)
	assert.NotEmpty(t, token)
}

func TestPublish_Unsupported(t *testing.T) {
	t.Parallel()

	// wrap so the Publisher methods are not promoted
	var s Store = struct{ Store }{newFakeStore("")}
	_, err := Publish(t.Context(), s, t.TempDir(), testDescriptors(), testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishUnsupported)
}
