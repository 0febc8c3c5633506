package artifacts

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthovision/orthovision/internal/conf"
)

func localSettings(t *testing.T) *conf.Settings {
	t.Helper()
	root := t.TempDir()
	s := &conf.Settings{}
	s.Artifacts.Dir = filepath.Join(root, "models")
	s.Artifacts.Policy = conf.PolicyRevision
	s.Artifacts.Store.Type = conf.StoreLocal
	s.Artifacts.Store.Local.Path = filepath.Join(root, "store")
	s.Artifacts.Files = []conf.ArtifactFile{
		{Name: conf.ArtifactClassifier, Filename: "classifier.onnx"},
	}
	return s
}

func TestPublishSyncRevision(t *testing.T) {
	settings := localSettings(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "classifier.onnx"), []byte("weights"), 0o600))

	var out bytes.Buffer
	publish := PublishCommand(settings)
	publish.SetOut(&out)
	publish.SetArgs([]string{src})
	require.NoError(t, publish.Execute())
	assert.Contains(t, out.String(), "published revision ")

	out.Reset()
	sync := SyncCommand(settings)
	sync.SetOut(&out)
	sync.SetArgs(nil)
	require.NoError(t, sync.Execute())
	assert.Contains(t, out.String(), "1 artifacts current")

	out.Reset()
	rev := RevisionCommand(settings)
	rev.SetOut(&out)
	rev.SetArgs(nil)
	require.NoError(t, rev.Execute())
	assert.Contains(t, out.String(), conf.ArtifactClassifier)
}

func TestPublishRequiresDir(t *testing.T) {
	cmd := PublishCommand(localSettings(t))
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}
