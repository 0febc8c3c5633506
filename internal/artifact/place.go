package artifact

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
)

// place moves a fetched file to its exact expected path. It tries a rename,
// then copy-then-delete, then a recursive search of the artifact directory
// for a file with the expected name. Failed steps are logged, not returned.
func (m *Manager) place(d Descriptor, fetched string, log logger.Logger) (string, error) {
	want := d.LocalPath(m.opts.Dir)
	log = log.With(logger.String("artifact", d.Name), logger.String("expected", want))

	if fetched != "" && filepath.Clean(fetched) != filepath.Clean(want) && isRegular(fetched) {
		if err := m.relocate(fetched, want, log); err == nil {
			return want, nil
		}
	}

	if isRegular(want) {
		return want, nil
	}

	log.Warn("expected path not found, searching artifact directory", logger.String("fetched", fetched))
	found := findFile(m.opts.Dir, d.Filename, want)
	if found != "" {
		if err := m.relocate(found, want, log); err == nil {
			return want, nil
		}
	}

	return "", errors.New(fmt.Errorf("%w: %s not found after download (fetched %q)", ErrMissingArtifact, want, fetched)).
		Component("artifact").
		Category(errors.CategoryArtifact).
		ArtifactContext(d.Name, want).
		Context("fetched_path", fetched).
		Build()
}

// relocate renames src to dst, falling back to copy-then-delete.
func (m *Manager) relocate(src, dst string, log logger.Logger) error {
	err := m.rename(src, dst)
	if err == nil {
		return nil
	}
	log.Warn("move failed, falling back to copy", logger.String("source", src), logger.Error(err))

	if err := copyFile(src, dst); err != nil {
		log.Warn("copy fallback failed", logger.String("source", src), logger.Error(err))
		return err
	}
	if err := os.Remove(src); err != nil {
		log.Warn("failed to remove source after copy", logger.String("source", src), logger.Error(err))
	}
	return nil
}

// copyFile copies src to dst, removing a partial dst on failure.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // G304: path inside the managed artifact directory
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, permRecordFile) //nolint:gosec // G304: see above
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

// findFile returns the first regular file named name under root, other than skip.
func findFile(root, name, skip string) string {
	var found string
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtree, keep looking elsewhere
			return nil
		}
		if entry.Type().IsRegular() && entry.Name() == name && filepath.Clean(path) != filepath.Clean(skip) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
