package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orthovision/orthovision/internal/errors"
)

const (
	permRecordDir  = 0o755
	permRecordFile = 0o644
)

// RecordStore persists the Revision as a single JSON document. Writes replace
// the whole file through a temporary file and rename.
type RecordStore struct {
	path string
}

// NewRecordStore returns a store for the record at path.
func NewRecordStore(path string) *RecordStore {
	return &RecordStore{path: path}
}

// Path returns the record location.
func (rs *RecordStore) Path() string {
	return rs.path
}

// Load reads the record. A missing record returns (nil, nil); an unreadable
// or malformed one returns an error wrapping ErrCorruptRecord.
func (rs *RecordStore) Load() (*Revision, error) {
	data, err := os.ReadFile(rs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(fmt.Errorf("read revision record: %w", err)).
			Component("artifact").
			Category(errors.CategoryFileIO).
			Context("path", rs.path).
			Build()
	}

	var rev Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrCorruptRecord, err)).
			Component("artifact").
			Category(errors.CategoryIntegrity).
			Context("path", rs.path).
			Build()
	}
	if rev.Digests == nil {
		rev.Digests = make(map[string]string)
	}
	return &rev, nil
}

// Save replaces the record with rev.
func (rs *RecordStore) Save(rev *Revision) error {
	if err := os.MkdirAll(filepath.Dir(rs.path), permRecordDir); err != nil {
		return rs.fileError("create record directory", err)
	}

	data, err := json.MarshalIndent(rev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal revision record: %w", err)
	}

	tempFile := rs.path + ".tmp"
	if err := os.WriteFile(tempFile, data, permRecordFile); err != nil {
		return rs.fileError("write temporary record", err)
	}

	if err := os.Rename(tempFile, rs.path); err != nil {
		_ = os.Remove(tempFile)
		return rs.fileError("replace record", err)
	}
	return nil
}

// Remove deletes the record. A missing record is not an error.
func (rs *RecordStore) Remove() error {
	if err := os.Remove(rs.path); err != nil && !os.IsNotExist(err) {
		return rs.fileError("remove record", err)
	}
	return nil
}

func (rs *RecordStore) fileError(op string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("artifact").
		Category(errors.CategoryFileIO).
		Context("path", rs.path).
		Build()
}
