// Package artifact keeps the local model directory in sync with a remote
// artifact store. A Manager decides at startup whether the files on disk can
// be trusted and, if not, replaces the whole set and commits a new revision
// record.
//
// The manager assumes a single writer. Two processes refreshing the same
// directory concurrently may interleave and is not guarded against.
package artifact

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/orthovision/orthovision/internal/errors"
)

// Sentinel errors. Stores wrap them so callers can match with errors.Is.
var (
	// ErrMissingArtifact is returned when a required file is absent after
	// every download and placement strategy has been tried.
	ErrMissingArtifact = errors.NewStd("required artifact missing")

	// ErrCorruptRecord is returned when the revision record cannot be parsed.
	ErrCorruptRecord = errors.NewStd("revision record corrupt")

	// ErrRevisionUnavailable is returned by stores that have no notion of
	// a revision token.
	ErrRevisionUnavailable = errors.NewStd("store does not report revisions")

	// ErrUnauthorized is returned when the store rejects or requires a credential.
	ErrUnauthorized = errors.NewStd("store credential missing or rejected")

	// ErrRemoteNotFound is returned when the store has no such repository or file.
	ErrRemoteNotFound = errors.NewStd("remote artifact not found")

	// ErrPublishUnsupported is returned by stores that cannot accept uploads.
	ErrPublishUnsupported = errors.NewStd("store does not support publishing")
)

// Descriptor names one required artifact. It is fixed at configuration time.
type Descriptor struct {
	Name     string // logical name, e.g. "classifier"
	Filename string // file name inside the artifact directory
	RemoteID string // path of the file inside the remote store
}

// LocalPath returns where the artifact must live inside dir.
func (d Descriptor) LocalPath(dir string) string {
	return filepath.Join(dir, d.Filename)
}

// Revision is the persisted record of what is on disk.
type Revision struct {
	Token     string            `json:"revision"`
	Digests   map[string]string `json:"digests"` // artifact name -> sha256 hex
	AppliedAt time.Time         `json:"applied_at"`
}

// Local is one verified artifact on disk.
type Local struct {
	Descriptor
	Path   string
	Digest string
	Size   int64
}

// Set is the verified local artifact set returned by EnsureCurrent.
type Set struct {
	Revision string // token of the applied revision, empty if unknown
	Dir      string
	items    map[string]Local
}

// NewSet builds a set from verified artifacts.
func NewSet(dir, revision string, locals []Local) *Set {
	s := &Set{Revision: revision, Dir: dir, items: make(map[string]Local, len(locals))}
	for _, l := range locals {
		s.items[l.Name] = l
	}
	return s
}

// Path returns the local path of the named artifact.
func (s *Set) Path(name string) (string, bool) {
	l, ok := s.items[name]
	return l.Path, ok
}

// Get returns the named artifact.
func (s *Set) Get(name string) (Local, bool) {
	l, ok := s.items[name]
	return l, ok
}

// All returns every artifact ordered by name.
func (s *Set) All() []Local {
	out := make([]Local, 0, len(s.items))
	for _, l := range s.items {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of artifacts in the set.
func (s *Set) Len() int {
	return len(s.items)
}
