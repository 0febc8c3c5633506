package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/integrity"
	"github.com/orthovision/orthovision/internal/logger"
)

// Policy selects how the manager decides whether local files are current.
type Policy string

const (
	// PolicyRevision compares the store's revision token with the record.
	PolicyRevision Policy = "revision"
	// PolicyPresence only requires every file to exist locally.
	PolicyPresence Policy = "presence"
)

// PendingMarker is created inside the artifact directory while a refresh is
// in progress. Finding it at startup means the last refresh never committed.
const PendingMarker = ".refresh-pending"

// Refresh reasons, reported to the Observer and logs.
const (
	ReasonInterrupted     = "interrupted"
	ReasonMissing         = "missing"
	ReasonNoRecord        = "no-record"
	ReasonCorruptRecord   = "corrupt-record"
	ReasonRevisionChanged = "revision-changed"
	ReasonDigestMismatch  = "digest-mismatch"
)

const permArtifactDir = 0o755

// Options configures a Manager.
type Options struct {
	Dir           string
	RecordPath    string // defaults to <Dir>.revision.json
	Policy        Policy // defaults to PolicyRevision
	VerifyDigests bool   // re-hash local files against the record before trusting them
	DigestWorkers int    // 0 hashes every artifact concurrently
}

// Manager ensures the local artifact directory holds a complete set from a
// single remote revision. The store holds any credential it needs.
type Manager struct {
	store   Store
	opts    Options
	records *RecordStore
	log     logger.Logger
	obs     Observer

	// rename is os.Rename, replaceable to exercise placement fallbacks.
	rename func(src, dst string) error

	mu      sync.Mutex
	current *Set
}

// NewManager creates a manager. A nil log uses the global "artifact" module
// logger and a nil obs discards events.
func NewManager(store Store, opts Options, log logger.Logger, obs Observer) (*Manager, error) {
	if store == nil {
		return nil, errors.Newf("artifact store is required").
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.Dir == "" {
		return nil, errors.Newf("artifact directory is required").
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRevision
	}
	if opts.Policy != PolicyRevision && opts.Policy != PolicyPresence {
		return nil, errors.Newf("unknown artifact policy %q", opts.Policy).
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.RecordPath == "" {
		opts.RecordPath = filepath.Clean(opts.Dir) + ".revision.json"
	}
	if nestedIn(opts.Dir, opts.RecordPath) {
		return nil, errors.Newf("revision record %s is inside a subdirectory of %s, which a refresh clears", opts.RecordPath, opts.Dir).
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("artifact")
	}
	if obs == nil {
		obs = nopObserver{}
	}

	return &Manager{
		store:   store,
		opts:    opts,
		records: NewRecordStore(opts.RecordPath),
		log:     log,
		obs:     obs,
		rename:  os.Rename,
	}, nil
}

// Records returns the revision record store.
func (m *Manager) Records() *RecordStore {
	return m.records
}

// Current returns the set produced by the last successful EnsureCurrent.
func (m *Manager) Current() *Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// MarkStale forces the next EnsureCurrent to perform a full refresh.
func (m *Manager) MarkStale() error {
	if err := os.MkdirAll(m.opts.Dir, permArtifactDir); err != nil {
		return m.fileError("create artifact directory", m.opts.Dir, err)
	}
	return m.writeMarker()
}

// decision is the outcome of inspecting local state against the store.
type decision struct {
	refresh bool
	reason  string
	token   string // revision token to record after a refresh
	set     *Set   // usable local set when refresh is false
}

// EnsureCurrent makes sure every descriptor is present locally and belongs to
// the current revision, refreshing the whole set when any part is stale. It
// runs one pass and does not retry; errors are fatal for startup.
func (m *Manager) EnsureCurrent(ctx context.Context, descriptors []Descriptor) (*Set, error) {
	if len(descriptors) == 0 {
		return nil, errors.Newf("no artifacts requested").
			Component("artifact").
			Category(errors.CategoryValidation).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	log := m.log.With(
		logger.String("store", m.store.Name()),
		logger.String("policy", string(m.opts.Policy)),
		logger.String("dir", m.opts.Dir))

	d, err := m.decide(ctx, descriptors, log)
	if err != nil {
		return nil, err
	}

	set := d.set
	if d.refresh {
		m.obs.RecordRefresh(d.reason)
		log.Info("refreshing artifact set",
			logger.String("reason", d.reason),
			logger.String("revision", d.token),
			logger.Int("artifacts", len(descriptors)))

		set, err = m.refresh(ctx, descriptors, d.token, log)
		if err != nil {
			log.Error("artifact refresh failed", logger.Error(err))
			return nil, err
		}
	}

	log.Info("artifacts ready",
		logger.String("revision", set.Revision),
		logger.Bool("refreshed", d.refresh),
		logger.Duration("elapsed", time.Since(start)))

	m.current = set
	return set, nil
}

func (m *Manager) decide(ctx context.Context, descriptors []Descriptor, log logger.Logger) (decision, error) {
	record, recordErr := m.records.Load()
	if recordErr != nil && !errors.Is(recordErr, ErrCorruptRecord) {
		return decision{}, recordErr
	}
	marker := m.markerPresent()
	missing := m.missing(descriptors)

	policy := m.opts.Policy
	token := ""
	if policy == PolicyRevision {
		remote, err := m.store.Revision(ctx)
		switch {
		case err == nil:
			token = remote
		case errors.Is(err, ErrRevisionUnavailable):
			log.Warn("store does not report revisions, checking file presence only")
			policy = PolicyPresence
		default:
			return m.offline(ctx, descriptors, record, recordErr, marker, missing, err, log)
		}
	}

	switch {
	case recordErr != nil:
		log.Warn("revision record unreadable", logger.Error(recordErr))
		return decision{refresh: true, reason: ReasonCorruptRecord, token: token}, nil
	case marker:
		return decision{refresh: true, reason: ReasonInterrupted, token: token}, nil
	case len(missing) > 0:
		log.Info("artifacts missing locally", logger.Any("missing", missing))
		return decision{refresh: true, reason: ReasonMissing, token: token}, nil
	}

	if record == nil {
		if policy == PolicyRevision {
			return decision{refresh: true, reason: ReasonNoRecord, token: token}, nil
		}
		set, err := m.adopt(ctx, descriptors, log)
		if err != nil {
			return decision{}, err
		}
		return decision{set: set}, nil
	}

	if policy == PolicyRevision && record.Token != token {
		log.Info("remote revision changed",
			logger.String("local", record.Token),
			logger.String("remote", token))
		return decision{refresh: true, reason: ReasonRevisionChanged, token: token}, nil
	}

	if !m.opts.VerifyDigests {
		set, err := m.fromRecord(descriptors, record)
		if err != nil {
			return decision{}, err
		}
		return decision{set: set}, nil
	}

	set, mismatch, err := m.verify(ctx, descriptors, record)
	if err != nil {
		return decision{}, err
	}
	if mismatch != "" {
		log.Warn("artifact digest does not match record", logger.String("artifact", mismatch))
		return decision{refresh: true, reason: ReasonDigestMismatch, token: token}, nil
	}
	return decision{set: set}, nil
}

// offline handles a revision query failure. Local artifacts are used only when
// they form a complete, verified set; anything less is fatal.
func (m *Manager) offline(ctx context.Context, descriptors []Descriptor, record *Revision, recordErr error,
	marker bool, missing []string, remoteErr error, log logger.Logger) (decision, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return decision{}, m.cancelled(ctxErr)
	}

	reason := ""
	switch {
	case recordErr != nil:
		reason = "revision record corrupt"
	case record == nil:
		reason = "no revision record"
	case marker:
		reason = "previous refresh did not complete"
	case len(missing) > 0:
		reason = fmt.Sprintf("missing %v", missing)
	}

	if reason == "" {
		set, mismatch, err := m.verify(ctx, descriptors, record)
		if err != nil {
			return decision{}, err
		}
		if mismatch == "" {
			log.Warn("remote revision unavailable, using verified local artifacts",
				logger.String("revision", record.Token),
				logger.Error(remoteErr))
			return decision{set: set}, nil
		}
		reason = fmt.Sprintf("digest mismatch for %s", mismatch)
	}

	category := errors.CategoryNetwork
	if errors.Is(remoteErr, ErrUnauthorized) {
		category = errors.CategoryAuthentication
	}
	return decision{}, errors.New(fmt.Errorf("query remote revision from %s: %w (no usable local artifacts: %s)",
		m.store.Name(), remoteErr, reason)).
		Component("artifact").
		Category(category).
		Context("store", m.store.Name()).
		Context("dir", m.opts.Dir).
		Build()
}

// adopt records digests for files that are present without a record, used
// by the presence policy.
func (m *Manager) adopt(ctx context.Context, descriptors []Descriptor, log logger.Logger) (*Set, error) {
	locals, err := m.digestAll(ctx, descriptors)
	if err != nil {
		return nil, err
	}
	rev := &Revision{Digests: digestMap(locals), AppliedAt: time.Now().UTC()}
	if err := m.records.Save(rev); err != nil {
		return nil, err
	}
	log.Info("adopted existing artifacts", logger.Int("artifacts", len(locals)))
	return NewSet(m.opts.Dir, "", locals), nil
}

// fromRecord builds a set trusting the recorded digests.
func (m *Manager) fromRecord(descriptors []Descriptor, record *Revision) (*Set, error) {
	locals := make([]Local, 0, len(descriptors))
	for _, d := range descriptors {
		path := d.LocalPath(m.opts.Dir)
		info, err := os.Stat(path)
		if err != nil {
			return nil, m.fileError("stat artifact", path, err)
		}
		locals = append(locals, Local{Descriptor: d, Path: path, Digest: record.Digests[d.Name], Size: info.Size()})
	}
	return NewSet(m.opts.Dir, record.Token, locals), nil
}

// verify hashes every artifact and returns the first whose digest differs
// from the record.
func (m *Manager) verify(ctx context.Context, descriptors []Descriptor, record *Revision) (*Set, string, error) {
	locals, err := m.digestAll(ctx, descriptors)
	if err != nil {
		return nil, "", err
	}
	for _, l := range locals {
		if !integrity.Compare(record.Digests[l.Name], l.Digest) {
			return nil, l.Name, nil
		}
	}
	return NewSet(m.opts.Dir, record.Token, locals), "", nil
}

// refresh replaces the whole artifact set. The revision record is the commit
// point: until it is saved the pending marker stays on disk.
func (m *Manager) refresh(ctx context.Context, descriptors []Descriptor, token string, log logger.Logger) (*Set, error) {
	if err := os.MkdirAll(m.opts.Dir, permArtifactDir); err != nil {
		return nil, m.fileError("create artifact directory", m.opts.Dir, err)
	}
	if err := m.writeMarker(); err != nil {
		return nil, err
	}
	m.clearDir(log)

	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return nil, m.cancelled(err)
		}
		if err := m.download(ctx, d, token, log); err != nil {
			return nil, err
		}
	}

	locals, err := m.digestAll(ctx, descriptors)
	if err != nil {
		return nil, err
	}

	rev := &Revision{Token: token, Digests: digestMap(locals), AppliedAt: time.Now().UTC()}
	if err := m.records.Save(rev); err != nil {
		return nil, err
	}

	if err := os.Remove(m.markerPath()); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove refresh marker", logger.String("path", m.markerPath()), logger.Error(err))
	}

	return NewSet(m.opts.Dir, token, locals), nil
}

func (m *Manager) download(ctx context.Context, d Descriptor, token string, log logger.Logger) error {
	want := d.LocalPath(m.opts.Dir)
	start := time.Now()

	fetched, err := m.store.Fetch(ctx, FetchRequest{Revision: token, RemoteID: d.RemoteID, DestDir: m.opts.Dir})
	if err != nil {
		m.obs.RecordDownload(d.Name, 0, time.Since(start), err)
		return errors.New(fmt.Errorf("download %s from %s: %w", d.RemoteID, m.store.Name(), err)).
			Component("artifact").
			Category(fetchCategory(err)).
			ArtifactContext(d.Name, want).
			Context("remote_id", d.RemoteID).
			Build()
	}

	path, err := m.place(d, fetched, log)
	if err != nil {
		m.obs.RecordDownload(d.Name, 0, time.Since(start), err)
		return err
	}

	var size int64
	if info, statErr := os.Stat(path); statErr == nil {
		size = info.Size()
	}
	m.obs.RecordDownload(d.Name, size, time.Since(start), nil)
	log.Debug("artifact downloaded",
		logger.String("artifact", d.Name),
		logger.String("path", path),
		logger.Int64("bytes", size),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// digestAll stats and hashes every artifact with bounded parallelism. Files
// are confirmed present before any hashing starts.
func (m *Manager) digestAll(ctx context.Context, descriptors []Descriptor) ([]Local, error) {
	locals := make([]Local, len(descriptors))
	for i, d := range descriptors {
		path := d.LocalPath(m.opts.Dir)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, errors.New(fmt.Errorf("%w: %s", ErrMissingArtifact, path)).
				Component("artifact").
				Category(errors.CategoryArtifact).
				ArtifactContext(d.Name, path).
				Build()
		}
		locals[i] = Local{Descriptor: d, Path: path, Size: info.Size()}
	}

	workers := m.opts.DigestWorkers
	if workers <= 0 {
		workers = min(len(descriptors), runtime.NumCPU())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range locals {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			sum, err := integrity.Digest(locals[i].Path)
			if err != nil {
				return err
			}
			m.obs.RecordDigest(locals[i].Name, time.Since(start))
			locals[i].Digest = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, m.cancelled(ctxErr)
		}
		return nil, err
	}
	return locals, nil
}

// clearDir removes everything inside the artifact directory except the
// pending marker and a record stored inside it. Failures are logged only.
func (m *Manager) clearDir(log logger.Logger) {
	entries, err := os.ReadDir(m.opts.Dir)
	if err != nil {
		log.Warn("failed to list artifact directory", logger.Error(err))
		return
	}

	keep := map[string]bool{
		filepath.Clean(m.markerPath()):            true,
		filepath.Clean(m.records.Path()):          true,
		filepath.Clean(m.records.Path() + ".tmp"): true,
	}
	for _, entry := range entries {
		path := filepath.Join(m.opts.Dir, entry.Name())
		if keep[filepath.Clean(path)] {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Warn("failed to remove stale artifact", logger.String("path", path), logger.Error(err))
		}
	}
}

// nestedIn reports whether path lies below a subdirectory of dir. A path
// directly inside dir is not nested.
func nestedIn(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return filepath.Dir(rel) != "."
}

func (m *Manager) missing(descriptors []Descriptor) []string {
	var names []string
	for _, d := range descriptors {
		info, err := os.Stat(d.LocalPath(m.opts.Dir))
		if err != nil || !info.Mode().IsRegular() {
			names = append(names, d.Name)
		}
	}
	return names
}

func (m *Manager) markerPath() string {
	return filepath.Join(m.opts.Dir, PendingMarker)
}

func (m *Manager) markerPresent() bool {
	_, err := os.Stat(m.markerPath())
	return err == nil
}

func (m *Manager) writeMarker() error {
	content := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(m.markerPath(), content, permRecordFile); err != nil {
		return m.fileError("write refresh marker", m.markerPath(), err)
	}
	return nil
}

func (m *Manager) fileError(op, path string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("artifact").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}

func (m *Manager) cancelled(err error) error {
	return errors.New(fmt.Errorf("artifact refresh aborted: %w", err)).
		Component("artifact").
		Category(errors.CategoryCancellation).
		Context("dir", m.opts.Dir).
		Build()
}

func fetchCategory(err error) errors.ErrorCategory {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return errors.CategoryAuthentication
	case errors.Is(err, ErrRemoteNotFound):
		return errors.CategoryNotFound
	case errors.Is(err, context.Canceled):
		return errors.CategoryCancellation
	case errors.Is(err, context.DeadlineExceeded):
		return errors.CategoryTimeout
	default:
		return errors.CategoryNetwork
	}
}

func digestMap(locals []Local) map[string]string {
	out := make(map[string]string, len(locals))
	for _, l := range locals {
		out[l.Name] = l.Digest
	}
	return out
}
