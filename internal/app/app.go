// Package app wires configuration, artifacts, models and the HTTP facade
// into the commands of the orthovision binary.
package app

import (
	"context"
	"fmt"

	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/artifact/stores"
	"github.com/orthovision/orthovision/internal/cascade"
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/scoring"
	"github.com/orthovision/orthovision/internal/scoring/models"
)

// GetLogger returns the app module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// NewManager opens the configured store and returns an artifact manager for
// it along with the descriptors of every configured file. The caller closes
// the store.
func NewManager(settings *conf.Settings, obs artifact.Observer) (*artifact.Manager, artifact.Store, []artifact.Descriptor, error) {
	a := &settings.Artifacts
	store, err := stores.New(a, nil, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	m, err := artifact.NewManager(store, artifact.Options{
		Dir:           a.Dir,
		RecordPath:    a.RevisionRecordPath(),
		Policy:        artifact.Policy(a.Policy),
		VerifyDigests: a.VerifyDigests,
		DigestWorkers: a.DigestWorkers,
	}, nil, obs)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	return m, store, stores.Descriptors(a.Files), nil
}

// Sync makes the local artifact directory current. force discards the
// local state first so every file is downloaded again.
func Sync(ctx context.Context, settings *conf.Settings, obs artifact.Observer, force bool) (*artifact.Set, error) {
	m, store, descriptors, err := NewManager(settings, obs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	if force {
		if err := m.MarkStale(); err != nil {
			return nil, err
		}
	}
	return m.EnsureCurrent(ctx, descriptors)
}

// Engine bundles the cascade with the models it owns.
type Engine struct {
	*cascade.Engine
	Models *models.Models
}

// Close releases the models.
func (e *Engine) Close() error {
	return e.Models.Close()
}

// BuildEngine loads the classifier and every stage detector from set and
// assembles the cascade.
func BuildEngine(set *artifact.Set, settings *conf.Settings, obs cascade.Observer) (*Engine, error) {
	detectorArtifacts := make([]string, 0, len(settings.Cascade.Stages))
	for _, st := range settings.Cascade.Stages {
		detectorArtifacts = append(detectorArtifacts, st.Artifact)
	}

	loaded, err := models.Load(set, &settings.Scoring, detectorArtifacts, nil)
	if err != nil {
		return nil, err
	}
	engine, err := assemble(loaded.Classifier, loaded.Detector, settings, obs)
	if err != nil {
		_ = loaded.Close()
		return nil, err
	}
	return &Engine{Engine: engine, Models: loaded}, nil
}

// assemble builds the cascade from loaded models.
func assemble(classifier scoring.Classifier, lookup cascade.DetectorLookup, settings *conf.Settings, obs cascade.Observer) (*cascade.Engine, error) {
	stages, err := cascade.StagesFromSettings(settings.Cascade.Stages, lookup)
	if err != nil {
		return nil, fmt.Errorf("cascade stages: %w", err)
	}
	return cascade.New(classifier, stages, cascade.Options{
		Gate:     settings.Cascade.Gate,
		Messages: cascade.MessagesFromSettings(settings.Cascade.Messages),
		Observer: obs,
	})
}
