package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orthovision/orthovision/internal/api"
	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/buildinfo"
	"github.com/orthovision/orthovision/internal/cascade"
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/observability"
	"github.com/orthovision/orthovision/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// Serve brings up the service and blocks until ctx is done. Artifacts are
// made current and models loaded before the listener opens; any failure
// there aborts startup.
func Serve(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	log := GetLogger()
	log.Info("starting orthovision",
		logger.String("version", build.GetVersion()),
		logger.String("build_date", build.GetBuildDate()))

	if err := telemetry.Init(&settings.Sentry, telemetry.Options{Version: build.GetVersion()}); err != nil {
		return err
	}
	defer telemetry.Shutdown(telemetryFlushTimeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		metrics     *observability.Metrics
		artifactObs artifact.Observer
		cascadeObs  cascade.Observer
		wg          sync.WaitGroup
	)
	if settings.Metrics.Enabled {
		var err error
		metrics, err = observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		artifactObs = metrics.Artifacts
		cascadeObs = metrics.Inference

		if settings.Metrics.Listen != "" {
			endpoint, err := observability.NewEndpoint(&settings.Metrics, metrics)
			if err != nil {
				return err
			}
			if err := endpoint.Start(ctx, &wg); err != nil {
				return err
			}
			// the endpoint stops on cancel, so cancel must precede the wait
			defer func() {
				cancel()
				wg.Wait()
			}()
		}
	}

	set, err := Sync(ctx, settings, artifactObs, false)
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	if metrics != nil {
		metrics.Artifacts.SetRevision(set.Revision)
	}

	engine, err := BuildEngine(set, settings, cascadeObs)
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn("error releasing models", logger.Error(err))
		}
	}()
	if metrics != nil {
		metrics.Inference.SetModelLoaded("classifier", engine.Models.ClassifierBackend())
		for _, name := range engine.Stages() {
			metrics.Inference.SetModelLoaded(name, "onnx")
		}
	}

	opts := []api.ServerOption{
		api.WithEngine(engine),
		api.WithArtifacts(set),
		api.WithVersion(build.GetVersion()),
	}
	if metrics != nil {
		opts = append(opts, api.WithMetrics(metrics))
	}
	server, err := api.New(api.ConfigFromSettings(settings), opts...)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	log.Info("orthovision ready",
		logger.String("address", server.Addr().String()),
		logger.String("revision", set.Revision),
		logger.Int("stages", len(engine.Stages())))

	<-ctx.Done()
	log.Info("shutdown signal received")
	return server.Shutdown()
}
