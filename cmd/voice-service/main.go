// main package for the voice-service worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/engine/flow"
	"github.com/book-expert/voice-service/internal/engine/orpheus"
	"github.com/book-expert/voice-service/internal/engine/registry"
	"github.com/book-expert/voice-service/internal/rvc"
	"github.com/book-expert/voice-service/internal/store/jobstore"
	"github.com/book-expert/voice-service/internal/store/objectstore"
	"github.com/book-expert/voice-service/internal/store/profilestore"
	"github.com/book-expert/voice-service/internal/text"
	"github.com/book-expert/voice-service/internal/whisper"
	"github.com/book-expert/voice-service/internal/worker"
)

var errEngineNotConfigured = errors.New("engine referenced by synthesis policy is not configured")

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voice-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// Bootstrap logger covers the window before the configured log
	// directory is known.
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, finalLog)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	err = ensureJobStream(jetstreamContext, cfg.NATS)
	if err != nil {
		return err
	}

	deps, err := buildDeps(cfg, jetstreamContext, log)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		jetstreamContext,
		workerSettings(cfg),
		deps,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System(
		"Voice service initialized. Listening for jobs on subject: %s",
		cfg.NATS.JobSubmittedSubject,
	)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped: %w", runErr)
	}

	return nil
}

// ensureJobStream creates the job stream when no other process has yet.
func ensureJobStream(js nats.JetStreamContext, natsCfg config.NATSConfig) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name: natsCfg.JobStreamName,
		Subjects: []string{
			natsCfg.JobSubmittedSubject,
			natsCfg.JobFinishedSubject,
		},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to ensure job stream %q: %w", natsCfg.JobStreamName, err)
	}

	return nil
}

func buildDeps(
	cfg *config.Config,
	js nats.JetStreamContext,
	log *logger.Logger,
) (worker.Deps, error) {
	jobs, err := jobstore.New(js, cfg.NATS.JobBucket)
	if err != nil {
		return worker.Deps{}, fmt.Errorf("failed to create job store: %w", err)
	}

	voiceProfiles, err := profilestore.NewVoiceProfileStore(js, cfg.NATS.VoiceProfileBucket)
	if err != nil {
		return worker.Deps{}, fmt.Errorf("failed to create voice profile store: %w", err)
	}

	qualityProfiles, err := profilestore.NewQualityProfileStore(js, cfg.NATS.QualityProfileBucket)
	if err != nil {
		return worker.Deps{}, fmt.Errorf("failed to create quality profile store: %w", err)
	}

	conversionModels, err := profilestore.NewConversionModelStore(js, cfg.NATS.ConversionModelBucket)
	if err != nil {
		return worker.Deps{}, fmt.Errorf("failed to create conversion model store: %w", err)
	}

	audioStore, err := objectstore.New(js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return worker.Deps{}, fmt.Errorf("failed to create audio object store: %w", err)
	}

	transcriber := whisper.NewClient(
		cfg.Whisper.BaseURL,
		cfg.Whisper.Model,
		cfg.Whisper.Device,
		time.Duration(cfg.Whisper.TimeoutSeconds)*time.Second,
	)

	constructors, err := engineConstructors(cfg, transcriber, log)
	if err != nil {
		return worker.Deps{}, err
	}

	resolver := registry.New(constructors, cfg.Synthesis.MemoryPressureMode, log)

	var converter core.VoiceConverter
	if cfg.Conversion.RunnerURL != "" {
		converter = rvc.NewConverter(
			cfg.Conversion.RunnerURL,
			cfg.Conversion.Device,
			time.Duration(cfg.Conversion.TimeoutSeconds)*time.Second,
		)
	}

	return worker.Deps{
		Jobs:             jobs,
		VoiceProfiles:    voiceProfiles,
		QualityProfiles:  qualityProfiles,
		ConversionModels: conversionModels,
		Audio:            audioStore,
		Resolver:         resolver,
		Converter:        converter,
		Normalizer:       text.NewNormalizer(),
		Log:              log,
	}, nil
}

// engineConstructors wires one lazy constructor per configured engine.
// Construction happens inside the registry on first resolve, so a runner
// that is down only fails jobs that actually need it.
func engineConstructors(
	cfg *config.Config,
	transcriber core.Transcriber,
	log *logger.Logger,
) (map[string]registry.Constructor, error) {
	constructors := make(map[string]registry.Constructor, len(cfg.Synthesis.Engines))

	timeout := time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second

	for engineID, engineCfg := range cfg.Synthesis.Engines {
		switch engineID {
		case orpheus.EngineName:
			opts := orpheus.Options{
				RunnerURL:     engineCfg.RunnerURL,
				ModelPath:     engineCfg.ModelPath,
				Device:        engineCfg.Device,
				FallbackToCPU: cfg.Synthesis.FallbackEnabled,
				AcceptLicense: cfg.Synthesis.AcceptLicense,
				Timeout:       timeout,
				MinRefSeconds: cfg.Synthesis.MinRefDurationSeconds,
				MaxRefSeconds: cfg.Synthesis.MaxRefDurationSeconds,
				Transcriber:   transcriber,
				Logger:        log,
			}

			constructors[engineID] = func(ctx context.Context) (core.SynthesisBackend, error) {
				return orpheus.NewEngine(ctx, opts)
			}
		case flow.EngineName:
			opts := flow.Options{
				RunnerURL:     engineCfg.RunnerURL,
				Checkpoint:    engineCfg.ModelPath,
				Device:        engineCfg.Device,
				FallbackToCPU: cfg.Synthesis.FallbackEnabled,
				AcceptLicense: cfg.Synthesis.AcceptLicense,
				Timeout:       timeout,
				MinRefSeconds: cfg.Synthesis.MinRefDurationSeconds,
				MaxRefSeconds: cfg.Synthesis.MaxRefDurationSeconds,
				Transcriber:   transcriber,
				Logger:        log,
			}

			constructors[engineID] = func(ctx context.Context) (core.SynthesisBackend, error) {
				return flow.NewEngine(ctx, opts)
			}
		default:
			return nil, fmt.Errorf("%w: %q", core.ErrUnknownEngine, engineID)
		}
	}

	if _, ok := constructors[cfg.Synthesis.DefaultEngine]; !ok {
		return nil, fmt.Errorf("%w: default %q", errEngineNotConfigured, cfg.Synthesis.DefaultEngine)
	}

	if cfg.Synthesis.FallbackEnabled {
		if _, ok := constructors[cfg.Synthesis.FallbackEngine]; !ok {
			return nil, fmt.Errorf("%w: fallback %q", errEngineNotConfigured, cfg.Synthesis.FallbackEngine)
		}
	}

	return constructors, nil
}

func workerSettings(cfg *config.Config) worker.Settings {
	return worker.Settings{
		Subject:            cfg.NATS.JobSubmittedSubject,
		QueueGroup:         cfg.NATS.JobConsumerName,
		FinishedSubject:    cfg.NATS.JobFinishedSubject,
		DefaultEngine:      cfg.Synthesis.DefaultEngine,
		FallbackEngine:     cfg.Synthesis.FallbackEngine,
		FallbackEnabled:    cfg.Synthesis.FallbackEnabled,
		DefaultQualityTier: cfg.Synthesis.DefaultQualityTier,
		SynthesisTimeout:   time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second,
		MaxAttempts:        cfg.Synthesis.MaxAttempts,
		RetryBackoff:       time.Duration(cfg.Synthesis.RetryBackoffSeconds) * time.Second,
		ProfileTTL:         time.Duration(cfg.Synthesis.ProfileTTLDays) * 24 * time.Hour,
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
