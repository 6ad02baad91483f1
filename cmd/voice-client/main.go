// main package for the voice-client, a command-line tool that submits
// synthesis and cloning jobs and optionally waits for their results.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/store/jobstore"
	"github.com/book-expert/voice-service/internal/store/objectstore"
)

// Flag descriptions.
const (
	flagModeDesc       = "Job mode: synthesize, synthesize-cloned or clone"
	flagTextDesc       = "Text to convert to speech"
	flagLanguageDesc   = "BCP-47 style language code (e.g. en, zh)"
	flagVoiceDesc      = "Preset voice name"
	flagProfileDesc    = "Voice profile id for synthesize-cloned"
	flagTierDesc       = "Quality tier: stable, balanced or expressive"
	flagEngineDesc     = "Engine override (orpheus, flow); empty uses the service default"
	flagRefDesc        = "Reference audio file (.wav) for clone jobs"
	flagNameDesc       = "Profile name for clone jobs"
	flagTranscriptDesc = "Transcript of the reference audio; transcribed automatically when empty"
	flagConvertDesc    = "Conversion model id; enables voice conversion"
	flagSpeedDesc      = "Playback speed multiplier"
	flagOutputDesc     = "Path to write the finished audio to (implies -wait)"
	flagWaitDesc       = "Poll until the job reaches a terminal state"
	flagTimeoutDesc    = "Maximum time to wait for a terminal state"
)

// Static errors.
var (
	errTextRequired    = errors.New("synthesis jobs require -text")
	errProfileRequired = errors.New("synthesize-cloned jobs require -profile")
	errRefRequired     = errors.New("clone jobs require -ref")
	errUnknownMode     = errors.New("unknown job mode")
	errJobFailed       = errors.New("job failed")
	errWaitTimedOut    = errors.New("timed out waiting for job")
	errJobNoOutput     = errors.New("job completed without an output artifact")
)

const pollInterval = 2 * time.Second

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	mode       string
	text       string
	language   string
	voice      string
	profile    string
	tier       string
	engine     string
	ref        string
	name       string
	transcript string
	convert    string
	speed      float64
	output     string
	wait       bool
	timeout    time.Duration
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	clientLog, err := logger.New(os.TempDir(), "voice-client.log")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		closeErr := clientLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	cfg, err := config.Load(clientLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	return submit(ctx, cfg, flags)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.mode, "mode", string(core.ModeSynthesize), flagModeDesc)
	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.language, "language", "en", flagLanguageDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.StringVar(&flags.profile, "profile", "", flagProfileDesc)
	flag.StringVar(&flags.tier, "tier", "", flagTierDesc)
	flag.StringVar(&flags.engine, "engine", "", flagEngineDesc)
	flag.StringVar(&flags.ref, "ref", "", flagRefDesc)
	flag.StringVar(&flags.name, "name", "", flagNameDesc)
	flag.StringVar(&flags.transcript, "transcript", "", flagTranscriptDesc)
	flag.StringVar(&flags.convert, "convert", "", flagConvertDesc)
	flag.Float64Var(&flags.speed, "speed", 0, flagSpeedDesc)
	flag.StringVar(&flags.output, "output", "", flagOutputDesc)
	flag.BoolVar(&flags.wait, "wait", false, flagWaitDesc)
	flag.DurationVar(&flags.timeout, "timeout", 10*time.Minute, flagTimeoutDesc)
	flag.Parse()

	if flags.output != "" {
		flags.wait = true
	}

	return flags
}

func submit(ctx context.Context, cfg *config.Config, flags appFlags) error {
	job, err := buildJob(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	jobs, err := jobstore.New(jetstreamContext, cfg.NATS.JobBucket)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open audio store: %w", err)
	}

	if job.Mode == core.ModeClone {
		uploadErr := uploadReference(ctx, audioStore, job, flags.ref)
		if uploadErr != nil {
			return uploadErr
		}
	}

	saveErr := jobs.SaveJob(ctx, job)
	if saveErr != nil {
		return fmt.Errorf("failed to save job record: %w", saveErr)
	}

	publishErr := publishSubmitted(jetstreamContext, cfg.NATS.JobSubmittedSubject, job.ID)
	if publishErr != nil {
		return publishErr
	}

	fmt.Printf("Submitted job: %s\n", job.ID)

	if !flags.wait {
		return nil
	}

	return waitForJob(ctx, jobs, audioStore, job.ID, flags.output)
}

// buildJob validates the flags for the requested mode and assembles the
// queued job record.
func buildJob(flags appFlags) (*core.Job, error) {
	mode := core.JobMode(flags.mode)

	request := core.SynthesisRequest{
		Text:             flags.text,
		Language:         flags.language,
		PresetVoice:      flags.voice,
		VoiceProfileID:   flags.profile,
		QualityTier:      flags.tier,
		SpeedMultiplier:  flags.speed,
		Engine:           flags.engine,
		EnableConversion: flags.convert != "",
	}
	if flags.convert != "" {
		request.ConversionModelID = flags.convert
	}

	switch mode {
	case core.ModeSynthesize:
		if strings.TrimSpace(flags.text) == "" {
			return nil, errTextRequired
		}
	case core.ModeSynthesizeCloned:
		if strings.TrimSpace(flags.text) == "" {
			return nil, errTextRequired
		}

		if flags.profile == "" {
			return nil, errProfileRequired
		}
	case core.ModeClone:
		if flags.ref == "" {
			return nil, errRefRequired
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownMode, flags.mode)
	}

	return &core.Job{
		ID:          uuid.NewString(),
		Mode:        mode,
		Status:      core.StatusQueued,
		Request:     request,
		ProfileName: flags.name,
		Transcript:  flags.transcript,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// uploadReference stores the local reference recording and records its key
// on the job.
func uploadReference(
	ctx context.Context,
	audioStore *objectstore.NatsObjectStore,
	job *core.Job,
	refPath string,
) error {
	data, err := os.ReadFile(refPath)
	if err != nil {
		return fmt.Errorf("failed to read reference audio %q: %w", refPath, err)
	}

	key := "refs/" + job.ID + ".wav"

	err = audioStore.Upload(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to upload reference audio: %w", err)
	}

	job.ReferenceAudioKey = key

	return nil
}

func publishSubmitted(js nats.JetStreamContext, subject, jobID string) error {
	event := core.JobSubmittedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		JobID: jobID,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submitted event: %w", err)
	}

	_, err = js.Publish(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to subject %q: %w", subject, err)
	}

	return nil
}

// waitForJob polls the job record until it reaches a terminal state, then
// reports the outcome and optionally downloads the artifact.
func waitForJob(
	ctx context.Context,
	jobs *jobstore.NatsJobStore,
	audioStore *objectstore.NatsObjectStore,
	jobID string,
	outputPath string,
) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", errWaitTimedOut, jobID)
		case <-ticker.C:
		}

		job, err := jobs.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to poll job %q: %w", jobID, err)
		}

		if !job.Terminal() {
			continue
		}

		return reportResult(ctx, audioStore, job, outputPath)
	}
}

func reportResult(
	ctx context.Context,
	audioStore *objectstore.NatsObjectStore,
	job *core.Job,
	outputPath string,
) error {
	if job.Status == core.StatusFailed {
		return fmt.Errorf("%w: %s", errJobFailed, job.ErrorSummary)
	}

	for _, warning := range job.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}

	if job.Mode == core.ModeClone {
		fmt.Printf("Created voice profile: %s\n", job.ProfileID)

		return nil
	}

	fmt.Printf("Completed job %s (%.1fs of audio, engine %s)\n", job.ID, job.DurationSeconds, job.EngineUsed)

	if outputPath == "" {
		return nil
	}

	if job.OutputKey == "" {
		return fmt.Errorf("%w: %s", errJobNoOutput, job.ID)
	}

	data, err := audioStore.Download(ctx, job.OutputKey)
	if err != nil {
		return fmt.Errorf("failed to download artifact %q: %w", job.OutputKey, err)
	}

	err = os.WriteFile(outputPath, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write output file %q: %w", outputPath, err)
	}

	fmt.Printf("Wrote: %s\n", outputPath)

	return nil
}
