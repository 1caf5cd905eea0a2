package transcription

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ctscribe/internal/broker"
	"ctscribe/internal/captions"
	"ctscribe/internal/config"
	"ctscribe/internal/jobstatus"
	"ctscribe/internal/keypool"
	"ctscribe/internal/logging"
	"ctscribe/internal/recognizer"
	"ctscribe/internal/services"
)

// CredentialPool hands out speech credentials per resource.
type CredentialPool interface {
	Acquire(resourceID string) (keypool.Credential, error)
	Release(cred keypool.Credential, resourceID string)
	Throttle(ctx context.Context, cred keypool.Credential) error
}

// AudioExtractor produces recognizer input from media.
type AudioExtractor interface {
	Extract(ctx context.Context, source, dest string) error
}

// Ledger records job runs.
type Ledger interface {
	Start(ctx context.Context, queue, resourceID string, force bool) (*jobstatus.Run, error)
	Finish(ctx context.Context, run *jobstatus.Run, outcome jobstatus.Outcome) error
}

// Publisher copies finished caption files elsewhere.
type Publisher interface {
	Upload(ctx context.Context, resourceID string, files ...string) ([]string, error)
}

// Dependencies are the collaborators a Worker drives. Ledger and Publisher
// are optional.
type Dependencies struct {
	Pool       CredentialPool
	Recognizer recognizer.Recognizer
	Extractor  AudioExtractor
	Ledger     Ledger
	Publisher  Publisher
}

// Worker handles Transcribe and GenerateCaptionFiles jobs.
type Worker struct {
	deps           Dependencies
	segmenter      *captions.Segmenter
	outputDir      string
	workDir        string
	speechLanguage string
	captionLang    string
	maxLineChars   int
	keepAudio      bool
	logger         *slog.Logger
}

// New builds a Worker from configuration.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Worker, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcription", "init", "configuration is required", nil)
	}
	if deps.Pool == nil || deps.Recognizer == nil || deps.Extractor == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcription", "init", "credential pool, recognizer, and audio extractor are required", nil)
	}
	return &Worker{
		deps:           deps,
		segmenter:      captions.NewSegmenter(SegmenterOptions(cfg.Captions)),
		outputDir:      cfg.Paths.OutputDir,
		workDir:        cfg.Paths.WorkDir,
		speechLanguage: cfg.Speech.Language,
		captionLang:    cfg.Captions.Language,
		maxLineChars:   cfg.Captions.MaxLineChars,
		keepAudio:      cfg.Workflow.KeepAudio,
		logger:         logging.NewComponentLogger(logger, "transcription"),
	}, nil
}

// SegmenterOptions maps caption configuration onto segmentation options.
func SegmenterOptions(c config.Captions) captions.Options {
	return captions.Options{
		MaxCaptionDurationMS: int64(c.MaxCaptionDurationMS),
		MaxInterwordGapMS:    int64(c.MaxInterwordGapMS),
		MaxCaptionWords:      c.MaxCaptionWords,
		EndOrphanCount:       c.EndOrphanCount,
		NotableSilenceMS:     int64(c.NotableSilenceMS),
		FudgeStartGapMS:      int64(c.FudgeStartGapMS),
	}
}

// HandleTranscribe produces captions for one video.
func (w *Worker) HandleTranscribe(ctx context.Context, job Job, params broker.Parameters) (err error) {
	ctx = services.WithResourceID(ctx, job.VideoID)
	logger := logging.WithContext(ctx, w.logger)
	started := time.Now()

	run := w.startRun(ctx, logger, broker.QueueTranscribe, job.VideoID, params.Force)
	var outcome jobstatus.Outcome
	defer func() {
		outcome.Err = err
		w.finishRun(ctx, logger, run, outcome)
	}()

	if err := job.Validate("transcribe"); err != nil {
		return err
	}
	if err := requireFile(job.MediaPath, "transcribe"); err != nil {
		return err
	}

	paths := captions.OutputPaths(job.MediaPath, w.outputDir)
	if !params.Force && paths.Exists() {
		logger.Info("captions already exist; skipping",
			logging.String("srt", paths.SRT),
			logging.String("vtt", paths.VTT),
		)
		outcome.Skipped = true
		outcome.Outputs = []string{paths.SRT, paths.VTT}
		return nil
	}

	cred, err := w.deps.Pool.Acquire(job.VideoID)
	if err != nil {
		logging.WarnWithContext(logger, "credential not acquired", "credential_acquire_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "a job for this video is already running"),
		)
		return services.Wrap(services.ErrValidation, "transcribe", "acquire", "duplicate dispatch", err)
	}
	defer w.deps.Pool.Release(cred, job.VideoID)
	outcome.Region = cred.Region
	logger.Info("credential acquired", logging.String("credential", cred.String()))

	audioPath, err := w.extractAudio(ctx, job)
	if err != nil {
		return err
	}
	if !w.keepAudio {
		defer func() {
			if rmErr := os.Remove(audioPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logger.Debug("audio cleanup failed", logging.Error(rmErr))
			}
		}()
	}

	if err := w.deps.Pool.Throttle(ctx, cred); err != nil {
		return err
	}

	speechLanguage := w.speechLanguage
	if override := strings.TrimSpace(params.MetadataString(MetaSpeechLanguage)); override != "" {
		speechLanguage = override
	}
	transcript, err := w.deps.Recognizer.Recognize(ctx, recognizer.Request{
		AudioPath:   audioPath,
		Language:    speechLanguage,
		Credential:  cred,
		PhraseHints: splitHints(params.MetadataString(MetaPhraseHints)),
	})
	if err != nil {
		return err
	}
	outcome.SkippedWords = transcript.Skipped
	if transcript.Skipped > 0 {
		logging.WarnWithContext(logger, "malformed words skipped", "recognizer_words_skipped",
			logging.Int("skipped_words", transcript.Skipped),
			logging.String(logging.FieldErrorHint, "captions may be missing a few words"),
		)
	}

	cues := w.segmenter.Segment(transcript.Words)
	outcome.CueCount = len(cues)
	if problems := captions.Validate(cues); len(problems) > 0 {
		logging.WarnWithContext(logger, "caption timing problems", "caption_validation_failed",
			logging.Any("problems", problems),
			logging.String(logging.FieldErrorHint, "inspect recognizer word offsets"),
		)
	}

	lang := w.captionLanguage(params)
	if err := captions.WriteFiles(paths, cues, lang); err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "write captions", "", err)
	}
	outcome.Outputs = []string{paths.SRT, paths.VTT, paths.Cues}

	uris, err := w.publish(ctx, job.VideoID, paths.SRT, paths.VTT)
	if err != nil {
		return err
	}
	outcome.Outputs = append(outcome.Outputs, uris...)

	logger.Info("captions written",
		logging.Int("cues", len(cues)),
		logging.Int("words", len(transcript.Words)),
		logging.String("language", lang),
		logging.String("srt", paths.SRT),
		logging.String("vtt", paths.VTT),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// HandleGenerateCaptionFiles re-renders captions from the cue sidecar with
// long cues split to the configured line length.
func (w *Worker) HandleGenerateCaptionFiles(ctx context.Context, job Job, params broker.Parameters) (err error) {
	ctx = services.WithResourceID(ctx, job.VideoID)
	logger := logging.WithContext(ctx, w.logger)

	run := w.startRun(ctx, logger, broker.QueueGenerateCaptionFiles, job.VideoID, params.Force)
	var outcome jobstatus.Outcome
	defer func() {
		outcome.Err = err
		w.finishRun(ctx, logger, run, outcome)
	}()

	if err := job.Validate("generate captions"); err != nil {
		return err
	}
	paths := captions.OutputPaths(job.MediaPath, w.outputDir)
	if err := requireFile(paths.Cues, "generate captions"); err != nil {
		return err
	}
	cues, err := captions.ReadCueSidecar(paths.Cues)
	if err != nil {
		return services.Wrap(services.ErrValidation, "generate captions", "read cues", "cue sidecar is unreadable; rerun transcription", err)
	}

	split := captions.SplitLongCues(cues, w.maxLineChars)
	outcome.CueCount = len(split)
	lang := w.captionLanguage(params)
	render := captions.Paths{SRT: paths.SRT, VTT: paths.VTT}
	if err := captions.WriteFiles(render, split, lang); err != nil {
		return services.Wrap(services.ErrTransient, "generate captions", "write captions", "", err)
	}
	outcome.Outputs = []string{paths.SRT, paths.VTT}

	uris, err := w.publish(ctx, job.VideoID, paths.SRT, paths.VTT)
	if err != nil {
		return err
	}
	outcome.Outputs = append(outcome.Outputs, uris...)

	logger.Info("caption files regenerated",
		logging.Int("cues", len(cues)),
		logging.Int("split_cues", len(split)),
		logging.Int("max_line_chars", w.maxLineChars),
	)
	return nil
}

func (w *Worker) extractAudio(ctx context.Context, job Job) (string, error) {
	if err := os.MkdirAll(w.workDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "transcribe", "work dir", w.workDir, err)
	}
	name := fmt.Sprintf("%s-%s.wav", safeName(job.VideoID), uuid.NewString()[:8])
	audioPath := filepath.Join(w.workDir, name)
	if err := w.deps.Extractor.Extract(ctx, job.MediaPath, audioPath); err != nil {
		return "", err
	}
	return audioPath, nil
}

func (w *Worker) captionLanguage(params broker.Parameters) string {
	if lang := strings.TrimSpace(params.MetadataString(MetaLanguage)); lang != "" {
		return lang
	}
	return w.captionLang
}

func (w *Worker) publish(ctx context.Context, resourceID string, files ...string) ([]string, error) {
	if w.deps.Publisher == nil {
		return nil, nil
	}
	return w.deps.Publisher.Upload(ctx, resourceID, files...)
}

func (w *Worker) startRun(ctx context.Context, logger *slog.Logger, queue, resourceID string, force bool) *jobstatus.Run {
	if w.deps.Ledger == nil {
		return nil
	}
	run, err := w.deps.Ledger.Start(ctx, queue, resourceID, force)
	if err != nil {
		logging.WarnWithContext(logger, "job ledger start failed", "job_ledger_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the jobs database in the state directory"),
		)
		return nil
	}
	return run
}

func (w *Worker) finishRun(ctx context.Context, logger *slog.Logger, run *jobstatus.Run, outcome jobstatus.Outcome) {
	if run == nil || w.deps.Ledger == nil {
		return
	}
	if err := w.deps.Ledger.Finish(ctx, run, outcome); err != nil {
		logging.WarnWithContext(logger, "job ledger finish failed", "job_ledger_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the jobs database in the state directory"),
		)
		return
	}
	logger.Debug("job run recorded", logging.String("run_id", run.ID), logging.String("status", string(run.Status)))
}

func requireFile(path, stage string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, stage, "stat", path, err)
		}
		return services.Wrap(services.ErrTransient, stage, "stat", path, err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, stage, "stat", path+" is a directory", nil)
	}
	return nil
}

func safeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}
