package recognizer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"ctscribe/internal/keypool"
	"ctscribe/internal/logging"
	"ctscribe/internal/services"
)

// maxEventLine bounds a single JSON event line from the bridge.
const maxEventLine = 4 << 20

// Request describes one recognition run.
type Request struct {
	AudioPath   string
	Language    string
	Credential  keypool.Credential
	PhraseHints []string
}

// Recognizer turns an audio file into a finalized transcript.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (Transcript, error)
}

// CommandRecognizer runs a speech bridge executable per request. The bridge
// receives the credential through SPEECH_KEY and SPEECH_REGION, the audio
// path as its final argument, and writes one Event per stdout line.
type CommandRecognizer struct {
	command string
	args    []string
	logger  *slog.Logger
}

// NewCommandRecognizer returns a recognizer that executes command with the
// given leading arguments.
func NewCommandRecognizer(command string, args []string, logger *slog.Logger) *CommandRecognizer {
	return &CommandRecognizer{
		command: command,
		args:    args,
		logger:  logging.NewComponentLogger(logger, "recognizer"),
	}
}

// Recognize streams events from the bridge into a Session.
func (r *CommandRecognizer) Recognize(ctx context.Context, req Request) (Transcript, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcript{}, services.Wrap(services.ErrValidation, "recognize", "request", "audio path is required", nil)
	}
	args := append([]string(nil), r.args...)
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	for _, hint := range req.PhraseHints {
		if hint = strings.TrimSpace(hint); hint != "" {
			args = append(args, "--phrase-hint", hint)
		}
	}
	args = append(args, req.AudioPath)

	cmd := exec.CommandContext(ctx, r.command, args...) //nolint:gosec
	cmd.Env = append(os.Environ(),
		"SPEECH_KEY="+req.Credential.Key,
		"SPEECH_REGION="+req.Credential.Region,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Transcript{}, fmt.Errorf("recognizer stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Transcript{}, services.Wrap(services.ErrConfiguration, "recognize", "start", fmt.Sprintf("speech bridge %q not found", r.command), err)
		}
		return Transcript{}, services.Wrap(services.ErrExternalTool, "recognize", "start", r.command, err)
	}

	logger := logging.WithContext(ctx, r.logger)
	logger.Info("recognition started",
		logging.String("region", req.Credential.Region),
		logging.String("language", req.Language),
	)

	session := NewSession(logger)
	readErr := feed(session, stdout, logger)
	transcript := session.Finish()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return Transcript{}, ctx.Err()
	}
	if readErr != nil {
		return Transcript{}, services.Wrap(services.ErrExternalTool, "recognize", "read events", "", readErr)
	}
	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		return Transcript{}, services.Wrap(services.ErrExternalTool, "recognize", "bridge exit", detail, waitErr)
	}
	if err := transcript.Err(); err != nil {
		return Transcript{}, err
	}
	return transcript, nil
}

// feed decodes JSON lines from r into session. Undecodable lines are logged
// and skipped. Events after finalization are drained so the bridge can exit.
func feed(session *Session, r io.Reader, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			logging.WarnWithContext(logger, "recognizer event skipped", "recognizer_event_invalid",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check speech bridge output format"),
			)
			continue
		}
		session.Handle(ev)
	}
	return scanner.Err()
}
