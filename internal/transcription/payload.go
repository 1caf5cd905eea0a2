package transcription

import (
	"strings"

	"ctscribe/internal/services"
)

// Job identifies the media a queue message refers to. Both queues carry
// this payload.
type Job struct {
	VideoID   string `json:"video_id"`
	MediaPath string `json:"media_path"`
}

// Validate reports a permanent error for incomplete jobs.
func (j Job) Validate(stage string) error {
	switch {
	case strings.TrimSpace(j.VideoID) == "":
		return services.Wrap(services.ErrValidation, stage, "payload", "video_id is required", nil)
	case strings.TrimSpace(j.MediaPath) == "":
		return services.Wrap(services.ErrValidation, stage, "payload", "media_path is required", nil)
	}
	return nil
}

// Metadata keys honoured by the handlers.
const (
	MetaLanguage       = "language"
	MetaSpeechLanguage = "speech_language"
	MetaPhraseHints    = "phrase_hints"
)

func splitHints(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	hints := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			hints = append(hints, f)
		}
	}
	return hints
}
