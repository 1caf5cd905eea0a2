package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ctscribe/internal/captions"
	"ctscribe/internal/logging"
)

// MockRecognizer produces three three-second utterances without contacting
// any speech service.
type MockRecognizer struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewMockRecognizer returns a MockRecognizer.
func NewMockRecognizer(logger *slog.Logger) *MockRecognizer {
	return &MockRecognizer{now: time.Now, logger: logging.NewComponentLogger(logger, "mock-recognizer")}
}

// Recognize replays a synthetic event stream through a Session.
func (m *MockRecognizer) Recognize(ctx context.Context, req Request) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	language := req.Language
	if language == "" {
		language = "en-US"
	}
	stamp := m.now().UTC().Format(time.RFC3339)
	utterance := 3 * time.Second.Nanoseconds() / 100

	session := NewSession(m.logger)
	session.Handle(Event{Kind: EventSessionStarted})
	for index := 1; index <= 3; index++ {
		text := fmt.Sprintf("The caption in %s is %d on %s", language, index+100, stamp)
		offset := int64(index-1) * utterance
		session.Handle(Event{
			Kind:     EventRecognized,
			Offset:   offset,
			Duration: utterance,
			NBest:    []Hypothesis{{Confidence: 1, Display: text, Words: spreadWords(text, offset, utterance)}},
		})
	}
	session.Handle(Event{Kind: EventSessionStopped})
	return session.Finish(), nil
}

func spreadWords(text string, offset, span int64) []json.RawMessage {
	fields := strings.Fields(text)
	step := span / int64(len(fields))
	raw := make([]json.RawMessage, 0, len(fields))
	for i, field := range fields {
		data, _ := json.Marshal(captions.Word{Text: field, Offset: offset + int64(i)*step, Duration: step})
		raw = append(raw, data)
	}
	return raw
}
