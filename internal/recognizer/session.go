package recognizer

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"ctscribe/internal/captions"
	"ctscribe/internal/logging"
)

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Transcript is the finalized output of one session.
type Transcript struct {
	Words      []captions.Word
	Utterances int
	// Skipped counts words dropped because they failed to decode.
	Skipped  int
	Canceled *Cancellation
}

// Err reports an error cancellation, if any.
func (t Transcript) Err() error {
	return t.Canceled.Err()
}

// Session accumulates recognized words until a terminal signal.
type Session struct {
	mu         sync.Mutex
	state      State
	words      []captions.Word
	utterances int
	skipped    int
	canceled   *Cancellation
	result     Transcript

	once   sync.Once
	done   chan struct{}
	logger *slog.Logger
}

// NewSession returns an idle session.
func NewSession(logger *slog.Logger) *Session {
	return &Session{
		done:   make(chan struct{}),
		logger: logging.NewComponentLogger(logger, "recognition-session"),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has finalized.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Handle applies ev. Events arriving after finalization are ignored.
func (s *Session) Handle(ev Event) {
	s.mu.Lock()
	if s.state >= StateFinalizing {
		s.mu.Unlock()
		s.logger.Debug("event after finalization ignored", logging.String("event", string(ev.Kind)))
		return
	}
	switch ev.Kind {
	case EventSessionStarted:
		s.state = StateStreaming
		s.mu.Unlock()
		s.logger.Debug("session started")
	case EventRecognized:
		s.state = StateStreaming
		s.appendUtterance(ev)
		s.mu.Unlock()
	case EventNoMatch:
		s.state = StateStreaming
		s.mu.Unlock()
		s.logger.Debug("utterance not recognized", logging.Int64("offset_ticks", ev.Offset))
	case EventCanceled:
		s.canceled = &Cancellation{Reason: ev.Reason, Code: ev.ErrorCode, Details: ev.ErrorDetails}
		s.mu.Unlock()
		s.logger.Info("session canceled",
			logging.String("reason", ev.Reason),
			logging.String("error_code", ev.ErrorCode),
		)
		s.Finish()
	case EventSessionStopped:
		s.mu.Unlock()
		s.logger.Debug("session stopped")
		s.Finish()
	default:
		s.mu.Unlock()
		s.logger.Debug("unknown recognizer event ignored", logging.String("event", string(ev.Kind)))
	}
}

// appendUtterance keeps the top hypothesis, ordered by offset and shifted
// so its first word starts at the utterance offset. Caller holds s.mu.
func (s *Session) appendUtterance(ev Event) {
	s.utterances++
	if len(ev.NBest) == 0 {
		return
	}
	words, skipped := captions.DecodeWords(ev.NBest[0].Words)
	s.skipped += skipped
	if len(words) == 0 {
		return
	}
	slices.SortStableFunc(words, func(a, b captions.Word) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})
	if ev.Offset > 0 {
		shift := ev.Offset - words[0].Offset
		for i := range words {
			words[i].Offset += shift
		}
	}
	s.words = append(s.words, words...)
}

// Finish finalizes the session. Only the first call has any effect; it is
// used directly when the event stream ends without a terminal event.
func (s *Session) Finish() Transcript {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateFinalizing
		words := slices.Clone(s.words)
		s.result = Transcript{
			Words:      words,
			Utterances: s.utterances,
			Skipped:    s.skipped,
			Canceled:   s.canceled,
		}
		s.state = StateDone
		s.mu.Unlock()
		close(s.done)
		s.logger.Info("session finalized",
			logging.Int("utterances", s.result.Utterances),
			logging.Int("words", len(s.result.Words)),
			logging.Int("skipped_words", s.result.Skipped),
		)
	})
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Wait blocks until the session finalizes or ctx ends.
func (s *Session) Wait(ctx context.Context) (Transcript, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}
}
