package captions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TicksPerMillisecond converts recognizer ticks (100ns units) to milliseconds.
const TicksPerMillisecond = 10_000

// ErrMalformedWord marks a recognized word that cannot be decoded or validated.
var ErrMalformedWord = errors.New("malformed word")

// Word is a recognized token with tick based timing.
type Word struct {
	Text     string `json:"word"`
	Offset   int64  `json:"offset"`
	Duration int64  `json:"duration"`
}

// OffsetMS returns the word offset truncated to whole milliseconds.
func (w Word) OffsetMS() int64 { return w.Offset / TicksPerMillisecond }

// DurationMS returns the word duration truncated to whole milliseconds.
func (w Word) DurationMS() int64 { return w.Duration / TicksPerMillisecond }

// Validate reports ErrMalformedWord for words that cannot be placed on a timeline.
func (w Word) Validate() error {
	switch {
	case strings.TrimSpace(w.Text) == "":
		return fmt.Errorf("%w: empty text", ErrMalformedWord)
	case w.Offset < 0:
		return fmt.Errorf("%w: negative offset %d", ErrMalformedWord, w.Offset)
	case w.Duration < 0:
		return fmt.Errorf("%w: negative duration %d", ErrMalformedWord, w.Duration)
	}
	return nil
}

// DecodeWord parses one recognizer word record. Field names are matched
// case-insensitively so both "word" and "Word" payloads decode.
func DecodeWord(raw json.RawMessage) (Word, error) {
	var record struct {
		Text     *string `json:"word"`
		Offset   *int64  `json:"offset"`
		Duration *int64  `json:"duration"`
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return Word{}, fmt.Errorf("%w: %v", ErrMalformedWord, err)
	}
	if record.Text == nil || record.Offset == nil || record.Duration == nil {
		return Word{}, fmt.Errorf("%w: missing word, offset, or duration", ErrMalformedWord)
	}
	word := Word{Text: strings.TrimSpace(*record.Text), Offset: *record.Offset, Duration: *record.Duration}
	if err := word.Validate(); err != nil {
		return Word{}, err
	}
	return word, nil
}

// DecodeWords decodes every raw word, skipping and counting the malformed ones.
func DecodeWords(raw []json.RawMessage) ([]Word, int) {
	words := make([]Word, 0, len(raw))
	skipped := 0
	for _, item := range raw {
		word, err := DecodeWord(item)
		if err != nil {
			skipped++
			continue
		}
		words = append(words, word)
	}
	return words, skipped
}
