package captions

import (
	"encoding/json"
	"strings"
	"time"
)

// SilenceText is the cue text emitted for notable pauses.
const SilenceText = "[ Silence / Inaudible ]"

const (
	DefaultMaxCaptionDurationMS = 8000
	DefaultMaxInterwordGapMS    = 1000
	DefaultMaxCaptionWords      = 6
	DefaultEndOrphanCount       = 3
	DefaultNotableSilenceMS     = 6000
	DefaultFudgeStartGapMS      = 250
)

// Cue is one timed caption.
type Cue struct {
	Begin time.Duration
	End   time.Duration
	Text  string
}

// IsSilence reports whether the cue marks a pause rather than speech.
func (c Cue) IsSilence() bool { return c.Text == SilenceText }

// Options tunes segmentation. Zero fields select the defaults.
type Options struct {
	MaxCaptionDurationMS int64
	MaxInterwordGapMS    int64
	MaxCaptionWords      int
	// EndOrphanCount is how many trailing words may exceed MaxCaptionWords
	// so the last caption does not end with a dangling word or two.
	EndOrphanCount   int
	NotableSilenceMS int64
	// FudgeStartGapMS snaps a cue start back to the previous cue end when
	// the gap between them is at most this long.
	FudgeStartGapMS int64
}

func (o Options) withDefaults() Options {
	if o.MaxCaptionDurationMS <= 0 {
		o.MaxCaptionDurationMS = DefaultMaxCaptionDurationMS
	}
	if o.MaxInterwordGapMS <= 0 {
		o.MaxInterwordGapMS = DefaultMaxInterwordGapMS
	}
	if o.MaxCaptionWords <= 0 {
		o.MaxCaptionWords = DefaultMaxCaptionWords
	}
	if o.EndOrphanCount <= 0 {
		o.EndOrphanCount = DefaultEndOrphanCount
	}
	if o.NotableSilenceMS <= 0 {
		o.NotableSilenceMS = DefaultNotableSilenceMS
	}
	if o.FudgeStartGapMS <= 0 {
		o.FudgeStartGapMS = DefaultFudgeStartGapMS
	}
	return o
}

// Result is the outcome of segmenting raw recognizer output.
type Result struct {
	Cues    []Cue
	Skipped int
}

// Segmenter converts ordered words into caption cues.
type Segmenter struct {
	opts Options
}

// NewSegmenter returns a Segmenter using opts with defaults applied.
func NewSegmenter(opts Options) *Segmenter {
	return &Segmenter{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (s *Segmenter) Options() Options { return s.opts }

// SegmentRaw decodes raw word records and segments the valid ones. Malformed
// words are skipped and counted in Result.Skipped.
func (s *Segmenter) SegmentRaw(raw []json.RawMessage) Result {
	words, skipped := DecodeWords(raw)
	return Result{Cues: s.Segment(words), Skipped: skipped}
}

// Segment runs the caption pass over words ordered by offset. An empty input
// yields no cues.
func (s *Segmenter) Segment(words []Word) []Cue {
	opts := s.opts
	var (
		cues     []Cue
		text     strings.Builder
		count    int
		start    int64
		end      int64
		previous int64
	)

	closeCaption := func() {
		if count == 0 {
			return
		}
		cues = append(cues, Cue{Begin: millis(start), End: millis(end), Text: text.String()})
		previous = end
		text.Reset()
		count = 0
	}

	for i, word := range words {
		offset := word.OffsetMS()
		candidateEnd := offset + word.DurationMS()
		trailing := i >= len(words)-opts.EndOrphanCount

		if count > 0 {
			gap := offset - end
			fits := candidateEnd-start <= opts.MaxCaptionDurationMS &&
				gap <= opts.MaxInterwordGapMS &&
				(count < opts.MaxCaptionWords || trailing)
			if fits {
				text.WriteString(word.Text)
				text.WriteByte(' ')
				count++
				end = max(end, candidateEnd)
				continue
			}
		}

		gap := offset - end
		closeCaption()
		if gap > opts.NotableSilenceMS {
			cues = append(cues, Cue{Begin: millis(end), End: millis(offset), Text: SilenceText})
		}

		start = offset
		if offset-previous <= opts.FudgeStartGapMS {
			start = previous
		}
		end = max(candidateEnd, start)
		text.WriteString(word.Text)
		text.WriteByte(' ')
		count = 1
	}
	closeCaption()
	return cues
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
