package captions

import (
	"strings"
	"time"
)

// DefaultMaxLineChars is the default re-split threshold for cue text.
const DefaultMaxLineChars = 40

// SplitLongCue breaks a cue whose text exceeds maxChars into consecutive
// cues cut on spaces. Each fragment gets time proportional to its character
// position in the original text, and the last fragment ends exactly at the
// original end. A single word longer than maxChars stays whole.
func SplitLongCue(cue Cue, maxChars int) []Cue {
	if maxChars <= 0 {
		maxChars = DefaultMaxLineChars
	}
	text := strings.TrimSpace(cue.Text)
	if len(text) <= maxChars || cue.IsSilence() {
		return []Cue{cue}
	}

	type span struct{ from, to int }
	var spans []span
	from := 0
	for from < len(text) {
		to := len(text)
		if to-from > maxChars {
			cut := strings.LastIndexByte(text[from:from+maxChars+1], ' ')
			if cut <= 0 {
				next := strings.IndexByte(text[from:], ' ')
				if next < 0 {
					cut = len(text) - from
				} else {
					cut = next
				}
			}
			to = from + cut
		}
		spans = append(spans, span{from, to})
		from = to
		for from < len(text) && text[from] == ' ' {
			from++
		}
	}

	total := float64(len(text))
	duration := float64(cue.End - cue.Begin)
	at := func(pos int) time.Duration {
		ns := float64(cue.Begin) + duration*float64(pos)/total
		return time.Duration(ns).Truncate(time.Millisecond)
	}

	out := make([]Cue, 0, len(spans))
	for i, s := range spans {
		part := Cue{Begin: at(s.from), End: cue.End, Text: strings.TrimSpace(text[s.from:s.to])}
		if i == 0 {
			part.Begin = cue.Begin
		}
		if i+1 < len(spans) {
			part.End = at(spans[i+1].from)
		}
		out = append(out, part)
	}
	return out
}

// SplitLongCues applies SplitLongCue to every cue in order.
func SplitLongCues(cues []Cue, maxChars int) []Cue {
	out := make([]Cue, 0, len(cues))
	for _, cue := range cues {
		out = append(out, SplitLongCue(cue, maxChars)...)
	}
	return out
}
