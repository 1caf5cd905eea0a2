package captions

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	srtSeparator = ','
	vttSeparator = '.'
)

// FormatTimestamp renders d as HH:MM:SS<sep>mmm. Hours grow past two digits
// for recordings longer than 99 hours.
func FormatTimestamp(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	total := d.Milliseconds()
	hours := total / 3_600_000
	minutes := (total / 60_000) % 60
	seconds := (total / 1000) % 60
	ms := total % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, sep, ms)
}

// ParseTimestamp parses HH:MM:SS,mmm or HH:MM:SS.mmm.
func ParseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	total := int64(hours)*3_600_000 + int64(minutes)*60_000 + int64(seconds)*1000 + int64(millis)
	return time.Duration(total) * time.Millisecond, nil
}

// RenderSRT renders cues as a SubRip document with 1-based indices.
func RenderSRT(cues []Cue) string {
	var b strings.Builder
	writeCues(&b, cues, srtSeparator)
	return b.String()
}

// RenderWebVTT renders cues as a WebVTT document. lang is reduced to its base
// language; an unparseable tag falls back to "en".
func RenderWebVTT(cues []Cue, lang string) string {
	var b strings.Builder
	b.WriteString("WEBVTT\nKind: subtitles\nLanguage: ")
	b.WriteString(BaseLanguage(lang))
	b.WriteString("\n\n")
	writeCues(&b, cues, vttSeparator)
	return b.String()
}

func writeCues(b *strings.Builder, cues []Cue, sep byte) {
	for i, cue := range cues {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\n')
		b.WriteString(FormatTimestamp(cue.Begin, sep))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(cue.End, sep))
		b.WriteByte('\n')
		b.WriteString(strings.TrimSpace(cue.Text))
		b.WriteString("\n\n")
	}
}

// BaseLanguage canonicalizes a BCP 47 tag to its base language ("en-US" -> "en").
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "en"
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "en"
	}
	base, _ := parsed.Base()
	if base.String() == "und" {
		return "en"
	}
	return base.String()
}

// ParseSRT reads SubRip or WebVTT cue blocks back into cues. Header blocks
// without a timing line are ignored.
func ParseSRT(content string) ([]Cue, error) {
	var (
		cues    []Cue
		current *Cue
		text    []string
	)
	flush := func() {
		if current != nil {
			current.Text = strings.Join(text, "\n")
			cues = append(cues, *current)
		}
		current = nil
		text = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(content, "\r\n", "\n")))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case strings.Contains(line, "-->"):
			parts := strings.SplitN(line, "-->", 2)
			begin, err := ParseTimestamp(parts[0])
			if err != nil {
				return nil, err
			}
			end, err := ParseTimestamp(parts[1])
			if err != nil {
				return nil, err
			}
			current = &Cue{Begin: begin, End: end}
		case current != nil:
			text = append(text, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan captions: %w", err)
	}
	flush()
	return cues, nil
}

// Validate reports ordering problems: a cue that ends before it begins, or
// that starts before its predecessor ends.
func Validate(cues []Cue) []string {
	var issues []string
	for i, cue := range cues {
		if cue.End < cue.Begin {
			issues = append(issues, fmt.Sprintf("cue %d: end %s before begin %s", i+1, cue.End, cue.Begin))
		}
		if i > 0 && cue.Begin < cues[i-1].End {
			issues = append(issues, fmt.Sprintf("cue %d: overlaps previous cue", i+1))
		}
	}
	return issues
}
