package captions_test

import (
	"testing"
	"time"

	"ctscribe/internal/captions"
)

func sampleCues() []captions.Cue {
	return []captions.Cue{
		{Begin: 0, End: 520 * time.Millisecond, Text: "Hello world "},
		{Begin: 520 * time.Millisecond, End: 3723*time.Second + 45*time.Millisecond, Text: "second line"},
	}
}

func TestRenderSRT(t *testing.T) {
	want := "1\n00:00:00,000 --> 00:00:00,520\nHello world\n\n" +
		"2\n00:00:00,520 --> 01:02:03,045\nsecond line\n\n"
	if got := captions.RenderSRT(sampleCues()); got != want {
		t.Fatalf("unexpected SRT:\n%q\nwant\n%q", got, want)
	}
}

func TestRenderWebVTT(t *testing.T) {
	want := "WEBVTT\nKind: subtitles\nLanguage: en\n\n" +
		"1\n00:00:00.000 --> 00:00:00.520\nHello world\n\n" +
		"2\n00:00:00.520 --> 01:02:03.045\nsecond line\n\n"
	if got := captions.RenderWebVTT(sampleCues(), "en-US"); got != want {
		t.Fatalf("unexpected VTT:\n%q\nwant\n%q", got, want)
	}
}

func TestBaseLanguage(t *testing.T) {
	cases := map[string]string{
		"en-US": "en",
		"fr-CA": "fr",
		"es":    "es",
		"":      "en",
		"!!":    "en",
	}
	for tag, want := range cases {
		if got := captions.BaseLanguage(tag); got != want {
			t.Fatalf("BaseLanguage(%q) = %q, want %q", tag, got, want)
		}
	}
}

func TestFormatAndParseTimestampRoundTrip(t *testing.T) {
	values := []time.Duration{0, 999 * time.Millisecond, 59*time.Minute + 59*time.Second, 27*time.Hour + 5*time.Millisecond}
	for _, d := range values {
		for _, sep := range []byte{',', '.'} {
			formatted := captions.FormatTimestamp(d, sep)
			parsed, err := captions.ParseTimestamp(formatted)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) failed: %v", formatted, err)
			}
			if parsed != d {
				t.Fatalf("round trip mismatch: %s -> %q -> %s", d, formatted, parsed)
			}
		}
	}
	if _, err := captions.ParseTimestamp("1:2"); err == nil {
		t.Fatal("expected error for malformed timestamp")
	}
}

func TestParseSRTRoundTrip(t *testing.T) {
	words := []captions.Word{
		word("alpha", 0, 300),
		word("beta", 350, 300),
		word("gamma", 9000, 300),
		word("delta", 9400, 300),
	}
	cues := captions.NewSegmenter(captions.Options{}).Segment(words)
	for _, render := range []string{captions.RenderSRT(cues), captions.RenderWebVTT(cues, "en")} {
		parsed, err := captions.ParseSRT(render)
		if err != nil {
			t.Fatalf("ParseSRT failed: %v", err)
		}
		if len(parsed) != len(cues) {
			t.Fatalf("expected %d cues, got %d", len(cues), len(parsed))
		}
		for i := range cues {
			if parsed[i].Begin != cues[i].Begin || parsed[i].End != cues[i].End {
				t.Fatalf("cue %d timing mismatch: %+v vs %+v", i, parsed[i], cues[i])
			}
		}
	}
}
