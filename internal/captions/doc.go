// Package captions turns recognized words into timed caption cues and renders
// them as SubRip (SRT) and WebVTT files.
//
// Segmentation is a single left-to-right pass over words ordered by offset.
// Cues break on duration, inter-word gap, and word-count limits; long pauses
// are surfaced as explicit silence cues, and small gaps between cues are
// closed so captions do not flicker. Long cue text can be re-split on space
// boundaries with time interpolated over character position.
package captions
