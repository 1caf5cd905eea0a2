// Package transcription implements the queue handlers that turn lecture
// media into caption files.
//
// HandleTranscribe runs the full pipeline for one video: it skips media that
// already has captions unless forced, reserves a speech credential for the
// video, extracts audio, runs one recognition session, segments the words
// into cues once the session has finalized, and writes SRT, WebVTT, and a
// JSON cue sidecar. HandleGenerateCaptionFiles re-renders captions from the
// sidecar with long cues split for display. Every run is recorded in the job
// ledger.
package transcription
