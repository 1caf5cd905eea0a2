// Package recognizer is the boundary to the external speech service.
//
// A recognition run is modelled as a Session fed by Events. The session
// collects the top hypothesis of every recognized utterance and finalizes
// exactly once, on whichever terminal signal arrives first: a Canceled
// event, a SessionStopped event, or the end of the event stream.
//
// CommandRecognizer drives a speech bridge executable that streams events
// as JSON lines on stdout. MockRecognizer produces a fixed transcript for
// development without credentials. AudioExtractor converts media into the
// mono 16 kHz PCM WAV the recognizer consumes.
package recognizer
