// Package daemon runs the long-lived ctscribe consumer process.
//
// A Daemon owns the single-instance lock, recovers state left behind by a
// previous crash (leased SQLite messages, ledger runs stuck in "running"),
// optionally purges every pipeline queue, and then runs one broker consumer
// per job queue until its context ends or a consumer loses the transport.
//
// Job logic lives in the transcription package; this package only handles
// startup, shutdown, and the read-only status endpoint.
package daemon
