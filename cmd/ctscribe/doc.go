// Command ctscribe is the operator CLI for the caption pipeline.
//
// It publishes Transcribe and GenerateCaptionFiles jobs, inspects and purges
// the broker queues, reads the job ledger, re-renders caption files offline,
// runs preflight checks, and starts or stops the daemon.
package main
