// Package logging assembles structured slog loggers and formatting helpers used
// across ctscribe.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so job handlers automatically tag log
// lines with the queue, resource, and correlation identifiers of the delivery
// they are processing.
package logging
