// Package services defines shared utilities consumed by job handlers and
// external integrations.
//
// It provides context helpers that stamp queue names, resource identifiers,
// and correlation identifiers for logging, plus structured error markers and
// the Wrap helper used to classify job failures in the run ledger.
package services
