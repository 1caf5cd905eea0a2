// Package preflight provides readiness checks for the directories, external
// binaries, credentials, and broker that ctscribe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before it starts consuming. A failed check
//     stops startup so jobs are not pulled off the queue only to fail.
//   - The CLI "ctscribe check" command prints every result.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
