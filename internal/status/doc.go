// Package status maintains the per-stage status documents and merges them into
// the system overview served by GET /status and the status command.
//
// Batch stages (normalizer, router, committer) keep a Document with the
// current run, a history capped at three runs (newest first), and a short list
// of per-item reports. Intake keeps a single current-state IntakeDocument and
// no history.
package status
