// Package workflow drives the batch stages on a schedule.
//
// The Manager runs one cycle per interval: expire stale registry jobs, then
// Normalizer, Router, and Committer (ADD) in that order. Each stage decides
// for itself whether it may run; a closed gate or a held lock is logged and
// the cycle moves on. The daemon owns the Manager and the CLI `run` command
// drives a single cycle through RunOnce.
package workflow
