// Package daemon coordinates the long-running animdb process.
//
// It wires configuration, the gate/job registry, the intake service, and
// the workflow scheduler into a single lifecycle with flock-based locking to
// prevent multiple instances. The HTTP surface (chi) accepts producer
// payloads and exposes status, gates, and stage health.
//
// Keep orchestration logic here: stage behavior lives in the stage packages
// while the daemon focuses on startup, shutdown, and transport.
package daemon
