// Package main hosts the animdb CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon, submits payloads, drives the
// batch stages once, and inspects or edits the gate/job registry. It
// centralizes configuration resolution and logger setup so subcommands stay
// declarative while the work lives in the internal packages.
package main
