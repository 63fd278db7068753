// Package statefile persists small JSON state documents shared between
// pipeline processes: the gate/job registry, per-stage status documents, and
// the identity index.
//
// Every mutation is a read-modify-write performed while holding an OS-level
// lock on a sidecar "<path>.lock" file, and the new document replaces the old
// one through an atomic rename. Documents that carry a revision counter get it
// bumped on every write, and Replace refuses to write over a document whose
// revision moved since the caller read it.
package statefile
