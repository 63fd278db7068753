// Package control owns the gate/job registry document (task_master.json).
//
// The registry holds one gate flag per pipeline stage, the map of currently
// running batch jobs, and a last-update record per stage. Gates fail open: a
// missing document or a missing flag permits the stage. Every mutation goes
// through statefile, so concurrent stage processes serialize on the document
// lock and each write advances the revision stamp. Jobs whose lease lapsed
// (a crashed run never deregistered) are expired on the next registration or
// on demand.
package control
