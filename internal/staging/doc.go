// Package staging models the directories that connect pipeline stages.
//
// Intake writes raw payloads into session directories ("~temp_<key>", with
// the legacy "^temp<key>" form still recognized). Later stages list, read and
// move files between the inspected, review, discard, cache and store areas
// through the Store interface; FS is the filesystem adapter. CleanStale
// removes abandoned sessions and expired discard buffers.
package staging
