// Package faultinjector implements a debug-only synthetic failure hook:
// tests can arm a process-wide injector to fail after N internal steps of
// an import, to exercise the rollback path. Production (non-debug) builds
// compile the active implementation out entirely; see faultinjector_release.go.
package faultinjector

// Injector is consulted by ImportDump at one checkpoint per record applied.
type Injector interface {
	// Checkpoint is called once per unit of import work; implementations
	// return a non-nil error to abort the import at that point.
	Checkpoint() error
}
