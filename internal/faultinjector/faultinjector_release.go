//go:build !debug

package faultinjector

// noop is the release-build Injector: it never fails. Arm/Disarm are no-ops
// so release code calling them (e.g. from a test helper compiled without the
// debug tag) does not need a build-tag guard of its own.
type noop struct{}

func (noop) Checkpoint() error { return nil }

// Global is the process-wide injector release builds consult.
var Global Injector = noop{}

// ArmAfterSteps is a no-op in release builds.
func ArmAfterSteps(int) {}

// Disarm is a no-op in release builds.
func Disarm() {}
