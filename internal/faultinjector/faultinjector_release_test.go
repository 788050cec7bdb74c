//go:build !debug

package faultinjector

import "testing"

func TestGlobalNeverFailsInReleaseBuild(t *testing.T) {
	ArmAfterSteps(0)
	defer Disarm()
	for i := 0; i < 10; i++ {
		if err := Global.Checkpoint(); err != nil {
			t.Fatalf("expected release build's injector never to fail, got %v", err)
		}
	}
}
