package container

import "testing"

func TestLockTargetNoopForNonFDTarget(t *testing.T) {
	target := &memTarget{}
	unlock, err := lockTarget(target)
	if err != nil {
		t.Fatalf("lockTarget: %v", err)
	}
	unlock()
}
