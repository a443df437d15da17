package engine

import (
	"fmt"
	"runtime"
	"syscall"
)

// requestRealtimePriority asks the OS for an elevated scheduling priority
// for the driver thread. Go has no portable
// equivalent of pthread_setschedparam/SCHED_FIFO without cgo, so this is a
// best-effort nice-value request via syscall.Setpriority — good enough to
// honor the "log a warning and continue on failure" contract without
// pulling in a platform-specific scheduling library the example corpus
// never uses either.
func requestRealtimePriority(requested int) error {
	runtime.LockOSThread()
	niceValue := -requested
	if niceValue < -20 {
		niceValue = -20
	}
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, niceValue); err != nil {
		return fmt.Errorf("setpriority(%d): %w", niceValue, err)
	}
	return nil
}

// restoreNormalPriority undoes requestRealtimePriority's effect, best
// effort: restores normal scheduling policy.
func restoreNormalPriority() {
	_ = syscall.Setpriority(syscall.PRIO_PROCESS, 0, 0)
	runtime.UnlockOSThread()
}
