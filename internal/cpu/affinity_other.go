//go:build !linux

package cpu

import (
	"runtime"
)

// SetupWorkerAffinity locks the goroutine to an OS thread.
// CPU pinning is only available on Linux; cpuID is always -1 here.
func SetupWorkerAffinity(index int) (release func(), cpuID int, err error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, -1, nil
}

// AvailableCPUs returns the number of logical CPUs.
func AvailableCPUs() int {
	return runtime.NumCPU()
}
