//go:build linux

package cpu

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCore pins the current OS thread to one CPU of the affinity set the
// process was started with. Must be called after runtime.LockOSThread().
//
// index is reduced modulo the number of usable CPUs.
func pinToCore(index int) (int, error) {
	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(0, &allowed); err != nil {
		return -1, fmt.Errorf("read affinity: %w", err)
	}

	cpus := make([]int, 0, allowed.Count())
	for id := 0; id < len(allowed)*64 && len(cpus) < allowed.Count(); id++ {
		if allowed.IsSet(id) {
			cpus = append(cpus, id)
		}
	}
	if len(cpus) == 0 {
		return -1, fmt.Errorf("empty affinity set")
	}

	if index < 0 {
		index = -index
	}
	cpuID := cpus[index%len(cpus)]

	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpuID)

	if err := unix.SchedSetaffinity(0, &mask); err != nil { // 0 = current thread
		return -1, err
	}
	return cpuID, nil
}

// SetupWorkerAffinity locks the calling goroutine to its OS thread and pins
// that thread to a CPU chosen by index. The returned release function
// unlocks the thread; it is valid even when pinning failed.
func SetupWorkerAffinity(index int) (release func(), cpuID int, err error) {
	runtime.LockOSThread()
	cpuID, err = pinToCore(index)
	return runtime.UnlockOSThread, cpuID, err
}

// AvailableCPUs returns the number of CPUs this process may run on.
func AvailableCPUs() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
