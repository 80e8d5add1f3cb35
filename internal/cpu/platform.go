// Package cpu answers host questions the pool needs before it starts worker
// processes: how many CPUs it may use, whether the platform can run workers
// at all, and how to pin a worker's thread to a core.
package cpu

import (
	"errors"
	"sync"
)

// MinFileDescriptors is the lowest RLIMIT_NOFILE soft limit under which the
// pool refuses to start. Every worker holds two pipe ends in the parent.
const MinFileDescriptors = 256

var ErrUnsupported = errors.New("process pool is not supported on this platform")

var platformCheck = sync.OnceValue(checkPlatform)

// CheckPlatform reports whether worker processes can be used on this host.
// The host is probed once; later calls return the first answer.
func CheckPlatform() error {
	return platformCheck()
}
