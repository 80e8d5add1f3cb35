//go:build unix

package cpu

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func checkPlatform() error {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return fmt.Errorf("%w: read RLIMIT_NOFILE: %v", ErrUnsupported, err)
	}
	return checkDescriptorLimit(uint64(lim.Cur))
}

func checkDescriptorLimit(cur uint64) error {
	if cur < MinFileDescriptors {
		return fmt.Errorf("%w: RLIMIT_NOFILE soft limit %d is below %d", ErrUnsupported, cur, MinFileDescriptors)
	}
	return nil
}
