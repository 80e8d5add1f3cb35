//go:build !unix

package cpu

import (
	"fmt"
	"runtime"
)

// Workers receive their pipes as inherited descriptors, which os/exec only
// supports on unix.
func checkPlatform() error {
	return fmt.Errorf("%w: %s cannot pass extra descriptors to child processes", ErrUnsupported, runtime.GOOS)
}
