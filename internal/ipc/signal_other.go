//go:build !unix

package ipc

// Terminate stops the process. Without signals this is the same as Kill.
func (p *Process) Terminate() error {
	return p.Kill()
}

func IsTransient(error) bool {
	return false
}
