//go:build windows

package runner

import "os"

// Windows has no graceful terminate for arbitrary console processes.
func terminate(p *os.Process) error {
	return p.Kill()
}
