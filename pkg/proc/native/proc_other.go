//go:build !linux
// +build !linux

package native

import (
	"errors"

	"github.com/memedit/memedit/pkg/proc"
)

// ErrNativeBackendDisabled is returned on operating systems without a
// /proc/<pid>/mem interface.
var ErrNativeBackendDisabled = errors.New("native backend not supported on this operating system")

// Memory is unusable outside of Linux.
type Memory struct {
	Pid int
}

// ReadMemory returns ErrNativeBackendDisabled.
func (m *Memory) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, ErrNativeBackendDisabled
}

// WriteMemory returns ErrNativeBackendDisabled.
func (m *Memory) WriteMemory(addr uint64, data []byte) (int, error) {
	return 0, ErrNativeBackendDisabled
}

// Process is a live process whose writable memory can be edited.
type Process struct {
	Pid     int
	Exe     string
	Mem     *Memory
	Regions *proc.RegionMap
	Skipped []*proc.ParseError
}

// Attach returns ErrNativeBackendDisabled.
func Attach(_ int, _ proc.ParseOptions) (*Process, error) {
	return nil, ErrNativeBackendDisabled
}

// Alive always reports false.
func (p *Process) Alive() bool {
	return false
}
