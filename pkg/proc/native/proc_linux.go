package native

import (
	"bytes"
	"fmt"
	"os"

	sys "golang.org/x/sys/unix"

	"github.com/memedit/memedit/pkg/logflags"
	"github.com/memedit/memedit/pkg/proc"
)

// Process statuses
const (
	statusZombie = 'Z'
	statusDead   = 'X'
)

// Process is a live process whose writable memory can be edited.
type Process struct {
	Pid int
	// Exe is the resolved path of the executable, empty if it could not be
	// read.
	Exe     string
	Mem     *Memory
	Regions *proc.RegionMap
	// Skipped lists the records of the mapping list that could not be
	// parsed.
	Skipped []*proc.ParseError
}

// Attach checks that pid is a live process and reads its writable memory
// regions. No tracing is involved: the target keeps running.
func Attach(pid int, opts proc.ParseOptions) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if err := sys.Kill(pid, 0); err == sys.ESRCH {
		return nil, fmt.Errorf("could not attach to pid %d: no such process", pid)
	}
	if !alive(pid) {
		return nil, proc.ProcessExitedError{Pid: pid}
	}

	exe, err := findExecutable(pid)
	if err != nil {
		logflags.RegionsLogger().Warnf("could not resolve executable of %d: %v", pid, err)
	}
	if opts.Exe == "" {
		opts.Exe = exe
	}

	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("could not read memory map of %d: %w", pid, err)
	}
	defer f.Close()
	regions, skipped, err := proc.ParseMaps(f, opts)
	if err != nil {
		return nil, fmt.Errorf("could not read memory map of %d: %w", pid, err)
	}

	return &Process{
		Pid:     pid,
		Exe:     exe,
		Mem:     &Memory{Pid: pid},
		Regions: proc.NewRegionMap(regions),
		Skipped: skipped,
	}, nil
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	return alive(p.Pid)
}

func findExecutable(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}

// status returns the state field of /proc/<pid>/stat, or 0 if it can not
// be read.
func status(pid int) rune {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	// The second field is the name of the task in parentheses. It can
	// contain both spaces and parentheses so the state is found after the
	// last closing parenthesis.
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return '\000'
	}
	return rune(stat[i+2])
}
