package native

import (
	"errors"
	"fmt"
	"math"

	sys "golang.org/x/sys/unix"

	"github.com/memedit/memedit/pkg/logflags"
	"github.com/memedit/memedit/pkg/proc"
)

// Memory accesses the memory of a live process through /proc/<pid>/mem.
// Every call opens the file, does a single positioned read or write and
// closes it again, so a Memory value holds no resources.
type Memory struct {
	Pid int
}

var _ proc.MemoryReadWriter = (*Memory)(nil)

func (m *Memory) path() string {
	return fmt.Sprintf("/proc/%d/mem", m.Pid)
}

// ReadMemory reads len(buf) bytes at addr. It returns fewer bytes only
// when the end of the mapping is reached.
func (m *Memory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if addr > math.MaxInt64 {
		return 0, sys.EINVAL
	}
	fd, err := sys.Open(m.path(), sys.O_RDONLY|sys.O_CLOEXEC, 0)
	if err != nil {
		return 0, m.checkExited(err)
	}
	defer sys.Close(fd)

	for n < len(buf) {
		var k int
		k, err = sys.Pread(fd, buf[n:], int64(addr)+int64(n))
		if err == sys.EINTR {
			continue
		}
		if err != nil || k == 0 {
			break
		}
		n += k
	}
	if err != nil || n == 0 {
		logflags.MemIOLogger().Debugf("read %d bytes at %#x: %d read, %v", len(buf), addr, n, err)
		if !alive(m.Pid) {
			return n, proc.ProcessExitedError{Pid: m.Pid}
		}
	}
	return n, err
}

// WriteMemory writes data at addr. The kernel may write fewer bytes than
// asked; the count is returned unchanged so that callers can detect it.
func (m *Memory) WriteMemory(addr uint64, data []byte) (written int, err error) {
	if len(data) == 0 {
		return 0, nil
	}
	if addr > math.MaxInt64 {
		return 0, sys.EINVAL
	}
	fd, err := sys.Open(m.path(), sys.O_RDWR|sys.O_CLOEXEC, 0)
	if err != nil {
		return 0, m.checkExited(err)
	}
	defer sys.Close(fd)

	for {
		written, err = sys.Pwrite(fd, data, int64(addr))
		if err != sys.EINTR {
			break
		}
	}
	if err != nil {
		logflags.MemIOLogger().Debugf("write %d bytes at %#x: %v", len(data), addr, err)
		if !alive(m.Pid) {
			return 0, proc.ProcessExitedError{Pid: m.Pid}
		}
		return 0, err
	}
	if written < len(data) {
		logflags.MemIOLogger().Warnf("short write at %#x: %d of %d bytes", addr, written, len(data))
	}
	return written, nil
}

func (m *Memory) checkExited(err error) error {
	if errors.Is(err, sys.ENOENT) || errors.Is(err, sys.ESRCH) || !alive(m.Pid) {
		return proc.ProcessExitedError{Pid: m.Pid}
	}
	return fmt.Errorf("could not open %s: %w", m.path(), err)
}

// alive reports whether pid is a running process. Zombies have no
// address space left and count as exited.
func alive(pid int) bool {
	if err := sys.Kill(pid, 0); err == sys.ESRCH {
		return false
	}
	switch status(pid) {
	case '\000', statusZombie, statusDead:
		return false
	}
	return true
}
