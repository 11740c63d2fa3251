package native

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/memedit/memedit/pkg/proc"
	protest "github.com/memedit/memedit/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func TestSelfMemory(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))
	mem := &Memory{Pid: os.Getpid()}

	got, err := proc.ReadExact(mem, addr+8, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range got {
		if b != byte(8+i) {
			t.Fatalf("unexpected bytes % x", got)
		}
	}

	if err := proc.WriteExact(mem, addr+16, []byte{0xaa, 0xbb}); err != nil {
		t.Fatal(err)
	}
	if buf[16] != 0xaa || buf[17] != 0xbb {
		t.Fatalf("write not visible: % x", buf[16:18])
	}
}

func TestSelfUnmapped(t *testing.T) {
	mem := &Memory{Pid: os.Getpid()}
	_, err := proc.ReadExact(mem, 0, 8)
	var ae *proc.AccessError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AccessError, got %v", err)
	}
	if errors.Is(err, proc.ErrProcessExited) {
		t.Fatalf("live process reported as exited: %v", err)
	}
}

var selfMarker uint64 = 0x5eedf00dcafed00d

func TestAttachSelf(t *testing.T) {
	p, err := Attach(os.Getpid(), proc.ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Exe == "" {
		t.Errorf("executable not resolved")
	}
	if p.Regions.Len() == 0 {
		t.Fatalf("no writable regions found")
	}
	for _, r := range p.Regions.Regions() {
		if !r.Writable || r.Perms[3] != 'p' {
			t.Errorf("region %s should not be listed (%s)", r, r.Perms)
		}
	}

	addr := uint64(uintptr(unsafe.Pointer(&selfMarker)))
	idx, ok := p.Regions.RegionAt(addr)
	if !ok {
		t.Fatalf("%#x is not in a writable region", addr)
	}
	region, _ := p.Regions.Region(idx)
	cands, _, err := proc.Scan(context.Background(), p.Mem, []proc.MemoryRegion{region}, proc.IntValue(selfMarker), proc.Settings{Width: 8, Type: proc.Int})
	if err != nil {
		t.Fatal(err)
	}
	if _, found := cands[addr]; !found {
		t.Fatalf("%#x not found in %d candidates", addr, len(cands))
	}
}

func TestAttachInvalid(t *testing.T) {
	if _, err := Attach(0, proc.ParseOptions{}); err == nil {
		t.Fatal("expected error for pid 0")
	}
}

type counter struct {
	cmd  *exec.Cmd
	in   io.WriteCloser
	out  *bufio.Scanner
	addr uint64
}

func startCounter(t *testing.T, start uint64) *counter {
	if testing.Short() {
		t.Skip("skipping fixture test in short mode")
	}
	fixture := protest.BuildFixture(t, "counter")
	cmd := exec.Command(fixture.Path, strconv.FormatUint(start, 10))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	c := &counter{cmd: cmd, in: stdin, out: bufio.NewScanner(stdout)}
	line := c.line(t)
	c.addr, err = strconv.ParseUint(strings.TrimPrefix(line, "0x"), 16, 64)
	if err != nil {
		t.Fatalf("could not parse address %q: %v", line, err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	return c
}

func (c *counter) line(t *testing.T) string {
	if !c.out.Scan() {
		t.Fatalf("fixture stopped writing: %v", c.out.Err())
	}
	return c.out.Text()
}

func (c *counter) send(t *testing.T, s string) string {
	if _, err := io.WriteString(c.in, s+"\n"); err != nil {
		t.Fatal(err)
	}
	return c.line(t)
}

func TestScanRefineWriteLive(t *testing.T) {
	c := startCounter(t, 7777)
	p, err := Attach(c.cmd.Process.Pid, proc.ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	s := proc.Settings{Width: 8, Type: proc.Int}

	cands, _, err := proc.Scan(context.Background(), p.Mem, p.Regions.Selected(), proc.IntValue(7777), s)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cands[c.addr]; !ok {
		t.Fatalf("%#x not among the %d candidates", c.addr, len(cands))
	}

	if out := c.send(t, "inc"); out != "ok" {
		t.Fatalf("unexpected output %q", out)
	}
	cands, err = proc.Refine(p.Mem, cands, proc.IntValue(7778), s)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cands[c.addr]; !ok {
		t.Fatalf("%#x lost by refine", c.addr)
	}

	results, err := proc.WriteAll(p.Mem, proc.Candidates{c.addr: cands[c.addr]}, proc.IntValue(1000), s)
	if err != nil {
		t.Fatal(err)
	}
	if failed := proc.FailedWrites(results); len(failed) != 0 {
		t.Fatalf("write failed: %v", failed[0].Err)
	}
	if out := c.send(t, "print"); out != "1000" {
		t.Fatalf("target sees %q after write", out)
	}
}

func TestProcessExited(t *testing.T) {
	c := startCounter(t, 1)
	pid := c.cmd.Process.Pid
	mem := &Memory{Pid: pid}
	io.WriteString(c.in, "quit\n")
	c.cmd.Wait()

	_, err := proc.ReadExact(mem, c.addr, 8)
	if !errors.Is(err, proc.ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
	err = proc.WriteExact(mem, c.addr, []byte{1})
	if !errors.Is(err, proc.ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
}

func TestAlive(t *testing.T) {
	if !alive(os.Getpid()) {
		t.Fatal("test process reported as exited")
	}
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid
	// Until it is reaped the child stays a zombie.
	for i := 0; status(pid) != statusZombie; i++ {
		if i > 500 {
			cmd.Wait()
			t.Fatalf("child never became a zombie, status %q", status(pid))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if alive(pid) {
		t.Fatal("zombie reported as alive")
	}
	cmd.Wait()
	if alive(pid) {
		t.Fatal("reaped process reported as alive")
	}
}
