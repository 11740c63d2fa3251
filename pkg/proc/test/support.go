// Package test contains helpers shared by the tests of the packages that
// read and write target memory.
package test

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

// ErrUnmapped is returned by FakeMemory for accesses outside of its
// segments, like EIO from /proc/<pid>/mem.
var ErrUnmapped = errors.New("input/output error")

type segment struct {
	addr uint64
	data []byte
}

// FakeMemory is an in-memory target made of non-overlapping segments.
// It implements proc.MemoryReadWriter.
type FakeMemory struct {
	segs []*segment

	// Exited, if set, is returned by every access.
	Exited error
	// ShortWrites makes WriteMemory write one byte less than asked.
	ShortWrites bool
	// FailWrites lists addresses where writes fail.
	FailWrites map[uint64]bool

	Reads, Writes int
}

// NewFakeMemory returns an empty FakeMemory.
func NewFakeMemory() *FakeMemory {
	return &FakeMemory{FailWrites: make(map[uint64]bool)}
}

// Map adds a segment of memory at addr holding a copy of data.
func (m *FakeMemory) Map(addr uint64, data []byte) {
	m.segs = append(m.segs, &segment{addr: addr, data: append([]byte(nil), data...)})
	sort.Slice(m.segs, func(i, j int) bool { return m.segs[i].addr < m.segs[j].addr })
}

// MapZero adds a zero filled segment of size bytes at addr.
func (m *FakeMemory) MapZero(addr uint64, size int) {
	m.Map(addr, make([]byte, size))
}

// Poke changes target memory behind the back of the code under test, the
// way the running target would.
func (m *FakeMemory) Poke(addr uint64, data []byte) {
	seg := m.find(addr, len(data))
	if seg == nil {
		panic(fmt.Sprintf("poke outside of mapped memory at %#x", addr))
	}
	copy(seg.data[addr-seg.addr:], data)
}

// Peek returns a copy of size bytes at addr.
func (m *FakeMemory) Peek(addr uint64, size int) []byte {
	seg := m.find(addr, size)
	if seg == nil {
		panic(fmt.Sprintf("peek outside of mapped memory at %#x", addr))
	}
	off := addr - seg.addr
	return append([]byte(nil), seg.data[off:off+uint64(size)]...)
}

func (m *FakeMemory) find(addr uint64, size int) *segment {
	for _, seg := range m.segs {
		if addr >= seg.addr && addr+uint64(size) <= seg.addr+uint64(len(seg.data)) {
			return seg
		}
	}
	return nil
}

func (m *FakeMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.Reads++
	if m.Exited != nil {
		return 0, m.Exited
	}
	seg := m.find(addr, len(buf))
	if seg == nil {
		return 0, ErrUnmapped
	}
	return copy(buf, seg.data[addr-seg.addr:]), nil
}

func (m *FakeMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	m.Writes++
	if m.Exited != nil {
		return 0, m.Exited
	}
	if m.FailWrites[addr] {
		return 0, ErrUnmapped
	}
	seg := m.find(addr, len(data))
	if seg == nil {
		return 0, ErrUnmapped
	}
	if m.ShortWrites && len(data) > 0 {
		data = data[:len(data)-1]
	}
	return copy(seg.data[addr-seg.addr:], data), nil
}

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

var (
	fixturesMu sync.Mutex
	fixtures   = make(map[string]Fixture)
)

// FindFixturesDir returns the path of the _fixtures directory at the root
// of the module.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// BuildFixture compiles _fixtures/<name>.go and returns the fixture.
// Compiled fixtures are cached for the lifetime of the test binary and
// removed by RunTestsWithFixtures.
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := fixtures[name]; ok {
		return f
	}

	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}

	fixturesDir := FindFixturesDir()
	source, _ := filepath.Abs(filepath.Join(fixturesDir, name+".go"))

	r := make([]byte, 4)
	rand.Read(r)
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	cmd := exec.Command("go", "build", "-o", tmpfile, source)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %s\n%s", name, err, out)
	}

	f := Fixture{Name: name, Path: tmpfile, Source: source}
	fixtures[name] = f
	return f
}

// RunTestsWithFixtures will pre-cache fixtures as they are requested and
// remove them after all tests have run.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	fixturesMu.Lock()
	for _, f := range fixtures {
		os.Remove(f.Path)
	}
	fixturesMu.Unlock()
	return status
}
