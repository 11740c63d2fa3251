package proc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/memedit/memedit/pkg/logflags"
)

// RegionKind classifies a memory region by what backs it.
type RegionKind uint8

const (
	Unknown RegionKind = iota
	Code
	Heap
	Stack
)

func (k RegionKind) String() string {
	switch k {
	case Code:
		return "code"
	case Heap:
		return "heap"
	case Stack:
		return "stack"
	}
	return "unknown"
}

// MemoryRegion is a writable mapping of the target process.
type MemoryRegion struct {
	Start, End uint64
	Size       uint64
	Kind       RegionKind
	Writable   bool
	Perms      string
	Path       string
}

// Key returns the identifier used for selection.
func (r MemoryRegion) Key() RegionKey {
	return RegionKey{Start: r.Start, End: r.End}
}

// Contains reports whether addr is inside the region. The upper bound is
// exclusive.
func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r MemoryRegion) String() string {
	return fmt.Sprintf("%#x-%#x", r.Start, r.End)
}

// RegionKey identifies a region by its address range.
type RegionKey struct {
	Start, End uint64
}

// DefaultExcludePaths are the shared library directories never scanned.
var DefaultExcludePaths = []string{"/usr/lib/", "/usr/lib64/", "/lib/", "/lib64/"}

// ParseOptions controls which mappings ParseMaps keeps and how they are
// classified.
type ParseOptions struct {
	// Exe is the path of the target executable; mappings backed by it
	// are classified as Code.
	Exe string
	// ExcludePaths are path prefixes of mappings to skip. If nil
	// DefaultExcludePaths is used.
	ExcludePaths []string
}

// ParseMaps reads a mapping description in the format of
// /proc/<pid>/maps and returns the private writable regions in the order
// they appear. Malformed records are skipped and returned in skipped; err
// is only set if reading r fails.
func ParseMaps(r io.Reader, opts ParseOptions) (regions []MemoryRegion, skipped []*ParseError, err error) {
	logger := logflags.RegionsLogger()
	exclude := opts.ExcludePaths
	if exclude == nil {
		exclude = DefaultExcludePaths
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		start, end, perm, path, perr := parseMapsLine(lineno, line)
		if perr != nil {
			logger.Warnf("skipping record: %v", perr)
			skipped = append(skipped, perr)
			continue
		}
		if perm[1] != 'w' || perm[3] != 'p' {
			continue
		}
		if excludedPath(path, exclude) {
			continue
		}
		region := MemoryRegion{
			Start:    start,
			End:      end,
			Size:     end - start,
			Kind:     classify(path, opts.Exe),
			Writable: true,
			Perms:    perm,
			Path:     path,
		}
		logger.Debugf("region %s %s %s %q", region, perm, region.Kind, path)
		regions = append(regions, region)
	}
	return regions, skipped, scanner.Err()
}

func excludedPath(path string, exclude []string) bool {
	for _, prefix := range exclude {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func classify(path, exe string) RegionKind {
	switch {
	case path == "[heap]":
		return Heap
	case path == "[stack]":
		return Stack
	case path != "" && (path == exe || strings.HasPrefix(path, "/usr/bin/")):
		return Code
	}
	return Unknown
}

// parseMapsLine parses one record. The offset, device and inode columns
// are optional so that abbreviated records such as
// "1000-2000 rw-p [heap]" are accepted.
func parseMapsLine(lineno int, in string) (start, end uint64, perm, path string, err *ParseError) {
	fail := func(reason string) (uint64, uint64, string, string, *ParseError) {
		return 0, 0, "", "", &ParseError{Line: lineno, Text: in, Reason: reason}
	}

	addrs, rest := nextField(in)
	perm, rest = nextField(rest)

	v := strings.Split(addrs, "-")
	if len(v) != 2 {
		return fail("bad address range")
	}
	start, perr := parseHexAddr(v[0])
	if perr != nil {
		return fail(perr.Error())
	}
	end, perr = parseHexAddr(v[1])
	if perr != nil {
		return fail(perr.Error())
	}
	if end < start {
		return fail("end of range before start")
	}
	if len(perm) < 4 {
		return fail("permissions column too short")
	}

	// offset, dev, inode
	offset, afterOffset := nextField(rest)
	dev, afterDev := nextField(afterOffset)
	inode, afterInode := nextField(afterDev)
	if isHex(offset) && strings.Contains(dev, ":") && isDecimal(inode) {
		rest = afterInode
	}
	return start, end, perm, strings.TrimSpace(rest), nil
}

func parseHexAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

func nextField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

const regionLookupCacheSize = 4096

// RegionMap is the list of regions discovered at startup plus the set of
// regions selected for scanning. Indices are positions in discovery
// order, starting at 0.
type RegionMap struct {
	regions  []MemoryRegion
	selected map[RegionKey]bool
	lookup   *lru.Cache
}

// NewRegionMap returns a RegionMap with every region selected.
func NewRegionMap(regions []MemoryRegion) *RegionMap {
	lookup, _ := lru.New(regionLookupCacheSize)
	m := &RegionMap{
		regions:  append([]MemoryRegion(nil), regions...),
		selected: make(map[RegionKey]bool, len(regions)),
		lookup:   lookup,
	}
	for _, r := range m.regions {
		m.selected[r.Key()] = true
	}
	return m
}

// Len returns the number of regions.
func (m *RegionMap) Len() int {
	return len(m.regions)
}

// Regions returns all regions in discovery order.
func (m *RegionMap) Regions() []MemoryRegion {
	return append([]MemoryRegion(nil), m.regions...)
}

// Region returns the i-th region.
func (m *RegionMap) Region(i int) (MemoryRegion, error) {
	if i < 0 || i >= len(m.regions) {
		return MemoryRegion{}, userErrorf("invalid region %d (have %d regions)", i+1, len(m.regions))
	}
	return m.regions[i], nil
}

// RegionAt returns the index of the region containing addr.
func (m *RegionMap) RegionAt(addr uint64) (int, bool) {
	if v, ok := m.lookup.Get(addr); ok {
		i := v.(int)
		return i, i >= 0
	}
	idx := -1
	for i := range m.regions {
		if m.regions[i].Contains(addr) {
			idx = i
			break
		}
	}
	m.lookup.Add(addr, idx)
	return idx, idx >= 0
}

// IsSelected reports whether the i-th region is selected.
func (m *RegionMap) IsSelected(i int) bool {
	if i < 0 || i >= len(m.regions) {
		return false
	}
	return m.selected[m.regions[i].Key()]
}

// Select adds the i-th region to the selection. It returns false if the
// region was already selected.
func (m *RegionMap) Select(i int) (bool, error) {
	r, err := m.Region(i)
	if err != nil {
		return false, err
	}
	if m.selected[r.Key()] {
		return false, nil
	}
	m.selected[r.Key()] = true
	return true, nil
}

// Deselect removes the i-th region from the selection. Deselecting a
// region that is not selected is an error.
func (m *RegionMap) Deselect(i int) error {
	r, err := m.Region(i)
	if err != nil {
		return err
	}
	if !m.selected[r.Key()] {
		return userErrorf("region %d is not selected", i+1)
	}
	delete(m.selected, r.Key())
	return nil
}

// Selected returns the selected regions in discovery order.
func (m *RegionMap) Selected() []MemoryRegion {
	r := make([]MemoryRegion, 0, len(m.selected))
	for _, region := range m.regions {
		if m.selected[region.Key()] {
			r = append(r, region)
		}
	}
	return r
}
