// Package session holds the state of one editing session against a single
// process: its regions and their selection, the value settings, and the
// current candidate set.
//
// Memory is read and written while the target keeps running. A value can
// change between the read that found it and a later write, so a write may
// land on an address that no longer holds what the candidate list shows.
// Nothing here tries to prevent that.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/memedit/memedit/pkg/hexdump"
	"github.com/memedit/memedit/pkg/logflags"
	"github.com/memedit/memedit/pkg/proc"
)

// State is the position of a session in its scan lifecycle.
type State uint8

const (
	// Empty means there is no candidate set.
	Empty State = iota
	// Scanned means the candidate set comes from a full scan.
	Scanned
	// Refined means the candidate set was narrowed at least once.
	Refined
)

func (st State) String() string {
	switch st {
	case Empty:
		return "empty"
	case Scanned:
		return "scanned"
	case Refined:
		return "refined"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// DefaultMaxDumpLen is the largest dump allowed when Config.MaxDumpLen is
// zero.
const DefaultMaxDumpLen = 4096

// Config describes the target of a new session.
type Config struct {
	Pid      int
	Mem      proc.MemoryReadWriter
	Regions  *proc.RegionMap
	Settings proc.Settings
	// MaxDumpLen bounds the number of bytes Dump and Read accept.
	MaxDumpLen int
}

// Session is the aggregate every terminal command and script operates on.
// A failed operation leaves the session unchanged.
type Session struct {
	pid     int
	mem     proc.MemoryReadWriter
	regions *proc.RegionMap

	settings   proc.Settings
	maxDumpLen int

	cands proc.Candidates
	state State
}

// New returns a session with no candidates.
func New(cfg Config) (*Session, error) {
	if cfg.Mem == nil || cfg.Regions == nil {
		return nil, errors.New("session needs a memory and a region map")
	}
	if cfg.Settings == (proc.Settings{}) {
		cfg.Settings = proc.DefaultSettings()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxDumpLen <= 0 {
		cfg.MaxDumpLen = DefaultMaxDumpLen
	}
	return &Session{
		pid:        cfg.Pid,
		mem:        cfg.Mem,
		regions:    cfg.Regions,
		settings:   cfg.Settings,
		maxDumpLen: cfg.MaxDumpLen,
	}, nil
}

func (s *Session) Pid() int { return s.pid }
func (s *Session) Regions() *proc.RegionMap { return s.regions }
func (s *Session) Settings() proc.Settings { return s.settings }
func (s *Session) State() State { return s.state }
func (s *Session) MaxDumpLen() int { return s.maxDumpLen }

// Count returns the number of candidates.
func (s *Session) Count() int {
	return len(s.cands)
}

// SetWidth changes the integer width used by later operations. The
// candidate set is kept.
func (s *Session) SetWidth(w int) error {
	ns := s.settings
	ns.Width = w
	if err := ns.Validate(); err != nil {
		return err
	}
	s.settings = ns
	return nil
}

// SetType changes the data type used by later operations. Candidates
// found with another data type can not be compared against the new one so
// a change of type clears the candidate set.
func (s *Session) SetType(t proc.DataType) error {
	ns := s.settings
	ns.Type = t
	if err := ns.Validate(); err != nil {
		return err
	}
	if t != s.settings.Type && len(s.cands) > 0 {
		logflags.ScanLogger().Infof("data type changed to %v, discarding %d candidates", t, len(s.cands))
		s.Clear()
	}
	s.settings = ns
	return nil
}

// ParseValue parses text with the current settings.
func (s *Session) ParseValue(text string) (proc.Value, error) {
	return proc.ParseValue(text, s.settings)
}

// Scan searches the selected regions for text and replaces the candidate
// set with the matches.
func (s *Session) Scan(ctx context.Context, text string) (int, proc.ScanStats, error) {
	v, err := s.ParseValue(text)
	if err != nil {
		return 0, proc.ScanStats{}, err
	}
	selected := s.regions.Selected()
	if len(selected) == 0 {
		return 0, proc.ScanStats{}, &proc.UserInputError{Msg: "no regions selected (see regions and select)"}
	}
	cands, stats, err := proc.Scan(ctx, s.mem, selected, v, s.settings)
	if err != nil {
		return 0, stats, err
	}
	s.cands = cands
	s.state = Scanned
	return len(cands), stats, nil
}

// Refine keeps the candidates that currently hold text.
func (s *Session) Refine(text string) (int, error) {
	if s.state == Empty {
		return 0, proc.ErrNoCandidates
	}
	v, err := s.ParseValue(text)
	if err != nil {
		return 0, err
	}
	cands, err := proc.Refine(s.mem, s.cands, v, s.settings)
	if err != nil {
		return 0, err
	}
	s.cands = cands
	s.state = Refined
	return len(cands), nil
}

// Update re-reads the value of every candidate.
func (s *Session) Update() (int, error) {
	cands, err := proc.Update(s.mem, s.cands, s.settings)
	if err != nil {
		return 0, err
	}
	s.cands = cands
	return len(cands), nil
}

// Set writes text to every candidate. The candidate set is not changed;
// use Update to see the values written.
func (s *Session) Set(text string) ([]proc.WriteResult, error) {
	if s.settings.Type == proc.String {
		return nil, proc.ErrUnsupported
	}
	v, err := s.ParseValue(text)
	if err != nil {
		return nil, err
	}
	return proc.WriteAll(s.mem, s.cands, v, s.settings)
}

// Clear drops the candidate set.
func (s *Session) Clear() {
	s.cands = nil
	s.state = Empty
}

// CandidateInfo describes one candidate for display.
type CandidateInfo struct {
	Addr  uint64
	Value proc.Value
	// Region is the index of the region containing Addr, -1 if none does.
	Region int
	Kind   proc.RegionKind
}

// Candidates returns the candidates sorted by address.
func (s *Session) Candidates() []CandidateInfo {
	r := make([]CandidateInfo, 0, len(s.cands))
	for _, addr := range s.cands.Addrs() {
		ci := CandidateInfo{Addr: addr, Value: s.cands[addr], Region: -1}
		if idx, ok := s.regions.RegionAt(addr); ok {
			ci.Region = idx
			region, _ := s.regions.Region(idx)
			ci.Kind = region.Kind
		}
		r = append(r, ci)
	}
	return r
}

// Read returns n bytes at addr.
func (s *Session) Read(addr uint64, n int) ([]byte, error) {
	if n <= 0 || n > s.maxDumpLen {
		return nil, &proc.UserInputError{Msg: fmt.Sprintf("length must be between 1 and %d", s.maxDumpLen)}
	}
	return proc.ReadExact(s.mem, addr, n)
}

// Write writes data at addr.
func (s *Session) Write(addr uint64, data []byte) error {
	if len(data) == 0 {
		return &proc.UserInputError{Msg: "nothing to write"}
	}
	return proc.WriteExact(s.mem, addr, data)
}

// Dump returns a hex dump of n bytes at addr.
func (s *Session) Dump(addr uint64, n int) (string, error) {
	b, err := s.Read(addr, n)
	if err != nil {
		return "", err
	}
	return hexdump.Format(addr, b), nil
}
