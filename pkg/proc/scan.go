package proc

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/memedit/memedit/pkg/logflags"
)

const (
	pageSize = 4096

	// ChunkSize is the number of bytes read from the target with a single
	// system call while scanning. It must be a multiple of every
	// supported width so that strides never straddle two chunks.
	ChunkSize = 16 * pageSize
)

// Candidates maps the address of every candidate to the value last seen
// there. A Candidates value is never modified after it has been returned;
// every operation builds a new one.
type Candidates map[uint64]Value

// Addrs returns the candidate addresses in ascending order.
func (c Candidates) Addrs() []uint64 {
	r := make([]uint64, 0, len(c))
	for addr := range c {
		r = append(r, addr)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// ScanStats describes a completed scan.
type ScanStats struct {
	Regions int
	Bytes   uint64
	// Skipped is the number of bytes that could not be read.
	Skipped uint64
}

// Scan searches regions for v and returns the addresses where it was
// found. Integers and floats are compared at multiples of s.Width from
// the start of each region; strings are compared at every offset.
// Unreadable parts of a region are skipped. If ctx is cancelled or the
// target exits no candidates are returned.
func Scan(ctx context.Context, mem MemoryReader, regions []MemoryRegion, v Value, s Settings) (Candidates, ScanStats, error) {
	var stats ScanStats
	if v.Type != s.Type {
		return nil, stats, userErrorf("search value is %v but the data type is %v", v.Type, s.Type)
	}
	needle, err := Encode(v, s)
	if err != nil {
		return nil, stats, err
	}
	if len(needle) == 0 {
		return nil, stats, userErrorf("empty search value")
	}
	stride := s.Width
	if s.Type == String {
		stride = 1
	}

	logger := logflags.ScanLogger()
	matches := make(Candidates)
	for _, region := range regions {
		logger.Debugf("scanning %s (%d bytes) for % x", region, region.Size, needle)
		sc := &regionScan{
			ctx:    ctx,
			mem:    mem,
			region: region,
			needle: needle,
			stride: stride,
			value:  v,
			out:    matches,
			stats:  &stats,
			logger: logger,
		}
		if err := sc.scanRange(region.Start, region.End, ChunkSize); err != nil {
			return nil, stats, err
		}
		stats.Regions++
		stats.Bytes += region.Size
	}
	logger.Debugf("scan done: %d matches, %d regions, %d bytes, %d skipped", len(matches), stats.Regions, stats.Bytes, stats.Skipped)
	return matches, stats, nil
}

type regionScan struct {
	ctx    context.Context
	mem    MemoryReader
	region MemoryRegion
	needle []byte
	stride int
	value  Value
	out    Candidates
	stats  *ScanStats
	logger logflags.Logger
}

// scanRange probes every stride boundary in [from, to). When the needle
// is longer than the stride each chunk is read together with the bytes
// that follow it, so that probes near the end of a chunk see their whole
// value.
func (sc *regionScan) scanRange(from, to uint64, chunk uint64) error {
	for off := from; off < to; off += chunk {
		if err := sc.ctx.Err(); err != nil {
			return err
		}
		chunkEnd := off + chunk
		if chunkEnd > to || chunkEnd < off {
			chunkEnd = to
		}
		windowEnd := chunkEnd
		if overlap := len(sc.needle) - sc.stride; overlap > 0 {
			windowEnd += uint64(overlap)
		}
		if windowEnd > sc.region.End {
			windowEnd = sc.region.End
		}
		if windowEnd-off < uint64(len(sc.needle)) {
			continue
		}
		c, err := cacheMemory(sc.mem, off, int(windowEnd-off))
		if err != nil {
			if errors.Is(err, ErrProcessExited) {
				return err
			}
			if chunk > pageSize {
				sc.logger.Debugf("retrying %#x-%#x one page at a time: %v", off, chunkEnd, err)
				if err := sc.scanRange(off, chunkEnd, pageSize); err != nil {
					return err
				}
				continue
			}
			if windowEnd > chunkEnd {
				// The failure may be in the bytes past the page only.
				if c, err := cacheMemory(sc.mem, off, int(chunkEnd-off)); err == nil {
					sc.probe(c, off, chunkEnd)
					continue
				} else if errors.Is(err, ErrProcessExited) {
					return err
				}
			}
			sc.logger.Debugf("skipping %#x-%#x: %v", off, chunkEnd, err)
			sc.stats.Skipped += chunkEnd - off
			continue
		}
		sc.probe(c, off, chunkEnd)
	}
	return nil
}

func (sc *regionScan) probe(c *memCache, from, to uint64) {
	n := uint64(len(sc.needle))
	stride := uint64(sc.stride)
	first := from
	if rem := (from - sc.region.Start) % stride; rem != 0 {
		first += stride - rem
	}
	end := c.cacheAddr + uint64(len(c.cache))
	for addr := first; addr < to && addr+n <= end; addr += stride {
		i := addr - c.cacheAddr
		if bytes.Equal(c.cache[i:i+n], sc.needle) {
			sc.out[addr] = sc.value
		}
	}
}

// refresh reads the current bytes of every candidate. Addresses that
// could not be read are absent from the result and listed in failed.
func refresh(mem MemoryReader, cands Candidates, s Settings) (cur map[uint64][]byte, failed map[uint64]error, err error) {
	logger := logflags.MemIOLogger()
	cur = make(map[uint64][]byte, len(cands))
	failed = make(map[uint64]error)
	for addr, old := range cands {
		size := s.Width
		if old.Type == String {
			size = len(old.Str)
		}
		buf, err := ReadExact(mem, addr, size)
		if err != nil {
			if errors.Is(err, ErrProcessExited) {
				return nil, nil, err
			}
			logger.Debugf("refresh %#x: %v", addr, err)
			failed[addr] = err
			continue
		}
		cur[addr] = buf
	}
	return cur, failed, nil
}

// Update re-reads every candidate and returns a new set with the same
// addresses and their current values. Candidates that can not be read
// keep their previous value.
func Update(mem MemoryReader, cands Candidates, s Settings) (Candidates, error) {
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}
	cur, failed, err := refresh(mem, cands, s)
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		logflags.ScanLogger().Warnf("could not read %d of %d candidates", len(failed), len(cands))
	}
	r := make(Candidates, len(cands))
	for addr, old := range cands {
		buf, ok := cur[addr]
		if !ok {
			r[addr] = old
			continue
		}
		if old.Type == String {
			r[addr] = StringValue(string(buf))
			continue
		}
		v, err := Decode(buf, Settings{Width: s.Width, Type: old.Type})
		if err != nil {
			return nil, err
		}
		r[addr] = v
	}
	return r, nil
}

// Refine re-reads every candidate and keeps only the ones that currently
// hold v. The result is always a subset of cands.
func Refine(mem MemoryReader, cands Candidates, v Value, s Settings) (Candidates, error) {
	if s.Type == String {
		return nil, ErrUnsupported
	}
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}
	if v.Type != s.Type {
		return nil, userErrorf("refine value is %v but the data type is %v", v.Type, s.Type)
	}
	needle, err := Encode(v, s)
	if err != nil {
		return nil, err
	}
	cur, _, err := refresh(mem, cands, s)
	if err != nil {
		return nil, err
	}
	r := make(Candidates)
	for addr := range cands {
		if buf, ok := cur[addr]; ok && bytes.Equal(buf, needle) {
			r[addr] = v
		}
	}
	logflags.ScanLogger().Debugf("refine: %d of %d candidates hold %v", len(r), len(cands), v)
	return r, nil
}

// WriteResult is the outcome of writing to a single candidate.
type WriteResult struct {
	Addr uint64
	Err  error
}

// WriteAll writes v to every candidate. Writes are independent: a failed
// write does not stop the others and nothing is rolled back. The results
// are sorted by address.
func WriteAll(mem MemoryReadWriter, cands Candidates, v Value, s Settings) ([]WriteResult, error) {
	if s.Type == String {
		return nil, ErrUnsupported
	}
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}
	if v.Type != s.Type {
		return nil, userErrorf("value is %v but the data type is %v", v.Type, s.Type)
	}
	data, err := Encode(v, s)
	if err != nil {
		return nil, err
	}
	logger := logflags.MemIOLogger()
	results := make([]WriteResult, 0, len(cands))
	for _, addr := range cands.Addrs() {
		err := WriteExact(mem, addr, data)
		if err != nil {
			logger.Debugf("write %#x: %v", addr, err)
		}
		results = append(results, WriteResult{Addr: addr, Err: err})
	}
	return results, nil
}

// FailedWrites returns the results with an error.
func FailedWrites(results []WriteResult) []WriteResult {
	var r []WriteResult
	for _, res := range results {
		if res.Err != nil {
			r = append(r, res)
		}
	}
	return r
}
