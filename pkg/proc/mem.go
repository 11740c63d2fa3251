package proc

import (
	"io"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter is a MemoryReader that can also write to the target.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// ReadExact reads exactly size bytes at addr. Any error, including a short
// read, is returned as an *AccessError.
func ReadExact(mem MemoryReader, addr uint64, size int) ([]byte, error) {
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	n, err := mem.ReadMemory(buf, addr)
	if err == nil && n < size {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, &AccessError{Op: "read", Addr: addr, Len: size, Err: err}
	}
	return buf, nil
}

// WriteExact writes all of data at addr. A short write is an error.
func WriteExact(mem MemoryReadWriter, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := mem.WriteMemory(addr, data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &AccessError{Op: "write", Addr: addr, Len: len(data), Err: err}
	}
	return nil
}

// memCache serves reads inside [cacheAddr, cacheAddr+len(cache)) from a
// snapshot and forwards everything else.
type memCache struct {
	cacheAddr uint64
	cache     []byte
	mem       MemoryReader
}

func (m *memCache) contains(addr uint64, size int) bool {
	return addr >= m.cacheAddr && size <= len(m.cache) && addr-m.cacheAddr <= uint64(len(m.cache)-size)
}

func (m *memCache) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if m.contains(addr, len(data)) {
		copy(data, m.cache[addr-m.cacheAddr:])
		return len(data), nil
	}

	return m.mem.ReadMemory(data, addr)
}

// cacheMemory snapshots size bytes at addr. Unlike a plain read, a
// failure is returned rather than silently falling back to mem, so that
// callers can skip the unreadable range.
func cacheMemory(mem MemoryReader, addr uint64, size int) (*memCache, error) {
	if cacheMem, isCache := mem.(*memCache); isCache {
		if cacheMem.contains(addr, size) {
			return cacheMem, nil
		}
		mem = cacheMem.mem
	}
	cache, err := ReadExact(mem, addr, size)
	if err != nil {
		return nil, err
	}
	return &memCache{addr, cache, mem}, nil
}
