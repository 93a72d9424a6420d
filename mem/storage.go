package mem

import (
	"fmt"
)

// A Storage is a flat, byte-addressed backing store behind the cache
// hierarchy. Reads and writes are functionally immediate; timing is
// modeled by the components in front of it.
type Storage struct {
	Capacity uint64
	data     []byte
}

// NewStorage creates a storage of the given capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		Capacity: capacity,
		data:     make([]byte, capacity),
	}
}

// Read returns a copy of the bytes in [addr, addr+size).
func (s *Storage) Read(addr, size uint64) ([]byte, error) {
	if addr+size > s.Capacity {
		return nil, fmt.Errorf(
			"storage read out of range: addr 0x%x, size %d", addr, size)
	}

	out := make([]byte, size)
	copy(out, s.data[addr:addr+size])

	return out, nil
}

// Write stores data starting at addr.
func (s *Storage) Write(addr uint64, data []byte) error {
	if addr+uint64(len(data)) > s.Capacity {
		return fmt.Errorf(
			"storage write out of range: addr 0x%x, size %d", addr, len(data))
	}

	copy(s.data[addr:], data)

	return nil
}

// MustRead is Read for callers that treat an out-of-range address as
// fatal.
func (s *Storage) MustRead(addr, size uint64) []byte {
	data, err := s.Read(addr, size)
	if err != nil {
		panic(err)
	}

	return data
}

// ReadWord returns the little-endian 32-bit word at addr.
func (s *Storage) ReadWord(addr uint32) (uint32, error) {
	bytes, err := s.Read(uint64(addr), 4)
	if err != nil {
		return 0, err
	}

	return WordFromBytes(bytes, 0), nil
}

// WriteWord stores a 32-bit word at addr in little-endian order.
func (s *Storage) WriteWord(addr, value uint32) error {
	bytes := make([]byte, 4)
	PutWord(bytes, 0, value)

	return s.Write(uint64(addr), bytes)
}
