// Package physmem provides the simulated physical memory that page tables
// live in.
package physmem

import (
	"errors"
	"fmt"
)

// PageSize is the size of a physical frame.
const PageSize = 4096

// ErrOutOfBounds is returned when an access falls outside the storage.
var ErrOutOfBounds = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the data of the simulated physical memory.
//
// The storage has a fixed capacity and reads as all zeros until written. It
// manages the data in units of PageSize bytes. Units that are never written
// are never allocated, so a large arena costs only what the page tables in it
// actually use.
//
// Every access is checked against the capacity. There is no way to reach a
// byte outside [0, Capacity()).
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	storage := new(Storage)

	storage.unitSize = PageSize
	storage.capacity = capacity
	storage.data = make(map[uint64][]byte)

	return storage
}

// Capacity returns the number of addressable bytes.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// CheckRange returns ErrOutOfBounds unless the n bytes starting at address
// are all inside the storage.
func (s *Storage) CheckRange(address, n uint64) error {
	if address > s.capacity || n > s.capacity-address {
		return fmt.Errorf("%w: [%#x, +%#x) with capacity %#x",
			ErrOutOfBounds, address, n, s.capacity)
	}

	return nil
}

// Contains tells if the n bytes starting at address are inside the storage.
func (s *Storage) Contains(address, n uint64) bool {
	return s.CheckRange(address, n) == nil
}

func (s *Storage) getUnit(address uint64) ([]byte, bool) {
	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]

	return unit, ok
}

// createOrGetStorageUnit retrieves a storage unit if the unit has been created
// before. Otherwise it initializes a zeroed unit in the storage object.
func (s *Storage) createOrGetStorageUnit(address uint64) []byte {
	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

func (s *Storage) lenInUnit(currAddr, lenLeft uint64) uint64 {
	baseAddr, _ := s.parseAddress(currAddr)
	lenLeftInUnit := baseAddr + s.unitSize - currAddr

	if lenLeft < lenLeftInUnit {
		return lenLeft
	}

	return lenLeftInUnit
}

// Read returns a copy of the length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	if err := s.CheckRange(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		lenToRead := s.lenInUnit(currAddr, length-dataOffset)

		unit, ok := s.getUnit(currAddr)
		if ok {
			_, inUnitAddr := s.parseAddress(currAddr)
			copy(res[dataOffset:dataOffset+lenToRead],
				unit[inUnitAddr:inUnitAddr+lenToRead])
		}

		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write stores data starting at address. Nothing is written if any byte of
// the range is outside the storage.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.CheckRange(address, length); err != nil {
		return err
	}

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		lenToWrite := s.lenInUnit(currAddr, length-dataOffset)

		unit := s.createOrGetStorageUnit(currAddr)
		_, inUnitAddr := s.parseAddress(currAddr)
		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])

		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// Zero clears length bytes starting at address.
func (s *Storage) Zero(address, length uint64) error {
	if err := s.CheckRange(address, length); err != nil {
		return err
	}

	currAddr := address
	end := address + length

	for currAddr < end {
		lenToClear := s.lenInUnit(currAddr, end-currAddr)

		unit, ok := s.getUnit(currAddr)
		if ok {
			_, inUnitAddr := s.parseAddress(currAddr)
			clear(unit[inUnitAddr : inUnitAddr+lenToClear])
		}

		currAddr += lenToClear
	}

	return nil
}

// NumAllocatedUnits returns how many units have been materialized by writes.
func (s *Storage) NumAllocatedUnits() int {
	return len(s.data)
}
