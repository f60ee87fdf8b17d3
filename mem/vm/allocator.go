package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/pagewalk/mem/physmem"
)

// ErrOutOfFrames is returned when the physical memory has no free frames
// left.
var ErrOutOfFrames = errors.New("out of physical frames")

// A FrameAllocator hands out zeroed runs of physical frames for page tables.
type FrameAllocator interface {
	// AllocateFrames returns the PPN of the first of n contiguous frames.
	AllocateFrames(n uint64) (uint64, error)
}

// A BumpAllocator allocates frames upward from a start PPN and never frees
// them.
type BumpAllocator struct {
	storage *physmem.Storage
	next    uint64
}

// NewBumpAllocator creates an allocator whose first frame is firstPPN.
func NewBumpAllocator(
	storage *physmem.Storage,
	firstPPN uint64,
) *BumpAllocator {
	return &BumpAllocator{
		storage: storage,
		next:    firstPPN,
	}
}

// NextPPN returns the PPN the next allocation starts at.
func (a *BumpAllocator) NextPPN() uint64 {
	return a.next
}

// NumFreeFrames returns how many whole frames are left.
func (a *BumpAllocator) NumFreeFrames() uint64 {
	total := a.storage.Capacity() / PageSize
	if a.next >= total {
		return 0
	}

	return total - a.next
}

// AllocateFrames returns n contiguous zeroed frames.
func (a *BumpAllocator) AllocateFrames(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("allocating zero frames")
	}

	if n > a.NumFreeFrames() {
		return 0, fmt.Errorf("%w: %d requested, %d free",
			ErrOutOfFrames, n, a.NumFreeFrames())
	}

	ppn := a.next

	err := a.storage.Zero(ppn*PageSize, n*PageSize)
	if err != nil {
		return 0, err
	}

	a.next += n

	return ppn, nil
}

// AllocateTable allocates and clears a page table of the given mode.
func AllocateTable(alloc FrameAllocator, m *MemorySystem) (PageTable, error) {
	size := uint64(m.mode.EntriesPerTable()) * PTESize
	numPages := (size + PageSize - 1) / PageSize

	ppn, err := alloc.AllocateFrames(numPages)
	if err != nil {
		return PageTable{}, err
	}

	return m.Table(ppn)
}
