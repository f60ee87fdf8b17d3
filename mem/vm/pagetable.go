package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/pagewalk/mem/physmem"
)

// ErrIndexOutOfRange is returned when an index is not smaller than the number
// of entries of a table.
var ErrIndexOutOfRange = errors.New("page table index out of range")

// A PageTable is a view of a page table inside physical memory. It does not
// own memory: its entries live in the storage starting at Base().
type PageTable struct {
	storage    *physmem.Storage
	ppn        uint64
	base       uint64
	numEntries int
}

// TableAt returns the table of numEntries PTEs starting at the page the PPN
// names. The whole table must fit into the storage.
func TableAt(
	storage *physmem.Storage,
	ppn uint64,
	numEntries int,
) (PageTable, error) {
	base, err := PTE{PPN: ppn}.PageAddr()
	if err != nil {
		return PageTable{}, fmt.Errorf("%w: %w", physmem.ErrOutOfBounds, err)
	}

	err = storage.CheckRange(base, uint64(numEntries)*PTESize)
	if err != nil {
		return PageTable{}, err
	}

	t := PageTable{
		storage:    storage,
		ppn:        ppn,
		base:       base,
		numEntries: numEntries,
	}

	return t, nil
}

// PPN returns the page number where the table starts.
func (t PageTable) PPN() uint64 {
	return t.ppn
}

// Base returns the physical address of entry 0.
func (t PageTable) Base() uint64 {
	return t.base
}

// Len returns the number of entries.
func (t PageTable) Len() int {
	return t.numEntries
}

// Size returns the number of bytes the table takes.
func (t PageTable) Size() uint64 {
	return uint64(t.numEntries) * PTESize
}

// NumPages returns how many base pages the table spans.
func (t PageTable) NumPages() uint64 {
	return (t.Size() + PageSize - 1) / PageSize
}

// EntryAddr returns the physical address of an entry.
func (t PageTable) EntryAddr(index uint64) (uint64, error) {
	if index >= uint64(t.numEntries) {
		return 0, fmt.Errorf("%w: %d >= %d",
			ErrIndexOutOfRange, index, t.numEntries)
	}

	return t.base + index*PTESize, nil
}

// Entry reads an entry.
func (t PageTable) Entry(index uint64) (PTE, error) {
	addr, err := t.EntryAddr(index)
	if err != nil {
		return PTE{}, err
	}

	return ReadPTE(t.storage, addr)
}

// SetEntry overwrites an entry.
func (t PageTable) SetEntry(index uint64, pte PTE) error {
	addr, err := t.EntryAddr(index)
	if err != nil {
		return err
	}

	return WritePTE(t.storage, addr, pte)
}

// Clear sets every entry to zero, making all of them invalid.
func (t PageTable) Clear() error {
	return t.storage.Zero(t.base, t.Size())
}

// An IndexedPTE is a PTE together with its index in a table.
type IndexedPTE struct {
	Index uint64
	PTE   PTE
}

// ValidEntries lists the entries whose Valid bit is set, in index order.
func (t PageTable) ValidEntries() ([]IndexedPTE, error) {
	var entries []IndexedPTE

	for i := uint64(0); i < uint64(t.numEntries); i++ {
		pte, err := t.Entry(i)
		if err != nil {
			return nil, err
		}

		if pte.IsValid() {
			entries = append(entries, IndexedPTE{Index: i, PTE: pte})
		}
	}

	return entries, nil
}
