// Package vm provides the models for address translations.
package vm

import (
	"github.com/sarchlab/pagewalk/mem/physmem"
	"github.com/sarchlab/pagewalk/tracing"
)

// A MemorySystem ties a physical memory to an addressing mode and the root of
// a page table.
//
// Translations only read the memory system. The mode and root may change
// between translations but not while one is in flight, and page tables must
// not be modified during a walk. Several memory systems can share one
// storage.
type MemorySystem struct {
	storage        *physmem.Storage
	mode           Mode
	rootPPN        uint64
	superpageCheck SuperpageCheck
}

// Storage returns the physical memory.
func (m *MemorySystem) Storage() *physmem.Storage {
	return m.storage
}

// Mode returns the addressing mode.
func (m *MemorySystem) Mode() Mode {
	return m.mode
}

// RootPPN returns the page number of the root page table.
func (m *MemorySystem) RootPPN() uint64 {
	return m.rootPPN
}

// SuperpageCheck returns how superpage leaves are validated.
func (m *MemorySystem) SuperpageCheck() SuperpageCheck {
	return m.superpageCheck
}

// SetSuperpageCheck changes how superpage leaves are validated.
func (m *MemorySystem) SetSuperpageCheck(c SuperpageCheck) {
	m.superpageCheck = c
}

// Configure switches to another mode and root. The memory content is left
// untouched.
func (m *MemorySystem) Configure(mode Mode, rootPPN uint64) error {
	if err := mode.Validate(); err != nil {
		return err
	}

	m.mode = mode
	m.rootPPN = rootPPN

	return nil
}

// Table returns the page table of the current mode that starts at ppn.
func (m *MemorySystem) Table(ppn uint64) (PageTable, error) {
	return TableAt(m.storage, ppn, m.mode.EntriesPerTable())
}

// RootTable returns the root page table.
func (m *MemorySystem) RootTable() (PageTable, error) {
	return m.Table(m.rootPPN)
}

// Translate returns the physical address of vAddr. See the package-level
// Translate for the contract.
func (m *MemorySystem) Translate(
	vAddr uint64,
	sink tracing.Sink,
) (uint64, error) {
	w := walker{
		storage: m.storage,
		mode:    m.mode,
		check:   m.superpageCheck,
		rootPPN: m.rootPPN,
		vAddr:   vAddr,
		sink:    sink,
	}

	return w.run()
}
