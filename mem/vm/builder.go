package vm

import (
	"github.com/sarchlab/pagewalk/mem/physmem"
)

// DefaultCapacity is the physical memory size a Builder uses when neither a
// storage nor a capacity is given.
const DefaultCapacity = 16 * 1024 * 1024

// A Builder can build memory systems.
type Builder struct {
	storage        *physmem.Storage
	capacity       uint64
	mode           Mode
	rootPPN        uint64
	superpageCheck SuperpageCheck
}

// MakeBuilder creates a new builder with the default parameters: a 16 MiB
// physical memory, Sv39 and the root table at PPN 1.
func MakeBuilder() Builder {
	return Builder{
		capacity: DefaultCapacity,
		mode:     Sv39,
		rootPPN:  1,
	}
}

// WithStorage sets the physical memory the memory system uses. It takes
// precedence over WithCapacity.
func (b Builder) WithStorage(storage *physmem.Storage) Builder {
	b.storage = storage
	return b
}

// WithCapacity sets the size of the physical memory to create.
func (b Builder) WithCapacity(capacity uint64) Builder {
	b.capacity = capacity
	return b
}

// WithMode sets the addressing mode.
func (b Builder) WithMode(mode Mode) Builder {
	b.mode = mode
	return b
}

// WithRootPPN sets the page number of the root page table.
func (b Builder) WithRootPPN(ppn uint64) Builder {
	b.rootPPN = ppn
	return b
}

// WithSuperpageCheck sets how superpage leaves are validated.
func (b Builder) WithSuperpageCheck(c SuperpageCheck) Builder {
	b.superpageCheck = c
	return b
}

// Build creates a new memory system. It panics if the mode cannot be
// translated.
func (b Builder) Build() *MemorySystem {
	if err := b.mode.Validate(); err != nil {
		panic(err)
	}

	storage := b.storage
	if storage == nil {
		storage = physmem.NewStorage(b.capacity)
	}

	m := &MemorySystem{
		storage:        storage,
		mode:           b.mode,
		rootPPN:        b.rootPPN,
		superpageCheck: b.superpageCheck,
	}

	return m
}
