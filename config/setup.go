package config

import (
	"fmt"

	"github.com/sarchlab/pagewalk/mem/vm"
)

// Setup builds a memory system from the configuration and fills its page
// tables from the fixture. A nil fixture leaves the tables empty. The
// returned allocator continues after the tables the fixture created.
func Setup(c Config, f *Fixture) (*vm.MemorySystem, *vm.BumpAllocator, error) {
	if f != nil {
		var err error
		if c, err = f.Apply(c); err != nil {
			return nil, nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	memSys := vm.MakeBuilder().
		WithCapacity(c.ArenaSize).
		WithMode(c.Mode).
		WithRootPPN(c.RootPPN).
		WithSuperpageCheck(c.SuperpageCheck).
		Build()

	root, err := memSys.RootTable()
	if err != nil {
		return nil, nil, fmt.Errorf("root table: %w", err)
	}

	allocPPN := root.PPN() + root.NumPages()
	if f != nil && f.AllocPPN != nil {
		allocPPN = uint64(*f.AllocPPN)
	}

	alloc := vm.NewBumpAllocator(memSys.Storage(), allocPPN)

	if f == nil {
		return memSys, alloc, nil
	}

	if err := applyEntries(memSys, f.Entries); err != nil {
		return nil, nil, err
	}

	if err := applyMappings(memSys, alloc, f.Mappings); err != nil {
		return nil, nil, err
	}

	return memSys, alloc, nil
}

func applyEntries(memSys *vm.MemorySystem, entries []EntrySpec) error {
	for i, e := range entries {
		flags, err := vm.ParseFlags(e.Flags)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}

		t, err := memSys.Table(uint64(e.TablePPN))
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}

		err = t.SetEntry(uint64(e.Index), vm.PTE{
			PPN:   uint64(e.PPN),
			Flags: flags,
		})
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}

	return nil
}

func applyMappings(
	memSys *vm.MemorySystem,
	alloc vm.FrameAllocator,
	mappings []MappingSpec,
) error {
	for i, m := range mappings {
		flags, err := vm.ParseFlags(m.Flags)
		if err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}

		err = memSys.Map(uint64(m.VA), m.Level, vm.PTE{
			PPN:   uint64(m.PPN),
			Flags: flags,
		}, alloc)
		if err != nil {
			return fmt.Errorf("mapping %d (va %#x): %w", i, uint64(m.VA), err)
		}
	}

	return nil
}
