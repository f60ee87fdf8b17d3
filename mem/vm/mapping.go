package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrMappingConflict is returned when a mapping would replace a table
	// pointer or sit below an existing superpage.
	ErrMappingConflict = errors.New("mapping conflicts with an existing entry")

	// ErrNotLeaf is returned when a PTE to be installed as a mapping is not a
	// valid leaf.
	ErrNotLeaf = errors.New("pte is not a valid leaf")

	// ErrNotMapped is returned when no leaf covers an address.
	ErrNotMapped = errors.New("address is not mapped")

	// ErrNoAllocator is returned when a mapping needs a new table but no
	// allocator is given.
	ErrNoAllocator = errors.New("missing table and no allocator")
)

// Map installs leaf as the mapping of vAddr at the given level. Level 0 maps
// a base page; higher levels map superpages. Missing tables on the path are
// allocated from alloc and linked with pointer entries.
//
// An existing leaf at the target slot is replaced. A pointer at the target
// slot, or a leaf above it on the path, is a conflict. Under CheckPPN a
// superpage leaf must have its low PPN bits clear.
func (m *MemorySystem) Map(
	vAddr uint64,
	level int,
	leaf PTE,
	alloc FrameAllocator,
) error {
	if err := m.checkMapTarget(vAddr, level); err != nil {
		return err
	}

	if !leaf.IsValid() || !leaf.IsLeaf() {
		return fmt.Errorf("%w: %s", ErrNotLeaf, leaf)
	}

	if err := m.checkLeafAlignment(level, leaf); err != nil {
		return err
	}

	t, err := m.tableAtLevel(vAddr, level, alloc)
	if err != nil {
		return err
	}

	index := m.mode.VPN(vAddr, level)

	existing, err := t.Entry(index)
	if err != nil {
		return err
	}

	if existing.IsPointer() {
		return fmt.Errorf("%w: table pointer at level %d index %#x",
			ErrMappingConflict, level, index)
	}

	return t.SetEntry(index, leaf)
}

// Unmap invalidates the leaf that maps vAddr, whatever its level.
func (m *MemorySystem) Unmap(vAddr uint64) error {
	if err := m.checkMapTarget(vAddr, 0); err != nil {
		return err
	}

	ppn := m.rootPPN
	for level := m.mode.Levels() - 1; level >= 0; level-- {
		t, err := m.Table(ppn)
		if err != nil {
			return err
		}

		index := m.mode.VPN(vAddr, level)

		pte, err := t.Entry(index)
		if err != nil {
			return err
		}

		switch {
		case !pte.IsValid():
			return fmt.Errorf("%w: %#x", ErrNotMapped, vAddr)
		case pte.IsLeaf():
			return t.SetEntry(index, PTE{})
		}

		ppn = pte.PPN
	}

	return fmt.Errorf("%w: %#x", ErrNotMapped, vAddr)
}

func (m *MemorySystem) checkMapTarget(vAddr uint64, level int) error {
	if err := m.mode.Validate(); err != nil {
		return err
	}

	if level < 0 || level >= m.mode.Levels() {
		return fmt.Errorf("level %d out of range for %s", level, m.mode)
	}

	if !m.mode.IsCanonical(vAddr) {
		return fmt.Errorf("%w: %#x", FaultNonCanonical, vAddr)
	}

	return nil
}

func (m *MemorySystem) checkLeafAlignment(level int, leaf PTE) error {
	if level == 0 || m.superpageCheck != CheckPPN {
		return nil
	}

	mask := uint64(1)<<(uint(level)*m.mode.VPNBits()) - 1
	if leaf.PPN&mask != 0 {
		return fmt.Errorf("%w: ppn %#x at level %d",
			FaultMisalignedSuperpage, leaf.PPN, level)
	}

	return nil
}

// tableAtLevel follows the path of vAddr from the root down to the table of
// the given level, creating missing tables on the way.
func (m *MemorySystem) tableAtLevel(
	vAddr uint64,
	level int,
	alloc FrameAllocator,
) (PageTable, error) {
	t, err := m.RootTable()
	if err != nil {
		return PageTable{}, err
	}

	for l := m.mode.Levels() - 1; l > level; l-- {
		index := m.mode.VPN(vAddr, l)

		pte, err := t.Entry(index)
		if err != nil {
			return PageTable{}, err
		}

		switch {
		case !pte.IsValid():
			pte, err = m.linkNewTable(t, index, alloc)
			if err != nil {
				return PageTable{}, err
			}
		case pte.IsLeaf():
			return PageTable{}, fmt.Errorf(
				"%w: superpage at level %d covers %#x",
				ErrMappingConflict, l, vAddr)
		}

		t, err = m.Table(pte.PPN)
		if err != nil {
			return PageTable{}, err
		}
	}

	return t, nil
}

func (m *MemorySystem) linkNewTable(
	parent PageTable,
	index uint64,
	alloc FrameAllocator,
) (PTE, error) {
	if alloc == nil {
		return PTE{}, ErrNoAllocator
	}

	child, err := AllocateTable(alloc, m)
	if err != nil {
		return PTE{}, err
	}

	pte := PTE{PPN: child.PPN(), Flags: FlagValid}

	err = parent.SetEntry(index, pte)
	if err != nil {
		return PTE{}, err
	}

	return pte, nil
}

// A Mapping is a leaf found in the page tables.
type Mapping struct {
	VAddr uint64
	Level int
	Size  uint64
	PTE   PTE
}

// Mappings lists every valid leaf reachable from the root, ordered by virtual
// address. Sv39 addresses in the upper half are sign-extended.
func (m *MemorySystem) Mappings() ([]Mapping, error) {
	if err := m.mode.Validate(); err != nil {
		return nil, err
	}

	var mappings []Mapping

	err := m.collectMappings(m.rootPPN, m.mode.Levels()-1, 0, &mappings)
	if err != nil {
		return nil, err
	}

	return mappings, nil
}

func (m *MemorySystem) collectMappings(
	ppn uint64,
	level int,
	vAddrPrefix uint64,
	mappings *[]Mapping,
) error {
	t, err := m.Table(ppn)
	if err != nil {
		return err
	}

	entries, err := t.ValidEntries()
	if err != nil {
		return err
	}

	shift := Log2PageSize + uint(level)*m.mode.VPNBits()

	for _, e := range entries {
		vAddr := m.signExtend(vAddrPrefix | e.Index<<shift)

		if e.PTE.IsLeaf() {
			*mappings = append(*mappings, Mapping{
				VAddr: vAddr,
				Level: level,
				Size:  m.mode.LevelPageSize(level),
				PTE:   e.PTE,
			})

			continue
		}

		if level == 0 {
			continue
		}

		err = m.collectMappings(e.PTE.PPN, level-1, vAddr, mappings)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *MemorySystem) signExtend(vAddr uint64) uint64 {
	if m.mode == Sv32 {
		return vAddr
	}

	unused := 64 - m.mode.VABits()

	return uint64(int64(vAddr<<unused) >> unused)
}
