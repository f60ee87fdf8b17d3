package vm

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sarchlab/pagewalk/mem/physmem"
	"github.com/sarchlab/pagewalk/tracing"
)

// SuperpageCheck selects how a leaf above level 0 is validated and how its
// physical address is formed.
type SuperpageCheck uint8

const (
	// CheckVPN requires the VPN fields below the leaf level to be zero. The
	// physical address is the leaf PPN shifted by the page size, OR'd with
	// the page offset.
	CheckVPN SuperpageCheck = iota

	// CheckPPN requires the PPN bits that correspond to the VPN fields below
	// the leaf level to be zero, as the privileged architecture does. Those
	// VPN fields are then carried over into the physical address.
	CheckPPN
)

func (c SuperpageCheck) String() string {
	if c == CheckPPN {
		return "ppn"
	}

	return "vpn"
}

// ParseSuperpageCheck parses "vpn" or "ppn".
func ParseSuperpageCheck(s string) (SuperpageCheck, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vpn":
		return CheckVPN, nil
	case "ppn":
		return CheckPPN, nil
	default:
		return 0, fmt.Errorf("unknown superpage check %q", s)
	}
}

// Translate walks the page tables of the given mode rooted at rootPPN and
// returns the physical address of vAddr. Superpages are checked with
// CheckVPN.
//
// A failed translation returns a *Fault. The events of the walk are appended
// to sink after resetting it; a nil sink records nothing. The walk reads the
// storage only and never holds state between calls.
func Translate(
	storage *physmem.Storage,
	mode Mode,
	rootPPN uint64,
	vAddr uint64,
	sink tracing.Sink,
) (uint64, error) {
	w := walker{
		storage: storage,
		mode:    mode,
		check:   CheckVPN,
		rootPPN: rootPPN,
		vAddr:   vAddr,
		sink:    sink,
	}

	return w.run()
}

var errPointerAtLevel0 = errors.New("pointer entry at level 0")

type walker struct {
	storage *physmem.Storage
	mode    Mode
	check   SuperpageCheck
	rootPPN uint64
	vAddr   uint64
	sink    tracing.Sink

	vpn     [4]uint64
	pteAddr [4]uint64
	offset  uint64
}

func (w *walker) run() (uint64, error) {
	if w.sink == nil {
		w.sink = tracing.Discard
	}

	w.sink.Reset()

	switch w.mode {
	case Sv32:
		return w.walkSv32()
	case Sv39:
		return w.walkSv39()
	default:
		return 0, w.mode.Validate()
	}
}

// walkSv32 walks the two-level Sv32 table. The virtual address is the low 32
// bits of the input. A valid entry at level 0 ends the walk whether or not it
// has permission bits.
func (w *walker) walkSv32() (uint64, error) {
	w.vAddr &= math.MaxUint32

	w.start()
	w.decode()

	root, err := w.table(1, w.rootPPN)
	if err != nil {
		return 0, err
	}

	pte1, err := w.fetch(root, 1)
	if err != nil {
		return 0, err
	}

	if !pte1.IsValid() {
		return 0, w.fault(FaultInvalid, 1, w.pteAddr[1], nil)
	}

	if pte1.IsLeaf() {
		return w.leaf(1, pte1, tracing.DecisionLeaf)
	}

	w.decide(1, tracing.DecisionDescend)

	level0, err := w.table(0, pte1.PPN)
	if err != nil {
		return 0, err
	}

	pte0, err := w.fetch(level0, 0)
	if err != nil {
		return 0, err
	}

	if !pte0.IsValid() {
		return 0, w.fault(FaultInvalid, 0, w.pteAddr[0], nil)
	}

	if pte0.IsLeaf() {
		return w.leaf(0, pte0, tracing.DecisionLeaf)
	}

	return w.leaf(0, pte0, tracing.DecisionTerminal)
}

// walkSv39 walks the three-level Sv39 table. Non-canonical addresses fail
// before any table is read.
func (w *walker) walkSv39() (uint64, error) {
	w.start()

	if !w.mode.IsCanonical(w.vAddr) {
		return 0, w.fault(FaultNonCanonical, NoLevel, 0, nil)
	}

	w.decode()

	ppn := w.rootPPN
	for level := w.mode.Levels() - 1; level >= 0; level-- {
		t, err := w.table(level, ppn)
		if err != nil {
			return 0, err
		}

		pte, err := w.fetch(t, level)
		if err != nil {
			return 0, err
		}

		if !pte.IsValid() {
			return 0, w.fault(FaultInvalid, level, w.pteAddr[level], nil)
		}

		if pte.IsLeaf() {
			return w.leaf(level, pte, tracing.DecisionLeaf)
		}

		if level == 0 {
			break
		}

		w.decide(level, tracing.DecisionDescend)
		ppn = pte.PPN
	}

	return 0, w.fault(FaultMalformedTable, 0, w.pteAddr[0],
		errPointerAtLevel0)
}

func (w *walker) emit(e tracing.Event) {
	w.sink.Append(e)
}

func (w *walker) start() {
	w.offset = PageOffset(w.vAddr)

	rootBase, _ := PTE{PPN: w.rootPPN}.PageAddr()

	w.emit(tracing.Event{
		Kind:   tracing.EventWalkStart,
		Mode:   w.mode.String(),
		Level:  w.mode.Levels() - 1,
		VAddr:  w.vAddr,
		Offset: w.offset,
		PAddr:  rootBase,
		PPN:    w.rootPPN,
	})
}

func (w *walker) decode() {
	for level := w.mode.Levels() - 1; level >= 0; level-- {
		w.vpn[level] = w.mode.VPN(w.vAddr, level)

		w.emit(tracing.Event{
			Kind:  tracing.EventDecode,
			Level: level,
			Index: w.vpn[level],
		})
	}
}

func (w *walker) decide(level int, d tracing.Decision) {
	w.emit(tracing.Event{
		Kind:     tracing.EventDecision,
		Level:    level,
		Decision: d,
	})
}

func (w *walker) fault(
	kind FaultKind,
	level int,
	pAddr uint64,
	cause error,
) *Fault {
	w.emit(tracing.Event{
		Kind:     tracing.EventFault,
		Level:    level,
		VAddr:    w.vAddr,
		PAddr:    pAddr,
		Decision: tracing.DecisionFault,
		Fault:    kind.String(),
	})

	return &Fault{
		Kind:  kind,
		Mode:  w.mode,
		Level: level,
		VAddr: w.vAddr,
		PAddr: pAddr,
		Err:   cause,
	}
}

// table resolves the page table of the given level that starts at ppn.
func (w *walker) table(level int, ppn uint64) (PageTable, error) {
	t, err := TableAt(w.storage, ppn, w.mode.EntriesPerTable())
	if err != nil {
		base, _ := PTE{PPN: ppn}.PageAddr()
		return PageTable{}, w.fault(FaultOutOfBounds, level, base, err)
	}

	w.emit(tracing.Event{
		Kind:  tracing.EventTableBase,
		Level: level,
		PPN:   ppn,
		PAddr: t.Base(),
	})

	return t, nil
}

// fetch reads the entry the VPN of the given level selects.
func (w *walker) fetch(t PageTable, level int) (PTE, error) {
	index := w.vpn[level]

	addr, err := t.EntryAddr(index)
	if err != nil {
		return PTE{}, w.fault(FaultIndexOutOfRange, level, t.Base(), err)
	}

	pte, err := ReadPTE(w.storage, addr)
	if err != nil {
		return PTE{}, w.fault(FaultOutOfBounds, level, addr, err)
	}

	w.pteAddr[level] = addr

	w.emit(tracing.Event{
		Kind:  tracing.EventPTEFetch,
		Level: level,
		Index: index,
		PAddr: addr,
		PPN:   pte.PPN,
		Flags: uint8(pte.Flags),
	})

	return pte, nil
}

// leaf finishes the walk at a PTE that maps memory.
func (w *walker) leaf(
	level int,
	pte PTE,
	d tracing.Decision,
) (uint64, error) {
	w.decide(level, d)

	pageNum := pte.PPN

	if level > 0 {
		aligned := true

		switch w.check {
		case CheckPPN:
			mask := uint64(1)<<(uint(level)*w.mode.VPNBits()) - 1
			aligned = pte.PPN&mask == 0
			pageNum |= (w.vAddr >> Log2PageSize) & mask
		default:
			for l := 0; l < level; l++ {
				if w.vpn[l] != 0 {
					aligned = false
				}
			}
		}

		if !aligned {
			return 0, w.fault(FaultMisalignedSuperpage, level,
				w.pteAddr[level], nil)
		}
	}

	pageAddr, err := PTE{PPN: pageNum}.PageAddr()
	if err != nil {
		return 0, w.fault(FaultOutOfBounds, level, w.pteAddr[level], err)
	}

	pAddr := pageAddr | w.offset

	w.emit(tracing.Event{
		Kind:  tracing.EventResult,
		Level: level,
		VAddr: w.vAddr,
		PPN:   pageNum,
		PAddr: pAddr,
	})

	return pAddr, nil
}
