package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sarchlab/pagewalk/mem/physmem"
	"github.com/sarchlab/pagewalk/tracing"
)

// PTEFlags is the flag byte of a page-table entry.
type PTEFlags uint8

// PTE flag bits.
const (
	FlagValid PTEFlags = 1 << iota
	FlagRead
	FlagWrite
	FlagExecute
	FlagUser
	FlagGlobal
	FlagAccessed
	FlagDirty
)

// FlagsRWX is the set of permission bits that make a PTE a leaf.
const FlagsRWX = FlagRead | FlagWrite | FlagExecute

const flagLetters = "VRWXUGAD"

// Has tells if all bits in f2 are set.
func (f PTEFlags) Has(f2 PTEFlags) bool {
	return f&f2 == f2
}

// String renders the flags like "VR-X----".
func (f PTEFlags) String() string {
	return tracing.FormatFlags(uint8(f))
}

// ParseFlags parses flag letters such as "VRX" or "V|R|X". Letters are
// case-insensitive; '-', '|', ',' and spaces are ignored.
func ParseFlags(s string) (PTEFlags, error) {
	var f PTEFlags

	for _, c := range strings.ToUpper(s) {
		switch c {
		case '-', '|', ',', ' ':
			continue
		}

		i := strings.IndexRune(flagLetters, c)
		if i < 0 {
			return 0, fmt.Errorf("unknown PTE flag %q in %q", c, s)
		}

		f |= 1 << i
	}

	return f, nil
}

// MaxPPN is the largest PPN whose page address fits into 64 bits.
const MaxPPN = uint64(1)<<(64-Log2PageSize) - 1

// PTESize is the number of bytes a PTE record takes in physical memory. Both
// modes use the same record: bytes 0-7 hold the PPN in little-endian order,
// byte 8 holds the flags and the rest is reserved.
const PTESize = 16

// ErrPPNOverflow is returned when a PPN does not fit into a physical address.
var ErrPPNOverflow = errors.New("ppn does not fit into a physical address")

// A PTE is a page-table entry.
type PTE struct {
	PPN   uint64
	Flags PTEFlags
}

// IsValid tells if the Valid bit is set.
func (p PTE) IsValid() bool {
	return p.Flags.Has(FlagValid)
}

// IsLeaf tells if any of R, W or X is set, so that the entry maps a page
// instead of pointing to another table.
func (p PTE) IsLeaf() bool {
	return p.Flags&FlagsRWX != 0
}

// IsPointer tells if the entry is valid and points to a next-level table.
func (p PTE) IsPointer() bool {
	return p.IsValid() && !p.IsLeaf()
}

// PageAddr returns the physical address of the page the PPN names.
func (p PTE) PageAddr() (uint64, error) {
	if p.PPN > MaxPPN {
		return 0, fmt.Errorf("%w: %#x", ErrPPNOverflow, p.PPN)
	}

	return p.PPN << Log2PageSize, nil
}

func (p PTE) String() string {
	return fmt.Sprintf("{ppn=%#x flags=%s}", p.PPN, p.Flags)
}

func (p PTE) encode() []byte {
	buf := make([]byte, PTESize)
	binary.LittleEndian.PutUint64(buf[0:8], p.PPN)
	buf[8] = uint8(p.Flags)

	return buf
}

func decodePTE(buf []byte) PTE {
	return PTE{
		PPN:   binary.LittleEndian.Uint64(buf[0:8]),
		Flags: PTEFlags(buf[8]),
	}
}

// ReadPTE reads the PTE record at the given physical address.
func ReadPTE(storage *physmem.Storage, addr uint64) (PTE, error) {
	buf, err := storage.Read(addr, PTESize)
	if err != nil {
		return PTE{}, err
	}

	return decodePTE(buf), nil
}

// WritePTE stores a PTE record at the given physical address. Page tables,
// fixtures and mappings are all written through here, so writes are checked
// against the storage exactly like the reads of a walk.
func WritePTE(storage *physmem.Storage, addr uint64, pte PTE) error {
	if pte.PPN > MaxPPN {
		return fmt.Errorf("%w: %#x", ErrPPNOverflow, pte.PPN)
	}

	return storage.Write(addr, pte.encode())
}
