package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Log2PageSize is the log2 of the base page size shared by all modes.
const Log2PageSize = 12

// PageSize is the base page size in bytes.
const PageSize = 1 << Log2PageSize

// Mode selects the virtual addressing scheme.
type Mode uint8

// Addressing modes. The values follow the numbering used by the memory-system
// setup code: Sv48 is reserved and cannot be translated.
const (
	Sv32 Mode = 1
	Sv39 Mode = 2
	Sv48 Mode = 3
)

// ErrUnsupportedMode is returned when a mode has no walker.
var ErrUnsupportedMode = errors.New("unsupported addressing mode")

func (m Mode) String() string {
	switch m {
	case Sv32:
		return "sv32"
	case Sv39:
		return "sv39"
	case Sv48:
		return "sv48"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode parses a mode name such as "sv39" (case-insensitive). Only modes
// that can be translated are accepted.
func ParseMode(s string) (Mode, error) {
	var m Mode

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sv32":
		m = Sv32
	case "sv39":
		m = Sv39
	case "sv48":
		m = Sv48
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}

	if err := m.Validate(); err != nil {
		return 0, err
	}

	return m, nil
}

// Supported tells if the mode can be translated.
func (m Mode) Supported() bool {
	return m == Sv32 || m == Sv39
}

// Validate returns ErrUnsupportedMode if the mode cannot be translated.
func (m Mode) Validate() error {
	if !m.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, m)
	}

	return nil
}

// Levels returns the number of page-table levels. Level Levels()-1 is the
// root, level 0 holds base pages.
func (m Mode) Levels() int {
	switch m {
	case Sv32:
		return 2
	case Sv39:
		return 3
	case Sv48:
		return 4
	default:
		return 0
	}
}

// VPNBits returns the width of each per-level index.
func (m Mode) VPNBits() uint {
	if m == Sv32 {
		return 10
	}

	return 9
}

// EntriesPerTable returns the number of PTEs in every page table.
func (m Mode) EntriesPerTable() int {
	return 1 << m.VPNBits()
}

// VABits returns the number of significant virtual address bits.
func (m Mode) VABits() uint {
	return Log2PageSize + uint(m.Levels())*m.VPNBits()
}

// VPN extracts the index into the page table of the given level.
func (m Mode) VPN(vAddr uint64, level int) uint64 {
	shift := Log2PageSize + uint(level)*m.VPNBits()
	mask := uint64(1)<<m.VPNBits() - 1

	return (vAddr >> shift) & mask
}

// PageOffset extracts the offset inside the base page.
func PageOffset(vAddr uint64) uint64 {
	return vAddr & (PageSize - 1)
}

// IsCanonical tells if the upper unused bits of the address are copies of the
// most significant used bit. Sv32 addresses are always canonical.
func (m Mode) IsCanonical(vAddr uint64) bool {
	if m == Sv32 {
		return true
	}

	top := int64(vAddr) >> (m.VABits() - 1)

	return top == 0 || top == -1
}

// LevelPageSize returns the size of the region a leaf at the given level
// maps.
func (m Mode) LevelPageSize(level int) uint64 {
	return uint64(1) << (Log2PageSize + uint(level)*m.VPNBits())
}
