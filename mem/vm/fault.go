package vm

import (
	"fmt"
)

// FaultKind tells why a translation failed. A FaultKind is also an error, so
// errors.Is(err, vm.FaultInvalid) matches any fault of that kind.
type FaultKind uint8

// The fault kinds. Every failed translation reports exactly one of them.
const (
	// FaultInvalid means a PTE on the path has its Valid bit unset.
	FaultInvalid FaultKind = iota + 1

	// FaultIndexOutOfRange means an index is not below the table length.
	FaultIndexOutOfRange

	// FaultOutOfBounds means a table or PTE address lies outside physical
	// memory.
	FaultOutOfBounds

	// FaultMisalignedSuperpage means a leaf above level 0 is not aligned to
	// the size of the region it maps.
	FaultMisalignedSuperpage

	// FaultNonCanonical means the upper address bits are not a sign
	// extension of the highest translated bit.
	FaultNonCanonical

	// FaultMalformedTable means the walk ran out of levels without reaching a
	// leaf.
	FaultMalformedTable
)

var faultKindNames = map[FaultKind]string{
	FaultInvalid:             "Invalid",
	FaultIndexOutOfRange:     "IndexOutOfRange",
	FaultOutOfBounds:         "OutOfBounds",
	FaultMisalignedSuperpage: "MisalignedSuperpage",
	FaultNonCanonical:        "NonCanonical",
	FaultMalformedTable:      "MalformedTable",
}

func (k FaultKind) String() string {
	name, ok := faultKindNames[k]
	if !ok {
		return fmt.Sprintf("FaultKind(%d)", uint8(k))
	}

	return name
}

func (k FaultKind) Error() string {
	return k.String()
}

// IsPageFault tells if the fault is raised by a PTE on the walk path, as
// opposed to the address itself or to the physical memory bounds.
func (k FaultKind) IsPageFault() bool {
	switch k {
	case FaultInvalid, FaultIndexOutOfRange, FaultMisalignedSuperpage,
		FaultMalformedTable:
		return true
	default:
		return false
	}
}

// NoLevel is the level of faults that happen before the walk touches any
// table.
const NoLevel = -1

// A Fault is the error a failed translation returns.
type Fault struct {
	Kind  FaultKind
	Mode  Mode
	Level int
	VAddr uint64

	// PAddr is the offending physical address for OutOfBounds faults and
	// the address of the faulting PTE for page faults.
	PAddr uint64

	// Err is the underlying cause, if any.
	Err error
}

func (f *Fault) Error() string {
	s := fmt.Sprintf("%s translation of %#x failed: %s", f.Mode, f.VAddr, f.Kind)

	if f.Level != NoLevel {
		s += fmt.Sprintf(" at level %d", f.Level)
	}

	if f.Err != nil {
		s += ": " + f.Err.Error()
	}

	return s
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (f *Fault) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}

	return []error{f.Kind, f.Err}
}
