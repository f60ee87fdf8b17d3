package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/pagewalk/mem/vm"
)

// Hex is an unsigned number that reads from either a JSON number or a string
// such as "0x40000000", and is written back as a hex string.
type Hex uint64

// UnmarshalJSON accepts numbers and numeric strings in any base ParseUint
// understands.
func (h *Hex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	s := string(data)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}

	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}

	*h = Hex(v)

	return nil
}

// MarshalJSON writes the number as a hex string.
func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%#x", uint64(h)))
}

// A MappingSpec installs a leaf for VA at Level, creating tables as needed.
type MappingSpec struct {
	VA    Hex    `json:"va"`
	Level int    `json:"level"`
	PPN   Hex    `json:"ppn"`
	Flags string `json:"flags"`
}

// An EntrySpec writes one raw PTE into the table at TablePPN. It can express
// tables a MappingSpec refuses to build, such as pointers at level 0.
type EntrySpec struct {
	TablePPN Hex    `json:"table_ppn"`
	Index    Hex    `json:"index"`
	PPN      Hex    `json:"ppn"`
	Flags    string `json:"flags"`
}

// A Fixture describes the content of the page tables of a memory system.
// Mode, RootPPN and SuperpageCheck override the Config when set. AllocPPN is
// the first frame new tables may take; it defaults to the frame after the root
// table. Probes are addresses worth translating.
type Fixture struct {
	Name           string        `json:"name,omitempty"`
	Mode           string        `json:"mode,omitempty"`
	RootPPN        *Hex          `json:"root_ppn,omitempty"`
	SuperpageCheck string        `json:"superpage_check,omitempty"`
	AllocPPN       *Hex          `json:"alloc_ppn,omitempty"`
	Mappings       []MappingSpec `json:"mappings,omitempty"`
	Entries        []EntrySpec   `json:"entries,omitempty"`
	Probes         []Hex         `json:"probes,omitempty"`
}

// ParseFixture decodes a fixture. Unknown fields are errors.
func ParseFixture(r io.Reader) (*Fixture, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	f := &Fixture{}
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}

	return f, nil
}

// LoadFixture reads a fixture file. The names of the built-in fixtures are
// also accepted.
func LoadFixture(path string) (*Fixture, error) {
	if f, ok := BuiltinFixture(path); ok {
		return f, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := ParseFixture(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if f.Name == "" {
		f.Name = path
	}

	return f, nil
}

// BuiltinFixture returns one of the fixtures that come with the tools:
// "sv32" and "sv39".
func BuiltinFixture(name string) (*Fixture, bool) {
	root := Hex(1)

	switch strings.ToLower(name) {
	case "sv32":
		return &Fixture{
			Name:    "sv32",
			Mode:    "sv32",
			RootPPN: &root,
			Entries: []EntrySpec{
				{TablePPN: 1, Index: 0x100, PPN: 0x10000, Flags: "VR"},
			},
			Probes: []Hex{0x40000000, 0x40400000},
		}, true
	case "sv39":
		return &Fixture{
			Name:           "sv39",
			Mode:           "sv39",
			RootPPN:        &root,
			SuperpageCheck: "ppn",
			Mappings: []MappingSpec{
				{VA: 0x80004000, Level: 1, PPN: 0x30000, Flags: "VRX"},
			},
			Probes: []Hex{0x80004000},
		}, true
	default:
		return nil, false
	}
}

// Apply merges the overrides of the fixture into c.
func (f *Fixture) Apply(c Config) (Config, error) {
	if f.Mode != "" {
		m, err := vm.ParseMode(f.Mode)
		if err != nil {
			return c, err
		}

		c.Mode = m
	}

	if f.RootPPN != nil {
		c.RootPPN = uint64(*f.RootPPN)
	}

	if f.SuperpageCheck != "" {
		check, err := vm.ParseSuperpageCheck(f.SuperpageCheck)
		if err != nil {
			return c, err
		}

		c.SuperpageCheck = check
	}

	return c, nil
}
