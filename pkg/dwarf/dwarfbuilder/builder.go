// Package dwarfbuilder provides a way to build DWARF sections with
// arbitrary contents.
package dwarfbuilder

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fgc/hmdd/pkg/elfwriter"
)

// Builder dwarf builder
type Builder struct {
	info     bytes.Buffer
	abbrevs  []tagDescr
	tagStack []*tagState
	version  uint16
	prog     *LineProgram
}

// Sections are the DWARF sections produced by a Builder.
type Sections struct {
	Abbrev  []byte
	Info    []byte
	Line    []byte
	LineStr []byte
}

// New creates a new DWARF builder with a single compile unit called name,
// compiled in compDir, whose line-number program is prog. The compile unit
// is left open so that children can be added before Build.
func New(name, compDir string, prog *LineProgram) *Builder {
	b := &Builder{version: 4, prog: prog}
	if prog != nil && prog.Version >= 5 {
		b.version = 5
	}

	b.info.Write([]byte{0x0, 0x0, 0x0, 0x0}) // length
	binary.Write(&b.info, binary.LittleEndian, b.version)
	if b.version >= 5 {
		b.info.Write([]byte{
			0x1,                // unit_type = DW_UT_compile
			0x8,                // address_size
			0x0, 0x0, 0x0, 0x0, // debug_abbrev_offset
		})
	} else {
		b.info.Write([]byte{
			0x0, 0x0, 0x0, 0x0, // debug_abbrev_offset
			0x8, // address_size
		})
	}

	b.TagOpen(dwarf.TagCompileUnit, name)
	b.Attr(dwarf.AttrLanguage, uint8(0x1d)) // DW_LANG_C11
	b.Attr(dwarf.AttrCompDir, compDir)
	if prog != nil {
		b.Attr(dwarf.AttrStmtList, SecOffset(0))
	}

	return b
}

// Build closes b and returns all the dwarf sections.
func (b *Builder) Build() (*Sections, error) {
	b.TagClose()

	if len(b.tagStack) > 0 {
		return nil, fmt.Errorf("unbalanced TagOpen/TagClose %d", len(b.tagStack))
	}

	s := &Sections{Abbrev: b.makeAbbrevTable()}
	s.Info = b.info.Bytes()
	binary.LittleEndian.PutUint32(s.Info, uint32(len(s.Info)-4))
	if b.prog != nil {
		s.Line, s.LineStr = b.prog.Bytes()
	}
	return s, nil
}

// Data returns the sections parsed by debug/dwarf.
func (s *Sections) Data() (*dwarf.Data, error) {
	d, err := dwarf.New(s.Abbrev, nil, nil, s.Info, s.Line, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(s.LineStr) > 0 {
		if err := d.AddSection(".debug_line_str", s.LineStr); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// WriteELF writes an ELF executable containing the sections plus a .text
// section of textSize zero bytes mapped at entry.
func (s *Sections) WriteELF(w io.WriteSeeker, machine elf.Machine, typ elf.Type, entry uint64, textSize int) error {
	ew := elfwriter.New(w, &elf.FileHeader{
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Type:    typ,
		Machine: machine,
		Entry:   entry,
	})
	ew.WriteSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, entry, make([]byte, textSize))
	ew.WriteSection(".debug_abbrev", elf.SHT_PROGBITS, 0, 0, s.Abbrev)
	ew.WriteSection(".debug_info", elf.SHT_PROGBITS, 0, 0, s.Info)
	if s.Line != nil {
		ew.WriteSection(".debug_line", elf.SHT_PROGBITS, 0, 0, s.Line)
	}
	if len(s.LineStr) > 0 {
		ew.WriteSection(".debug_line_str", elf.SHT_PROGBITS, elf.SHF_MERGE|elf.SHF_STRINGS, 0, s.LineStr)
	}
	ew.WriteSectionHeaders()
	return ew.Err
}
