// Package elfwriter writes minimal ELF executables made of a file header
// and a list of sections, enough for debug/elf and debug/dwarf to read
// debug information back. Program headers are not written.
package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"io"
)

const (
	ehsize    = 64
	shentsize = 64
)

// Section describes a section written with WriteSection.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Off   uint64
	Size  uint64
	Align uint64
}

// Writer writes ELF files.
type Writer struct {
	w        io.WriteSeeker
	Err      error
	Sections []*Section

	seekSectionHeader int64
	seekSectionNum    int64
}

// New creates a new Writer and writes the file header of fhdr. Only
// little endian 64bit files are supported.
func New(w io.WriteSeeker, fhdr *elf.FileHeader) *Writer {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		panic("can't write halfway through a file")
	}
	if fhdr.Class != elf.ELFCLASS64 || fhdr.Data != elf.ELFDATA2LSB {
		panic("unsupported")
	}

	r := &Writer{w: w}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(elf.EV_CURRENT), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))      // e_type
	r.u16(uint16(fhdr.Machine))   // e_machine
	r.u32(uint32(elf.EV_CURRENT)) // e_version
	r.u64(fhdr.Entry)             // e_entry
	r.u64(0)                      // e_phoff
	r.seekSectionHeader = r.Here()
	r.u64(0)         // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(0)         // e_phentsize
	r.u16(0)         // e_phnum
	r.u16(shentsize) // e_shentsize
	r.seekSectionNum = r.Here()
	r.u16(0) // e_shnum
	r.u16(0) // e_shstrndx

	if sz := r.Here(); sz != ehsize && r.Err == nil {
		panic("internal error, ELF header size")
	}

	// section 0 is always the null section
	r.Sections = append(r.Sections, &Section{Type: elf.SHT_NULL})
	return r
}

// WriteSection writes data at the current location and records a section
// header for it.
func (w *Writer) WriteSection(name string, typ elf.SectionType, flags elf.SectionFlag, addr uint64, data []byte) *Section {
	w.Align(8)
	s := &Section{Name: name, Type: typ, Flags: flags, Addr: addr, Off: uint64(w.Here()), Size: uint64(len(data)), Align: 1}
	w.Write(data)
	w.Sections = append(w.Sections, s)
	return s
}

// WriteSectionHeaders writes the section name table and the section header
// table, then patches the file header to point at them. No section can be
// added afterwards.
func (w *Writer) WriteSectionHeaders() {
	var (
		names   = []byte{0}
		nameOff = make([]uint32, len(w.Sections)+1)
	)
	for i, s := range w.Sections {
		if i == 0 {
			continue
		}
		nameOff[i] = uint32(len(names))
		names = append(append(names, s.Name...), 0)
	}
	nameOff[len(w.Sections)] = uint32(len(names))
	names = append(append(names, ".shstrtab"...), 0)
	shstrndx := len(w.Sections)
	w.WriteSection(".shstrtab", elf.SHT_STRTAB, 0, 0, names)

	w.Align(8)
	shoff := w.Here()
	for i, s := range w.Sections {
		w.u32(nameOff[i])
		w.u32(uint32(s.Type))
		w.u64(uint64(s.Flags))
		w.u64(s.Addr)
		w.u64(s.Off)
		w.u64(s.Size)
		w.u32(0) // sh_link
		w.u32(0) // sh_info
		w.u64(s.Align)
		w.u64(0) // sh_entsize
	}
	end := w.Here()

	w.seek(w.seekSectionHeader)
	w.u64(uint64(shoff))
	w.seek(w.seekSectionNum)
	w.u16(uint16(len(w.Sections)))
	w.u16(uint16(shstrndx))
	w.seek(end)
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

func (w *Writer) seek(off int64) {
	if _, err := w.w.Seek(off, io.SeekStart); err != nil && w.Err == nil {
		w.Err = err
	}
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
