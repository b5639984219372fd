package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/fgc/hmdd/pkg/dwarf/util"
)

const (
	lineBase   = -5
	lineRange  = 14
	opcodeBase = 13

	dwLNSCopy        = 1
	dwLNSAdvancePC   = 2
	dwLNSAdvanceLine = 3
	dwLNSSetFile     = 4
	dwLNSNegateStmt  = 6
	dwLNEEndSequence = 1
	dwLNESetAddress  = 2

	dwLNCTPath           = 1
	dwLNCTDirectoryIndex = 2
)

var stdOpLengths = []uint8{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

// LineProgram builds a .debug_line unit. Files are numbered from 1 in the
// order they were passed to NewLineProgram, for every DWARF version.
type LineProgram struct {
	Version uint16
	// UseLineStr stores DWARF 5 paths in .debug_line_str instead of
	// inline strings.
	UseLineStr bool

	compDir string
	files   []string
	ops     bytes.Buffer

	addr uint64
	line int
}

// NewLineProgram returns a line-number program of the given version whose
// file table is files, relative to compDir unless absolute.
func NewLineProgram(version uint16, compDir string, files ...string) *LineProgram {
	return &LineProgram{Version: version, compDir: compDir, files: files, line: 1}
}

// SetAddress emits DW_LNE_set_address.
func (lp *LineProgram) SetAddress(addr uint64) {
	lp.ops.WriteByte(0)
	util.EncodeULEB128(&lp.ops, 9)
	lp.ops.WriteByte(dwLNESetAddress)
	binary.Write(&lp.ops, binary.LittleEndian, addr)
	lp.addr = addr
}

// AdvanceLine emits DW_LNS_advance_line.
func (lp *LineProgram) AdvanceLine(delta int) {
	lp.ops.WriteByte(dwLNSAdvanceLine)
	util.EncodeSLEB128(&lp.ops, int64(delta))
	lp.line += delta
}

// AdvancePC emits DW_LNS_advance_pc.
func (lp *LineProgram) AdvancePC(delta uint64) {
	lp.ops.WriteByte(dwLNSAdvancePC)
	util.EncodeULEB128(&lp.ops, delta)
	lp.addr += delta
}

// SetFile emits DW_LNS_set_file for the i-th file (1 based).
func (lp *LineProgram) SetFile(i int) {
	lp.ops.WriteByte(dwLNSSetFile)
	util.EncodeULEB128(&lp.ops, uint64(i))
}

// NegateStmt emits DW_LNS_negate_stmt.
func (lp *LineProgram) NegateStmt() {
	lp.ops.WriteByte(dwLNSNegateStmt)
}

// Copy emits DW_LNS_copy, appending a row.
func (lp *LineProgram) Copy() {
	lp.ops.WriteByte(dwLNSCopy)
}

// EndSequence emits DW_LNE_end_sequence at the current address plus
// delta and resets the tracked registers.
func (lp *LineProgram) EndSequence(delta uint64) {
	if delta > 0 {
		lp.AdvancePC(delta)
	}
	lp.ops.WriteByte(0)
	util.EncodeULEB128(&lp.ops, 1)
	lp.ops.WriteByte(dwLNEEndSequence)
	lp.addr = 0
	lp.line = 1
}

// Row appends a row for line at addr, using a special opcode when the
// deltas fit in one.
func (lp *LineProgram) Row(addr uint64, line int) {
	if addr < lp.addr {
		lp.SetAddress(addr)
	}
	addrDelta := addr - lp.addr
	lineDelta := line - lp.line
	if lineDelta >= lineBase && lineDelta < lineBase+lineRange {
		op := uint64(lineDelta-lineBase) + lineRange*addrDelta + opcodeBase
		if op <= 255 {
			lp.ops.WriteByte(byte(op))
			lp.addr, lp.line = addr, line
			return
		}
	}
	if lineDelta != 0 {
		lp.AdvanceLine(lineDelta)
	}
	if addrDelta != 0 {
		lp.AdvancePC(addrDelta)
	}
	lp.Copy()
}

// Bytes returns the encoded unit and, for DWARF 5 programs using
// UseLineStr, the contents of .debug_line_str.
func (lp *LineProgram) Bytes() (line, lineStr []byte) {
	var (
		hdr  bytes.Buffer
		strs bytes.Buffer
		out  bytes.Buffer
	)

	hdr.WriteByte(1) // minimum_instruction_length
	if lp.Version >= 4 {
		hdr.WriteByte(1) // maximum_operations_per_instruction
	}
	hdr.WriteByte(1) // default_is_stmt
	hdr.WriteByte(byte(lineBase & 0xff))
	hdr.WriteByte(lineRange)
	hdr.WriteByte(opcodeBase)
	hdr.Write(stdOpLengths)

	if lp.Version >= 5 {
		pathForm := DW_FORM_string
		if lp.UseLineStr {
			pathForm = DW_FORM_line_strp
		}
		writePath := func(s string) {
			if lp.UseLineStr {
				binary.Write(&hdr, binary.LittleEndian, uint32(strs.Len()))
				strs.WriteString(s)
				strs.WriteByte(0)
				return
			}
			hdr.WriteString(s)
			hdr.WriteByte(0)
		}

		hdr.WriteByte(1) // directory_entry_format_count
		util.EncodeULEB128(&hdr, dwLNCTPath)
		util.EncodeULEB128(&hdr, uint64(pathForm))
		util.EncodeULEB128(&hdr, 1) // directories_count
		writePath(lp.compDir)

		hdr.WriteByte(2) // file_name_entry_format_count
		util.EncodeULEB128(&hdr, dwLNCTPath)
		util.EncodeULEB128(&hdr, uint64(pathForm))
		util.EncodeULEB128(&hdr, dwLNCTDirectoryIndex)
		util.EncodeULEB128(&hdr, uint64(DW_FORM_udata))
		// file 0 is the primary source file, repeated so that the indexes
		// of the remaining files match DWARF 4.
		files := lp.files
		if len(files) > 0 {
			files = append([]string{files[0]}, files...)
		}
		util.EncodeULEB128(&hdr, uint64(len(files)))
		for _, f := range files {
			writePath(f)
			util.EncodeULEB128(&hdr, 0)
		}
	} else {
		hdr.WriteByte(0) // no include_directories, directory 0 is comp_dir
		for _, f := range lp.files {
			hdr.WriteString(f)
			hdr.WriteByte(0)
			util.EncodeULEB128(&hdr, 0) // directory index
			util.EncodeULEB128(&hdr, 0) // modification time
			util.EncodeULEB128(&hdr, 0) // length
		}
		hdr.WriteByte(0)
	}

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, lp.Version)
	if lp.Version >= 5 {
		unit.WriteByte(8) // address_size
		unit.WriteByte(0) // segment_selector_size
	}
	binary.Write(&unit, binary.LittleEndian, uint32(hdr.Len()))
	unit.Write(hdr.Bytes())
	unit.Write(lp.ops.Bytes())

	binary.Write(&out, binary.LittleEndian, uint32(unit.Len()))
	out.Write(unit.Bytes())
	return out.Bytes(), strs.Bytes()
}
