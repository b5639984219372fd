package line

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/fgc/hmdd/pkg/dwarf/util"
)

// DebugLinePrologue is the header of a line-number program.
type DebugLinePrologue struct {
	UnitLength     uint64
	Dwarf64        bool
	Version        uint16
	AddrSize       uint8
	SegSelSize     uint8
	HeaderLength   uint64
	MinInstrLength uint8
	MaxOpPerInstr  uint8
	InitialIsStmt  bool
	LineBase       int8
	LineRange      uint8
	OpcodeBase     uint8
	StdOpLengths   []uint8
}

// DebugLineInfo is a decoded line-number program header plus the raw
// opcodes of the program.
type DebugLineInfo struct {
	Prologue     *DebugLinePrologue
	IncludeDirs  []string
	FileNames    []*FileEntry
	Instructions []byte

	Logf func(string, ...interface{})

	order      binary.ByteOrder
	sections   Sections
	staticBase uint64
	ptrSize    int
}

// FileEntry is an entry of the file name table.
type FileEntry struct {
	Path        string
	DirIdx      uint64
	LastModTime uint64
	Length      uint64
}

// Sections holds the string sections a DWARF 5 line table may reference.
type Sections struct {
	LineStr []byte
	Str     []byte
}

// Options controls how a line-number program is read.
type Options struct {
	// CompDir is the DW_AT_comp_dir attribute of the compile unit, used as
	// directory 0 by DWARF 2 through 4.
	CompDir string
	// StaticBase is added to every address, 0 for non-PIE executables.
	StaticBase uint64
	// PtrSize is the size of a target address when the header does not say.
	PtrSize int
	Order   binary.ByteOrder
	Logf    func(string, ...interface{})
}

var ErrUnsupportedVersion = errors.New("unsupported line table version")

// Parse decodes the line-number program that starts at the beginning of
// data, normally the .debug_line section sliced at a DW_AT_stmt_list offset.
func Parse(data []byte, sections Sections, opts Options) (*DebugLineInfo, error) {
	dbl := &DebugLineInfo{
		Logf:       opts.Logf,
		order:      opts.Order,
		sections:   sections,
		staticBase: opts.StaticBase,
		ptrSize:    opts.PtrSize,
	}
	if dbl.Logf == nil {
		dbl.Logf = func(string, ...interface{}) {}
	}
	if dbl.order == nil {
		dbl.order = binary.LittleEndian
	}
	if dbl.ptrSize == 0 {
		dbl.ptrSize = 8
	}

	rdr := util.NewReader(".debug_line", dbl.order, data)
	p := new(DebugLinePrologue)
	dbl.Prologue = p

	p.UnitLength = uint64(rdr.Uint32())
	if p.UnitLength == 0xffffffff {
		p.Dwarf64 = true
		p.UnitLength = rdr.Uint64()
	} else if p.UnitLength >= 0xfffffff0 {
		return nil, fmt.Errorf("reserved unit length %#x", p.UnitLength)
	}
	if rdr.Err() != nil {
		return nil, rdr.Err()
	}
	if p.UnitLength > uint64(rdr.Len()) {
		return nil, fmt.Errorf("unit length %#x exceeds section size %#x: %w", p.UnitLength, rdr.Len(), util.ErrBufferUnderflow)
	}
	unit := rdr.Sub(".debug_line unit", int(p.UnitLength))

	p.Version = unit.Uint16()
	if unit.Err() == nil && (p.Version < 2 || p.Version > 5) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if p.Version >= 5 {
		p.AddrSize = unit.Uint8()
		p.SegSelSize = unit.Uint8()
		if p.AddrSize != 0 {
			dbl.ptrSize = int(p.AddrSize)
		}
	}
	if p.Dwarf64 {
		p.HeaderLength = unit.Uint64()
	} else {
		p.HeaderLength = uint64(unit.Uint32())
	}
	if unit.Err() != nil {
		return nil, unit.Err()
	}
	if p.HeaderLength > uint64(unit.Len()) {
		return nil, fmt.Errorf("header length %#x exceeds unit: %w", p.HeaderLength, util.ErrBufferUnderflow)
	}
	programStart := unit.Off() + int(p.HeaderLength)

	p.MinInstrLength = unit.Uint8()
	p.MaxOpPerInstr = 1
	if p.Version >= 4 {
		p.MaxOpPerInstr = unit.Uint8()
	}
	p.InitialIsStmt = unit.Uint8() != 0
	p.LineBase = int8(unit.Uint8())
	p.LineRange = unit.Uint8()
	p.OpcodeBase = unit.Uint8()
	if unit.Err() == nil && p.LineRange == 0 {
		return nil, errors.New("line range is zero")
	}
	if unit.Err() == nil && p.OpcodeBase == 0 {
		return nil, errors.New("opcode base is zero")
	}
	if p.OpcodeBase > 0 {
		p.StdOpLengths = append([]uint8(nil), unit.Bytes(int(p.OpcodeBase)-1)...)
	}

	if p.Version >= 5 {
		if err := parseIncludeDirs5(dbl, unit); err != nil {
			return nil, err
		}
		if err := parseFileEntries5(dbl, unit); err != nil {
			return nil, err
		}
	} else {
		dbl.IncludeDirs = append(dbl.IncludeDirs, opts.CompDir)
		parseIncludeDirs2(dbl, unit)
		parseFileEntries2(dbl, unit)
	}
	if unit.Err() != nil {
		return nil, unit.Err()
	}

	if programStart < unit.Off() {
		return nil, fmt.Errorf("line table header overruns its declared length (%#x < %#x)", programStart, unit.Off())
	}
	unit.Skip(programStart - unit.Off())
	dbl.Instructions = unit.Bytes(unit.Len())
	return dbl, unit.Err()
}

// parseIncludeDirs2 parses the directory table for DWARF version 2 through 4.
func parseIncludeDirs2(info *DebugLineInfo, rdr *util.Reader) {
	for rdr.Err() == nil {
		str := rdr.CString()
		if str == "" {
			return
		}
		info.IncludeDirs = append(info.IncludeDirs, str)
	}
}

// parseFileEntries2 parses the file table for DWARF 2 through 4.
func parseFileEntries2(info *DebugLineInfo, rdr *util.Reader) {
	for rdr.Err() == nil {
		entry := readFileEntry(info, rdr)
		if entry == nil {
			return
		}
		info.FileNames = append(info.FileNames, entry)
	}
}

// readFileEntry reads a DWARF 2-4 file entry, also used by
// DW_LNE_define_file. Returns nil at the terminating empty entry.
func readFileEntry(info *DebugLineInfo, rdr *util.Reader) *FileEntry {
	entry := new(FileEntry)
	entry.Path = rdr.CString()
	if entry.Path == "" {
		return nil
	}
	entry.DirIdx = rdr.ULEB128()
	entry.LastModTime = rdr.ULEB128()
	entry.Length = rdr.ULEB128()
	entry.Path = info.joinDir(entry.DirIdx, entry.Path)
	return entry
}

func (info *DebugLineInfo) joinDir(diridx uint64, p string) string {
	if pathIsAbs(p) || diridx >= uint64(len(info.IncludeDirs)) {
		return p
	}
	return path.Join(info.IncludeDirs[diridx], p)
}

// pathIsAbs returns true if this is an absolute path, either a unix one or
// one with a windows drive letter.
func pathIsAbs(s string) bool {
	if strings.HasPrefix(s, "/") {
		return true
	}
	if len(s) >= 2 && s[1] == ':' && (('a' <= s[0] && s[0] <= 'z') || ('A' <= s[0] && s[0] <= 'Z')) {
		return true
	}
	return false
}

// parseIncludeDirs5 parses the directory table for DWARF version 5.
func parseIncludeDirs5(info *DebugLineInfo, rdr *util.Reader) error {
	fr := readEntryFormat(info, rdr)
	count := rdr.ULEB128()
	if rdr.Err() != nil {
		return rdr.Err()
	}
	info.IncludeDirs = make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		fr.reset()
		dir := ""
		for fr.next(rdr) {
			if fr.contentType == _DW_LNCT_path {
				dir = info.formString(fr)
			}
		}
		if fr.err != nil {
			return fmt.Errorf("reading directory entries table: %w", fr.err)
		}
		info.IncludeDirs = append(info.IncludeDirs, dir)
	}
	return nil
}

// parseFileEntries5 parses the file table for DWARF 5.
func parseFileEntries5(info *DebugLineInfo, rdr *util.Reader) error {
	fr := readEntryFormat(info, rdr)
	count := rdr.ULEB128()
	if rdr.Err() != nil {
		return rdr.Err()
	}
	info.FileNames = make([]*FileEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var (
			p     string
			entry = new(FileEntry)
		)
		fr.reset()
		for fr.next(rdr) {
			switch fr.contentType {
			case _DW_LNCT_path:
				p = info.formString(fr)
			case _DW_LNCT_directory_index:
				entry.DirIdx = fr.u64
			case _DW_LNCT_timestamp:
				entry.LastModTime = fr.u64
			case _DW_LNCT_size:
				entry.Length = fr.u64
			}
		}
		if fr.err != nil {
			return fmt.Errorf("reading file entries table: %w", fr.err)
		}
		entry.Path = info.joinDir(entry.DirIdx, p)
		info.FileNames = append(info.FileNames, entry)
	}
	return nil
}

func (info *DebugLineInfo) formString(fr *formReader) string {
	var (
		s   string
		err error
	)
	switch fr.formCode {
	case _DW_FORM_string:
		return fr.str
	case _DW_FORM_line_strp:
		s, err = util.CStringAt(info.sections.LineStr, fr.u64)
	case _DW_FORM_strp:
		s, err = util.CStringAt(info.sections.Str, fr.u64)
	default:
		info.Logf("unsupported string form %#x", fr.formCode)
		return ""
	}
	if err != nil {
		info.Logf("reading path string: %v", err)
	}
	return s
}
