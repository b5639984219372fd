package line

import (
	"fmt"

	"github.com/fgc/hmdd/pkg/dwarf/util"
)

// Location is a row of the line-number matrix.
type Location struct {
	File        string
	FileIndex   uint64
	Line        int
	Column      uint
	Address     uint64
	IsStmt      bool
	PrologueEnd bool
	EndSequence bool
}

// StateMachine executes a line-number program, one opcode at a time.
type StateMachine struct {
	dbl           *DebugLineInfo
	file          uint64
	line          int
	address       uint64
	column        uint
	isStmt        bool
	isa           uint64
	discriminator uint64
	basicBlock    bool
	endSeq        bool
	prologueEnd   bool
	epilogueBegin bool
	// valid is true when the current registers must be appended to the
	// matrix, either after a special opcode, DW_LNS_copy or
	// DW_LNE_end_sequence.
	valid bool

	rdr     *util.Reader
	opcodes []opcodefn

	definedFiles []*FileEntry // files defined with DW_LNE_define_file
}

type opcodefn func(*StateMachine, *util.Reader)

// Standard opcodes
const (
	DW_LNS_copy             = 1
	DW_LNS_advance_pc       = 2
	DW_LNS_advance_line     = 3
	DW_LNS_set_file         = 4
	DW_LNS_set_column       = 5
	DW_LNS_negate_stmt      = 6
	DW_LNS_set_basic_block  = 7
	DW_LNS_const_add_pc     = 8
	DW_LNS_fixed_advance_pc = 9
	DW_LNS_prologue_end     = 10
	DW_LNS_epilogue_begin   = 11
	DW_LNS_set_isa          = 12
)

// Extended opcodes
const (
	DW_LINE_end_sequence      = 1
	DW_LINE_set_address       = 2
	DW_LINE_define_file       = 3
	DW_LINE_set_discriminator = 4
)

var standardopcodes = map[byte]opcodefn{
	DW_LNS_copy:             copyfn,
	DW_LNS_advance_pc:       advancepc,
	DW_LNS_advance_line:     advanceline,
	DW_LNS_set_file:         setfile,
	DW_LNS_set_column:       setcolumn,
	DW_LNS_negate_stmt:      negatestmt,
	DW_LNS_set_basic_block:  setbasicblock,
	DW_LNS_const_add_pc:     constaddpc,
	DW_LNS_fixed_advance_pc: fixedadvancepc,
	DW_LNS_prologue_end:     prologueend,
	DW_LNS_epilogue_begin:   epiloguebegin,
	DW_LNS_set_isa:          setisa,
}

var extendedopcodes = map[byte]opcodefn{
	DW_LINE_end_sequence:      endsequence,
	DW_LINE_set_address:       setaddress,
	DW_LINE_define_file:       definefile,
	DW_LINE_set_discriminator: setdiscriminator,
}

func newStateMachine(dbl *DebugLineInfo) *StateMachine {
	opcodes := make([]opcodefn, len(standardopcodes)+1)
	opcodes[0] = execExtendedOpcode
	for op := range standardopcodes {
		opcodes[op] = standardopcodes[op]
	}
	sm := &StateMachine{
		dbl:     dbl,
		rdr:     util.NewReader(".debug_line program", dbl.order, dbl.Instructions),
		opcodes: opcodes,
	}
	sm.reset()
	return sm
}

func (sm *StateMachine) reset() {
	sm.file = 1
	sm.line = 1
	sm.column = 0
	sm.address = sm.dbl.staticBase
	sm.isa = 0
	sm.discriminator = 0
	sm.isStmt = sm.dbl.Prologue.InitialIsStmt
	sm.basicBlock = false
	sm.endSeq = false
	sm.prologueEnd = false
	sm.epilogueBegin = false
}

// fileName resolves a file register value. DWARF 5 file indexes are zero
// based, earlier versions start at one.
func (sm *StateMachine) fileName(i uint64) (string, bool) {
	if sm.dbl.Prologue.Version < 5 {
		if i == 0 {
			return "", false
		}
		i--
	}
	if i < uint64(len(sm.dbl.FileNames)) {
		return sm.dbl.FileNames[i].Path, true
	}
	j := i - uint64(len(sm.dbl.FileNames))
	if j < uint64(len(sm.definedFiles)) {
		return sm.definedFiles[j].Path, true
	}
	return "", false
}

func (sm *StateMachine) location() Location {
	file, _ := sm.fileName(sm.file)
	return Location{
		File:        file,
		FileIndex:   sm.file,
		Line:        sm.line,
		Column:      sm.column,
		Address:     sm.address,
		IsStmt:      sm.isStmt,
		PrologueEnd: sm.prologueEnd,
		EndSequence: sm.endSeq,
	}
}

// Walk runs the line-number program calling fn for every row of the
// matrix, in program order, until fn returns false or the program ends.
func (dbl *DebugLineInfo) Walk(fn func(Location) bool) error {
	sm := newStateMachine(dbl)
	for sm.rdr.Len() > 0 {
		if err := sm.next(); err != nil {
			return err
		}
		if !sm.valid {
			continue
		}
		if !fn(sm.location()) {
			return nil
		}
		if sm.endSeq {
			sm.reset()
			continue
		}
		// A row was emitted, these registers only apply to it.
		sm.basicBlock = false
		sm.prologueEnd = false
		sm.epilogueBegin = false
		sm.discriminator = 0
	}
	return nil
}

// Rows returns every row of the line-number matrix.
func (dbl *DebugLineInfo) Rows() ([]Location, error) {
	var rows []Location
	err := dbl.Walk(func(loc Location) bool {
		rows = append(rows, loc)
		return true
	})
	return rows, err
}

func (sm *StateMachine) next() error {
	sm.valid = false
	b := sm.rdr.Uint8()
	if err := sm.rdr.Err(); err != nil {
		return err
	}
	switch {
	case b >= sm.dbl.Prologue.OpcodeBase:
		execSpecialOpcode(sm, b)
	case int(b) < len(sm.opcodes):
		sm.opcodes[b](sm, sm.rdr)
	default:
		// Unknown standard opcode, skip the number of arguments the
		// header declares for it.
		opnum := sm.dbl.Prologue.StdOpLengths[b-1]
		for i := 0; i < int(opnum); i++ {
			sm.rdr.ULEB128()
		}
		sm.dbl.Logf("unknown opcode %d(%#x), %d arguments, line %d, address %#x", b, b, opnum, sm.line, sm.address)
	}
	if err := sm.rdr.Err(); err != nil {
		return fmt.Errorf("executing opcode %#x: %w", b, err)
	}
	return nil
}

func execSpecialOpcode(sm *StateMachine, instr byte) {
	p := sm.dbl.Prologue
	decoded := instr - p.OpcodeBase
	sm.line += int(p.LineBase) + int(decoded%p.LineRange)
	sm.address += uint64(decoded/p.LineRange) * uint64(p.MinInstrLength)
	sm.valid = true
}

func execExtendedOpcode(sm *StateMachine, rdr *util.Reader) {
	n := rdr.ULEB128()
	if n == 0 {
		return
	}
	body := rdr.Sub(".debug_line extended opcode", int(n))
	b := body.Uint8()
	if fn, ok := extendedopcodes[b]; ok {
		fn(sm, body)
	}
	if err := body.Err(); err != nil {
		sm.dbl.Logf("extended opcode %#x: %v", b, err)
	}
}

func copyfn(sm *StateMachine, rdr *util.Reader) {
	sm.valid = true
}

func advancepc(sm *StateMachine, rdr *util.Reader) {
	addr := rdr.ULEB128()
	sm.address += addr * uint64(sm.dbl.Prologue.MinInstrLength)
}

func advanceline(sm *StateMachine, rdr *util.Reader) {
	sm.line += int(rdr.SLEB128())
}

func setfile(sm *StateMachine, rdr *util.Reader) {
	sm.file = rdr.ULEB128()
}

func setcolumn(sm *StateMachine, rdr *util.Reader) {
	sm.column = uint(rdr.ULEB128())
}

func negatestmt(sm *StateMachine, rdr *util.Reader) {
	sm.isStmt = !sm.isStmt
}

func setbasicblock(sm *StateMachine, rdr *util.Reader) {
	sm.basicBlock = true
}

func constaddpc(sm *StateMachine, rdr *util.Reader) {
	p := sm.dbl.Prologue
	sm.address += uint64((255-p.OpcodeBase)/p.LineRange) * uint64(p.MinInstrLength)
}

func fixedadvancepc(sm *StateMachine, rdr *util.Reader) {
	sm.address += uint64(rdr.Uint16())
}

func prologueend(sm *StateMachine, rdr *util.Reader) {
	sm.prologueEnd = true
}

func epiloguebegin(sm *StateMachine, rdr *util.Reader) {
	sm.epilogueBegin = true
}

func setisa(sm *StateMachine, rdr *util.Reader) {
	sm.isa = rdr.ULEB128()
}

func endsequence(sm *StateMachine, rdr *util.Reader) {
	sm.endSeq = true
	sm.valid = true
}

// setaddress reads an address as wide as the rest of the opcode.
func setaddress(sm *StateMachine, rdr *util.Reader) {
	size := rdr.Len()
	if size == 0 {
		size = sm.dbl.ptrSize
	}
	sm.address = rdr.Uint(size) + sm.dbl.staticBase
}

func definefile(sm *StateMachine, rdr *util.Reader) {
	if entry := readFileEntry(sm.dbl, rdr); entry != nil {
		sm.definedFiles = append(sm.definedFiles, entry)
	}
}

func setdiscriminator(sm *StateMachine, rdr *util.Reader) {
	sm.discriminator = rdr.ULEB128()
}
