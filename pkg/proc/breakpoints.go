package proc

import (
	"fmt"
	"sort"
)

// BreakpointState says whether the trap instruction of a breakpoint is
// currently written in the process image.
type BreakpointState uint8

const (
	Armed BreakpointState = iota
	Disarmed
)

func (s BreakpointState) String() string {
	if s == Armed {
		return "armed"
	}
	return "disarmed"
}

// Breakpoint represents a software breakpoint. Stores information on the
// breakpoint including the bytes of the instruction the trap replaced.
type Breakpoint struct {
	ID   int
	Line int    // zero based source line
	Addr uint64 // runtime address of the trap

	OriginalData []byte
	State        BreakpointState
	HitCount     int
}

// ToggleAction is the outcome of BreakpointManager.Toggle.
type ToggleAction uint8

const (
	BreakpointAdded ToggleAction = iota
	BreakpointRemoved
)

// ToggleResult is returned by BreakpointManager.Toggle.
type ToggleResult struct {
	Action     ToggleAction
	Breakpoint *Breakpoint
}

// BreakpointManager owns the set of breakpoints of a process and keeps
// the process image consistent with it.
type BreakpointManager struct {
	mem   Memory
	arch  *Arch
	lines *LineTable
	// bias is added to line table addresses to obtain runtime addresses.
	bias uint64

	byAddr map[uint64]*Breakpoint
	byLine map[int]*Breakpoint
	lastID int
}

// NewBreakpointManager returns an empty breakpoint set for mem.
func NewBreakpointManager(mem Memory, arch *Arch, lines *LineTable, bias uint64) *BreakpointManager {
	return &BreakpointManager{
		mem:    mem,
		arch:   arch,
		lines:  lines,
		bias:   bias,
		byAddr: make(map[uint64]*Breakpoint),
		byLine: make(map[int]*Breakpoint),
	}
}

// Bias returns the load bias applied to line table addresses.
func (bm *BreakpointManager) Bias() uint64 {
	return bm.bias
}

// Toggle removes the breakpoint on line if there is one, otherwise it
// sets one at the line's address.
func (bm *BreakpointManager) Toggle(line int) (ToggleResult, error) {
	if bp := bm.byLine[line]; bp != nil {
		if err := bm.remove(bp); err != nil {
			return ToggleResult{}, err
		}
		return ToggleResult{Action: BreakpointRemoved, Breakpoint: bp}, nil
	}
	bp, err := bm.set(line)
	if err != nil {
		return ToggleResult{}, err
	}
	return ToggleResult{Action: BreakpointAdded, Breakpoint: bp}, nil
}

func (bm *BreakpointManager) set(line int) (*Breakpoint, error) {
	if line < 0 || line >= bm.lines.Len() {
		return nil, &InvalidLineError{Line: line, Count: bm.lines.Len()}
	}
	addr, ok := bm.lines.Addr(line)
	if !ok {
		return nil, &UnresolvedLineError{Line: line}
	}
	addr += bm.bias
	if bp := bm.byAddr[addr]; bp != nil {
		return nil, BreakpointExistsError{Line: line, ExistingLine: bp.Line, Addr: addr}
	}

	bp := &Breakpoint{Line: line, Addr: addr, State: Disarmed}
	if err := bm.arm(bp); err != nil {
		return nil, err
	}
	bm.lastID++
	bp.ID = bm.lastID
	bm.byAddr[addr] = bp
	bm.byLine[line] = bp
	return bp, nil
}

func (bm *BreakpointManager) remove(bp *Breakpoint) error {
	if bp.State == Armed {
		if err := bm.disarm(bp); err != nil {
			return err
		}
	}
	delete(bm.byAddr, bp.Addr)
	delete(bm.byLine, bp.Line)
	return nil
}

// arm saves the bytes at bp.Addr and writes the trap over them.
func (bm *BreakpointManager) arm(bp *Breakpoint) error {
	word, err := bm.mem.ReadWord(bp.Addr)
	if err != nil {
		return fmt.Errorf("could not read memory at %#x: %w", bp.Addr, err)
	}
	trap := bm.arch.BreakpointInstruction()
	orig := wordBytes(word, len(trap))
	if err := bm.mem.WriteWord(bp.Addr, patchWord(word, trap)); err != nil {
		return fmt.Errorf("could not write breakpoint at %#x: %w", bp.Addr, err)
	}
	bp.OriginalData = orig
	bp.State = Armed
	return nil
}

// disarm writes back the original bytes of bp. The rest of the word is
// read again since it may hold another breakpoint.
func (bm *BreakpointManager) disarm(bp *Breakpoint) error {
	word, err := bm.mem.ReadWord(bp.Addr)
	if err != nil {
		return fmt.Errorf("could not read memory at %#x: %w", bp.Addr, err)
	}
	if err := bm.mem.WriteWord(bp.Addr, patchWord(word, bp.OriginalData)); err != nil {
		return fmt.Errorf("could not restore instruction at %#x: %w", bp.Addr, err)
	}
	bp.State = Disarmed
	return nil
}

// RestoreAll writes back the original instruction of every armed
// breakpoint. The breakpoints stay in the set, disarmed.
func (bm *BreakpointManager) RestoreAll() error {
	for _, bp := range bm.List() {
		if bp.State != Armed {
			continue
		}
		if err := bm.disarm(bp); err != nil {
			return err
		}
	}
	return nil
}

// ArmAll writes the trap instruction of every disarmed breakpoint.
func (bm *BreakpointManager) ArmAll() error {
	for _, bp := range bm.List() {
		if bp.State != Disarmed {
			continue
		}
		if err := bm.arm(bp); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes every breakpoint.
func (bm *BreakpointManager) ClearAll() error {
	for _, bp := range bm.List() {
		if err := bm.remove(bp); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the breakpoint at addr.
func (bm *BreakpointManager) Find(addr uint64) (*Breakpoint, bool) {
	bp, ok := bm.byAddr[addr]
	return bp, ok
}

// FindLine returns the breakpoint on line.
func (bm *BreakpointManager) FindLine(line int) (*Breakpoint, bool) {
	bp, ok := bm.byLine[line]
	return bp, ok
}

// List returns all breakpoints sorted by line.
func (bm *BreakpointManager) List() []*Breakpoint {
	r := make([]*Breakpoint, 0, len(bm.byAddr))
	for _, bp := range bm.byAddr {
		r = append(r, bp)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Line < r[j].Line })
	return r
}

// Len returns the number of breakpoints.
func (bm *BreakpointManager) Len() int {
	return len(bm.byAddr)
}

// wordBytes returns the n low order bytes of word, in memory order. Words
// are little endian on every supported architecture.
func wordBytes(word uint64, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(word >> (8 * uint(i)))
	}
	return b
}

// patchWord replaces the low order bytes of word with data.
func patchWord(word uint64, data []byte) uint64 {
	for i, b := range data {
		shift := 8 * uint(i)
		word = word&^(0xff<<shift) | uint64(b)<<shift
	}
	return word
}
