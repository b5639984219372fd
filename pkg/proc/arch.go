package proc

import (
	"debug/elf"
	"fmt"
	"runtime"
)

// Arch describes the properties of a CPU architecture the debugger needs
// to patch and recognize software breakpoints.
type Arch struct {
	Name    string
	machine elf.Machine
	ptrSize int

	breakpointInstruction []byte
	// breakInstrMovesPC is true if the PC reported after executing the
	// breakpoint instruction is past it.
	breakInstrMovesPC bool
}

// PtrSize returns the size of a pointer on this architecture.
func (a *Arch) PtrSize() int {
	return a.ptrSize
}

// BreakpointInstruction returns the breakpoint instruction for this
// architecture, in target byte order.
func (a *Arch) BreakpointInstruction() []byte {
	return a.breakpointInstruction
}

// BreakpointSize returns the size of the breakpoint instruction on this
// architecture.
func (a *Arch) BreakpointSize() int {
	return len(a.breakpointInstruction)
}

// BreakInstrMovesPC returns true if after executing the breakpoint
// instruction the PC points past it.
func (a *Arch) BreakInstrMovesPC() bool {
	return a.breakInstrMovesPC
}

// TrapAddress returns the address of the breakpoint instruction that was
// executed when a trap is reported with the given PC.
func (a *Arch) TrapAddress(pc uint64) uint64 {
	if a.breakInstrMovesPC {
		return pc - uint64(len(a.breakpointInstruction))
	}
	return pc
}

func (a *Arch) String() string {
	return a.Name
}

// AMD64Arch is the x86-64 architecture, the trap is INT3.
var AMD64Arch = &Arch{
	Name:                  "amd64",
	machine:               elf.EM_X86_64,
	ptrSize:               8,
	breakpointInstruction: []byte{0xCC},
	breakInstrMovesPC:     true,
}

// ARM64Arch is the aarch64 architecture, the trap is BRK #0.
var ARM64Arch = &Arch{
	Name:                  "arm64",
	machine:               elf.EM_AARCH64,
	ptrSize:               8,
	breakpointInstruction: []byte{0x0, 0x0, 0x20, 0xd4},
	breakInstrMovesPC:     false,
}

var supportedArchs = []*Arch{AMD64Arch, ARM64Arch}

// ArchForMachine returns the Arch for an ELF machine type.
func ArchForMachine(m elf.Machine) (*Arch, error) {
	for _, a := range supportedArchs {
		if a.machine == m {
			return a, nil
		}
	}
	return nil, fmt.Errorf("unsupported machine %v", m)
}

// HostArch returns the Arch the debugger was compiled for, nil if it is
// not supported.
func HostArch() *Arch {
	for _, a := range supportedArchs {
		if a.Name == runtime.GOARCH {
			return a
		}
	}
	return nil
}
