package test

import (
	"bytes"
	"strings"
	"syscall"

	"github.com/fgc/hmdd/pkg/proc"
)

// FakeProcess is an in memory proc.Process. It executes Program, a list
// of instruction addresses, in order. Executing an address whose memory
// starts with the trap instruction of Arch stops the process the way the
// CPU would.
type FakeProcess struct {
	Arch    *proc.Arch
	Program []uint64
	// Mem is byte addressed, missing bytes read as zero.
	Mem map[uint64]byte
	// Valid, if set, says which addresses can be accessed.
	Valid func(addr uint64) bool
	// ExitCode is reported when the program runs past its last instruction.
	ExitCode int
	// Entry is the runtime entry point.
	Entry uint64

	// Steps counts single steps.
	Steps int
	// Writes counts memory writes.
	Writes int

	pid   int
	pc    uint64
	state proc.ProcessState
}

// NewFakeProcess returns a process stopped at the first instruction of
// program.
func NewFakeProcess(arch *proc.Arch, program ...uint64) *FakeProcess {
	p := &FakeProcess{
		Arch:    arch,
		Program: program,
		Mem:     make(map[uint64]byte),
		pid:     4242,
		state:   proc.ProcessState{Kind: proc.Stopped, Reason: proc.StopInitial},
	}
	if len(program) > 0 {
		p.pc = program[0]
		p.Entry = program[0]
	}
	return p
}

func (p *FakeProcess) Pid() int                 { return p.pid }
func (p *FakeProcess) State() proc.ProcessState { return p.state }

func (p *FakeProcess) notRunning(op string) error {
	return &proc.ProcessError{Kind: proc.ProcessNotRunning, Pid: p.pid, Op: op}
}

func (p *FakeProcess) ReadWord(addr uint64) (uint64, error) {
	if p.state.Kind == proc.Exited {
		return 0, p.notRunning("read memory")
	}
	if p.Valid != nil && !p.Valid(addr) {
		return 0, &proc.ProcessError{Kind: proc.InvalidAddress, Pid: p.pid, Op: "read memory", Addr: addr}
	}
	var w uint64
	for i := 0; i < 8; i++ {
		w |= uint64(p.Mem[addr+uint64(i)]) << (8 * uint(i))
	}
	return w, nil
}

func (p *FakeProcess) WriteWord(addr, word uint64) error {
	if p.state.Kind == proc.Exited {
		return p.notRunning("write memory")
	}
	if p.Valid != nil && !p.Valid(addr) {
		return &proc.ProcessError{Kind: proc.InvalidAddress, Pid: p.pid, Op: "write memory", Addr: addr}
	}
	for i := 0; i < 8; i++ {
		p.Mem[addr+uint64(i)] = byte(word >> (8 * uint(i)))
	}
	p.Writes++
	return nil
}

// Bytes returns n bytes of memory at addr.
func (p *FakeProcess) Bytes(addr uint64, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = p.Mem[addr+uint64(i)]
	}
	return b
}

func (p *FakeProcess) hasTrap(addr uint64) bool {
	trap := p.Arch.BreakpointInstruction()
	return bytes.Equal(p.Bytes(addr, len(trap)), trap)
}

func (p *FakeProcess) index(pc uint64) int {
	for i, addr := range p.Program {
		if addr == pc {
			return i
		}
	}
	return -1
}

// exec executes the instruction at the current PC, returning true if the
// process stopped.
func (p *FakeProcess) exec() (proc.StopResult, bool) {
	i := p.index(p.pc)
	if i < 0 {
		p.state = proc.ProcessState{Kind: proc.Stopped, Reason: proc.StopSignal, Signal: syscall.SIGILL}
		return proc.StopResult{ProcessState: p.state, PC: p.pc}, true
	}
	if p.hasTrap(p.pc) {
		if p.Arch.BreakInstrMovesPC() {
			p.pc += uint64(p.Arch.BreakpointSize())
		}
		p.state = proc.ProcessState{Kind: proc.Stopped, Reason: proc.StopTrap, Signal: syscall.SIGTRAP}
		return proc.StopResult{ProcessState: p.state, PC: p.pc}, true
	}
	if i+1 >= len(p.Program) {
		p.pc = 0
		p.state = proc.ProcessState{Kind: proc.Exited, Reason: proc.StopExited, ExitCode: p.ExitCode}
		return proc.StopResult{ProcessState: p.state}, true
	}
	p.pc = p.Program[i+1]
	return proc.StopResult{}, false
}

func (p *FakeProcess) SingleStep() (proc.StopResult, error) {
	if p.state.Kind == proc.Exited {
		return proc.StopResult{ProcessState: p.state}, p.notRunning("single step")
	}
	p.Steps++
	if sr, stopped := p.exec(); stopped {
		return sr, nil
	}
	p.state = proc.ProcessState{Kind: proc.Stopped, Reason: proc.StopTrap, Signal: syscall.SIGTRAP}
	return proc.StopResult{ProcessState: p.state, PC: p.pc}, nil
}

func (p *FakeProcess) Continue() (proc.StopResult, error) {
	if p.state.Kind == proc.Exited {
		return proc.StopResult{ProcessState: p.state}, p.notRunning("continue")
	}
	for {
		if sr, stopped := p.exec(); stopped {
			return sr, nil
		}
	}
}

type fakeRegs struct{ pc uint64 }

func (r fakeRegs) PC() uint64 { return r.pc }
func (r fakeRegs) SP() uint64 { return 0x7ffc0000 }
func (r fakeRegs) Slice() []proc.Register {
	return []proc.Register{{Name: "pc", Value: r.pc}, {Name: "sp", Value: r.SP()}}
}

func (r fakeRegs) Lookup(name string) (uint64, error) {
	for _, reg := range r.Slice() {
		if strings.EqualFold(reg.Name, name) {
			return reg.Value, nil
		}
	}
	return 0, proc.ErrUnknownRegister
}

func (p *FakeProcess) Registers() (proc.Registers, error) {
	if p.state.Kind == proc.Exited {
		return nil, p.notRunning("get registers")
	}
	return fakeRegs{p.pc}, nil
}

func (p *FakeProcess) SetPC(pc uint64) error {
	if p.state.Kind == proc.Exited {
		return p.notRunning("set pc")
	}
	p.pc = pc
	return nil
}

func (p *FakeProcess) EntryPoint() (uint64, error) {
	if p.state.Kind == proc.Exited {
		return 0, p.notRunning("entry point")
	}
	return p.Entry, nil
}

func (p *FakeProcess) Detach(kill bool) error {
	if p.state.Kind == proc.Exited {
		return nil
	}
	p.state = proc.ProcessState{Kind: proc.Exited, Reason: proc.StopExited}
	if kill {
		p.state.Signal = syscall.SIGKILL
	}
	return nil
}
