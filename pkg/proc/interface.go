package proc

import (
	"fmt"
	"syscall"
)

// Memory is the word granular view of the target's address space used to
// patch breakpoints.
type Memory interface {
	// ReadWord reads the pointer sized word at addr.
	ReadWord(addr uint64) (uint64, error)
	// WriteWord writes the pointer sized word at addr.
	WriteWord(addr, word uint64) error
}

// Process represents a single traced process. Every method blocks until
// the request is complete.
type Process interface {
	Memory

	Pid() int
	State() ProcessState

	// SingleStep executes one instruction.
	SingleStep() (StopResult, error)
	// Continue resumes the process until the next stop.
	Continue() (StopResult, error)

	Registers() (Registers, error)
	SetPC(pc uint64) error

	// EntryPoint returns the runtime address of the entry point.
	EntryPoint() (uint64, error)
	// Detach releases the process, killing it if kill is set.
	Detach(kill bool) error
}

// Registers is a snapshot of the general purpose registers.
type Registers interface {
	PC() uint64
	SP() uint64
	Slice() []Register
	// Lookup returns the value of the register with the given name, case
	// insensitive. Sub registers (eax, w0) are supported where the
	// architecture has them.
	Lookup(name string) (uint64, error)
}

// Register is a named register value.
type Register struct {
	Name  string
	Value uint64
}

// StateKind is the lifecycle state of a process.
type StateKind uint8

const (
	NotStarted StateKind = iota
	Running
	Stopped
	Exited
)

func (k StateKind) String() string {
	switch k {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("StateKind(%d)", uint8(k))
}

// StopReason describes why a process stopped.
type StopReason uint8

const (
	// StopInitial is the trap delivered after exec.
	StopInitial StopReason = iota + 1
	// StopTrap is a SIGTRAP from a breakpoint or a single step.
	StopTrap
	// StopSignal is any other signal.
	StopSignal
	// StopExited means the process is gone.
	StopExited
)

func (r StopReason) String() string {
	switch r {
	case StopInitial:
		return "initial stop"
	case StopTrap:
		return "trap"
	case StopSignal:
		return "signal"
	case StopExited:
		return "exited"
	}
	return fmt.Sprintf("StopReason(%d)", uint8(r))
}

// ProcessState is the state of a process as last observed by wait.
type ProcessState struct {
	Kind   StateKind
	Reason StopReason
	// Signal is the signal that stopped or killed the process.
	Signal syscall.Signal
	// ExitCode is valid when Kind is Exited.
	ExitCode int
}

func (s ProcessState) String() string {
	switch s.Kind {
	case Stopped:
		if s.Reason == StopSignal {
			return fmt.Sprintf("stopped (signal %v)", s.Signal)
		}
		return fmt.Sprintf("stopped (%v)", s.Reason)
	case Exited:
		if s.Signal != 0 {
			return fmt.Sprintf("exited (killed by %v)", s.Signal)
		}
		return fmt.Sprintf("exited (status %d)", s.ExitCode)
	}
	return s.Kind.String()
}

// StopResult is returned by the requests that resume a process.
type StopResult struct {
	ProcessState
	// PC is the program counter at the stop, zero if the process exited.
	PC uint64
}
