package proc

import (
	"errors"
	"fmt"
)

// ErrUnknownRegister is returned for a register name the architecture
// does not have.
var ErrUnknownRegister = errors.New("unknown register")

// DebugInfoErrorKind classifies a failure to load debug information.
type DebugInfoErrorKind uint8

const (
	// CannotOpen means a file could not be opened or read.
	CannotOpen DebugInfoErrorKind = iota + 1
	// MalformedFormat means the executable or its DWARF sections could
	// not be decoded.
	MalformedFormat
	// NoCompilationUnit means the DWARF data has no usable compile unit.
	NoCompilationUnit
)

func (k DebugInfoErrorKind) String() string {
	switch k {
	case CannotOpen:
		return "cannot open"
	case MalformedFormat:
		return "malformed format"
	case NoCompilationUnit:
		return "no compilation unit"
	}
	return fmt.Sprintf("DebugInfoErrorKind(%d)", uint8(k))
}

// DebugInfoError is returned when the debug information of the target
// can not be loaded. It is fatal at startup.
type DebugInfoError struct {
	Kind DebugInfoErrorKind
	Path string
	Err  error
}

func (e *DebugInfoError) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *DebugInfoError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *DebugInfoError) Is(target error) bool {
	t, ok := target.(*DebugInfoError)
	return ok && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrCannotOpen        = &DebugInfoError{Kind: CannotOpen}
	ErrMalformedFormat   = &DebugInfoError{Kind: MalformedFormat}
	ErrNoCompilationUnit = &DebugInfoError{Kind: NoCompilationUnit}
)

// ProcessErrorKind classifies a failure of the process controller.
type ProcessErrorKind uint8

const (
	// ForkFailed means the target could not be started.
	ForkFailed ProcessErrorKind = iota + 1
	// TraceRequestFailed means the child could not be placed under trace.
	TraceRequestFailed
	// TraceControlFailed means a resume or step request was rejected.
	TraceControlFailed
	// InvalidAddress means a memory or register access was denied.
	InvalidAddress
	// ProcessNotRunning means the process has already exited.
	ProcessNotRunning
)

func (k ProcessErrorKind) String() string {
	switch k {
	case ForkFailed:
		return "fork failed"
	case TraceRequestFailed:
		return "trace request failed"
	case TraceControlFailed:
		return "trace control failed"
	case InvalidAddress:
		return "invalid address"
	case ProcessNotRunning:
		return "process not running"
	}
	return fmt.Sprintf("ProcessErrorKind(%d)", uint8(k))
}

// ProcessError is returned by the process controller. The session reports
// it and carries on.
type ProcessError struct {
	Kind ProcessErrorKind
	Pid  int
	Op   string
	Addr uint64
	Err  error
}

func (e *ProcessError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind == InvalidAddress {
		msg += fmt.Sprintf(" %#x", e.Addr)
	}
	if e.Pid != 0 {
		msg = fmt.Sprintf("process %d: %s", e.Pid, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *ProcessError) Is(target error) bool {
	t, ok := target.(*ProcessError)
	return ok && t.Pid == 0 && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrForkFailed         = &ProcessError{Kind: ForkFailed}
	ErrTraceRequestFailed = &ProcessError{Kind: TraceRequestFailed}
	ErrTraceControlFailed = &ProcessError{Kind: TraceControlFailed}
	ErrInvalidAddress     = &ProcessError{Kind: InvalidAddress}
	ErrProcessNotRunning  = &ProcessError{Kind: ProcessNotRunning}
)

// UnresolvedLineError is returned when a breakpoint is requested on a
// source line the line table attributes no code to.
type UnresolvedLineError struct {
	Line int
}

func (e *UnresolvedLineError) Error() string {
	return fmt.Sprintf("no code at line %d", e.Line+1)
}

// InvalidLineError is returned for a line outside the source file.
type InvalidLineError struct {
	Line  int
	Count int
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("invalid line %d, the source file has %d lines", e.Line+1, e.Count)
}

// BreakpointExistsError is returned when trying to set a breakpoint at an
// address that already has a breakpoint.
type BreakpointExistsError struct {
	Line         int
	ExistingLine int
	Addr         uint64
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("breakpoint for line %d already exists at %#x (line %d)", bpe.Line+1, bpe.Addr, bpe.ExistingLine+1)
}
