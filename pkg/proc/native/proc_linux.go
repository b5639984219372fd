//go:build linux && (amd64 || arm64)

package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	isatty "github.com/mattn/go-isatty"
	sys "golang.org/x/sys/unix"

	"github.com/fgc/hmdd/pkg/proc"
	"github.com/fgc/hmdd/pkg/proc/linutil"
)

// LaunchOptions configures the standard streams of a launched process.
type LaunchOptions struct {
	// TTY, if set, is the path of a terminal that becomes the controlling
	// terminal and the standard streams of the process.
	TTY string

	// Stdin, Stdout and Stderr are used when TTY is empty. Nil means the
	// debugger's own.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Launch creates and begins debugging a new process. The process is
// started without arguments and stopped on the trap delivered after
// exec.
func Launch(path string, opts LaunchOptions) (*Process, error) {
	arch := proc.HostArch()
	if arch == nil {
		return nil, &proc.ProcessError{Kind: proc.ForkFailed, Op: "launch", Err: errors.New("unsupported architecture")}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	var (
		process *exec.Cmd
		err     error
	)
	dbp := New(0, arch)
	dbp.execPtraceFunc(func() {
		process = exec.Command(path)
		process.Stdin = opts.Stdin
		process.Stdout = opts.Stdout
		process.Stderr = opts.Stderr
		if process.Stdin == nil {
			process.Stdin = os.Stdin
		}
		if process.Stdout == nil {
			process.Stdout = os.Stdout
		}
		if process.Stderr == nil {
			process.Stderr = os.Stderr
		}
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:  true,
			Setpgid: true,
		}
		if opts.TTY != "" {
			dbp.ctty, err = attachProcessToTTY(process, opts.TTY)
			if err != nil {
				return
			}
		}
		err = process.Start()
	})
	if err != nil {
		dbp.stopPtraceThread()
		return nil, launchError(path, err)
	}
	dbp.pid = process.Process.Pid
	dbp.logger.Debugf("launched %s as %d", path, dbp.pid)

	sr, err := dbp.wait()
	if err == nil && (sr.Kind != proc.Stopped || sr.Signal != syscall.SIGTRAP) {
		err = fmt.Errorf("unexpected state %v", sr.ProcessState)
	}
	if err != nil {
		if !dbp.exited() {
			dbp.Detach(true)
		}
		dbp.stopPtraceThread()
		return nil, &proc.ProcessError{Kind: proc.TraceRequestFailed, Pid: dbp.pid, Op: "launch", Err: fmt.Errorf("waiting for target execve failed: %w", err)}
	}
	dbp.pendingSig = 0
	dbp.state.Reason = proc.StopInitial
	return dbp, nil
}

// launchError classifies a failure of exec.Cmd.Start. Errors the child
// reports after fork, while requesting to be traced or executing the
// program, are TraceRequestFailed.
func launchError(path string, err error) error {
	var errno syscall.Errno
	var perr *fs.PathError
	if errors.As(err, &perr) && errors.As(err, &errno) {
		switch errno {
		case syscall.EPERM, syscall.EACCES, syscall.ENOEXEC, syscall.ENOENT, syscall.ENOTDIR:
			return &proc.ProcessError{Kind: proc.TraceRequestFailed, Op: "exec " + path, Err: err}
		}
	}
	return &proc.ProcessError{Kind: proc.ForkFailed, Op: "fork " + path, Err: err}
}

func attachProcessToTTY(process *exec.Cmd, tty string) (*os.File, error) {
	f, err := os.OpenFile(tty, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if !isatty.IsTerminal(f.Fd()) {
		f.Close()
		return nil, fmt.Errorf("%s is not a terminal", f.Name())
	}
	process.Stdin = f
	process.Stdout = f
	process.Stderr = f
	process.SysProcAttr.Setpgid = false
	process.SysProcAttr.Setsid = true
	process.SysProcAttr.Setctty = true

	return f, nil
}

// wait blocks until the process changes state and records the new state.
func (dbp *Process) wait() (proc.StopResult, error) {
	var (
		s    sys.WaitStatus
		wpid int
		err  error
	)
	for {
		wpid, err = sys.Wait4(dbp.pid, &s, sys.WALL, nil)
		if err != sys.EINTR {
			break
		}
	}
	if err != nil {
		return proc.StopResult{}, fmt.Errorf("wait err %s %d", err, dbp.pid)
	}
	if wpid != dbp.pid {
		return proc.StopResult{}, fmt.Errorf("wait returned unknown pid %d", wpid)
	}

	switch {
	case s.Exited():
		dbp.state = proc.ProcessState{Kind: proc.Exited, Reason: proc.StopExited, ExitCode: s.ExitStatus()}
	case s.Signaled():
		dbp.state = proc.ProcessState{Kind: proc.Exited, Reason: proc.StopExited, Signal: s.Signal(), ExitCode: -1}
	case s.Stopped():
		sig := s.StopSignal()
		if sig == sys.SIGTRAP {
			dbp.state = proc.ProcessState{Kind: proc.Stopped, Reason: proc.StopTrap, Signal: sig}
		} else {
			dbp.state = proc.ProcessState{Kind: proc.Stopped, Reason: proc.StopSignal, Signal: sig}
			dbp.pendingSig = int(sig)
		}
	default:
		return proc.StopResult{}, fmt.Errorf("unexpected wait status %#x", uint32(s))
	}

	sr := proc.StopResult{ProcessState: dbp.state}
	if dbp.exited() {
		dbp.logger.Debugf("process %d %v", dbp.pid, dbp.state)
		return sr, nil
	}
	regs, err := dbp.Registers()
	if err != nil {
		return sr, err
	}
	sr.PC = regs.PC()
	dbp.logger.Debugf("process %d %v at %#x", dbp.pid, dbp.state, sr.PC)
	return sr, nil
}

// resume issues a resume request and waits for the next stop. The pending
// signal, if any, is delivered.
func (dbp *Process) resume(op string, req func(pid, sig int) error) (proc.StopResult, error) {
	if dbp.exited() {
		return proc.StopResult{ProcessState: dbp.state}, dbp.notRunning(op)
	}
	sig := dbp.pendingSig
	dbp.pendingSig = 0
	var err error
	dbp.execPtraceFunc(func() { err = req(dbp.pid, sig) })
	if err != nil {
		return proc.StopResult{ProcessState: dbp.state}, &proc.ProcessError{Kind: proc.TraceControlFailed, Pid: dbp.pid, Op: op, Err: err}
	}
	dbp.state = proc.ProcessState{Kind: proc.Running}
	sr, err := dbp.wait()
	if err != nil {
		return sr, &proc.ProcessError{Kind: proc.TraceControlFailed, Pid: dbp.pid, Op: op, Err: err}
	}
	return sr, nil
}

// SingleStep executes exactly one instruction.
func (dbp *Process) SingleStep() (proc.StopResult, error) {
	sr, err := dbp.resume("single step", ptraceSingleStep)
	if err == nil {
		dbp.steps++
	}
	return sr, err
}

// Continue resumes the process until it stops or exits.
func (dbp *Process) Continue() (proc.StopResult, error) {
	return dbp.resume("continue", ptraceCont)
}

// ReadWord reads the word at addr.
func (dbp *Process) ReadWord(addr uint64) (uint64, error) {
	if dbp.exited() {
		return 0, dbp.notRunning("read memory")
	}
	var (
		buf [8]byte
		n   int
		err error
	)
	dbp.execPtraceFunc(func() { n, err = sys.PtracePeekData(dbp.pid, uintptr(addr), buf[:]) })
	if err == nil && n != len(buf) {
		err = fmt.Errorf("short read %d", n)
	}
	if err != nil {
		return 0, &proc.ProcessError{Kind: proc.InvalidAddress, Pid: dbp.pid, Op: "read memory", Addr: addr, Err: err}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteWord writes word at addr.
func (dbp *Process) WriteWord(addr, word uint64) error {
	if dbp.exited() {
		return dbp.notRunning("write memory")
	}
	var (
		buf [8]byte
		n   int
		err error
	)
	binary.LittleEndian.PutUint64(buf[:], word)
	dbp.execPtraceFunc(func() { n, err = sys.PtracePokeData(dbp.pid, uintptr(addr), buf[:]) })
	if err == nil && n != len(buf) {
		err = fmt.Errorf("short write %d", n)
	}
	if err != nil {
		return &proc.ProcessError{Kind: proc.InvalidAddress, Pid: dbp.pid, Op: "write memory", Addr: addr, Err: err}
	}
	return nil
}

// Registers returns the general purpose registers of the process.
func (dbp *Process) Registers() (proc.Registers, error) {
	if dbp.exited() {
		return nil, dbp.notRunning("get registers")
	}
	regs, err := dbp.registers()
	if err != nil {
		return nil, &proc.ProcessError{Kind: proc.TraceControlFailed, Pid: dbp.pid, Op: "get registers", Err: err}
	}
	return regs, nil
}

// SetPC sets the program counter.
func (dbp *Process) SetPC(pc uint64) error {
	if dbp.exited() {
		return dbp.notRunning("set pc")
	}
	if err := dbp.setPC(pc); err != nil {
		return &proc.ProcessError{Kind: proc.TraceControlFailed, Pid: dbp.pid, Op: "set pc", Err: err}
	}
	return nil
}

// EntryPoint will return the process entry point address, useful for
// debugging PIEs.
func (dbp *Process) EntryPoint() (uint64, error) {
	if dbp.exited() {
		return 0, dbp.notRunning("entry point")
	}
	auxvbuf, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", dbp.pid))
	if err != nil {
		return 0, fmt.Errorf("could not read auxiliary vector: %v", err)
	}
	return linutil.EntryPointFromAuxv(auxvbuf, dbp.arch.PtrSize()), nil
}

// Detach releases the process. If kill is set the process is killed and
// reaped, otherwise it keeps running untraced.
func (dbp *Process) Detach(kill bool) error {
	defer dbp.stopPtraceThread()
	if dbp.exited() {
		return nil
	}
	var err error
	if kill {
		dbp.execPtraceFunc(func() { err = sys.Kill(dbp.pid, sys.SIGKILL) })
		if err != nil {
			return &proc.ProcessError{Kind: proc.TraceControlFailed, Pid: dbp.pid, Op: "kill", Err: err}
		}
		for !dbp.exited() {
			if _, err = dbp.wait(); err != nil {
				break
			}
		}
		dbp.state = proc.ProcessState{Kind: proc.Exited, Reason: proc.StopExited, Signal: sys.SIGKILL, ExitCode: -1}
		return nil
	}
	sig := dbp.pendingSig
	dbp.execPtraceFunc(func() { err = ptraceDetach(dbp.pid, sig) })
	if err != nil {
		return &proc.ProcessError{Kind: proc.TraceControlFailed, Pid: dbp.pid, Op: "detach", Err: err}
	}
	dbp.state = proc.ProcessState{Kind: proc.Exited, Reason: proc.StopExited}
	return nil
}
