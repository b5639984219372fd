package native

import (
	"os"
	"runtime"
	"sync"

	"github.com/fgc/hmdd/pkg/logflags"
	"github.com/fgc/hmdd/pkg/proc"
)

// Process represents a process traced through ptrace.
type Process struct {
	pid   int
	arch  *proc.Arch
	state proc.ProcessState
	// steps counts the instructions executed with SingleStep.
	steps int
	// pendingSig is the signal that stopped the process, delivered to it
	// on the next resume. SIGTRAP is never delivered.
	pendingSig int

	// ctty is the controlling terminal of the child, if it was launched
	// with one.
	ctty *os.File

	// ptrace requests must all come from the same thread, see
	// handlePtraceFuncs.
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	stopOnce       sync.Once

	logger logflags.Logger
}

// New returns an initialized Process struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func New(pid int, arch *proc.Arch) *Process {
	dbp := &Process{
		pid:            pid,
		arch:           arch,
		state:          proc.ProcessState{Kind: proc.NotStarted},
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		logger:         logflags.NativeLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process ID.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// State returns the state of the process as of the last wait.
func (dbp *Process) State() proc.ProcessState {
	return dbp.state
}

// Steps returns the number of instructions executed by SingleStep.
func (dbp *Process) Steps() int {
	return dbp.steps
}

func (dbp *Process) exited() bool {
	return dbp.state.Kind == proc.Exited
}

func (dbp *Process) notRunning(op string) error {
	return &proc.ProcessError{Kind: proc.ProcessNotRunning, Pid: dbp.pid, Op: op}
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_TRACEME to come from the thread that forked.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

// stopPtraceThread terminates the goroutine started by New.
func (dbp *Process) stopPtraceThread() {
	dbp.stopOnce.Do(func() {
		close(dbp.ptraceChan)
		if dbp.ctty != nil {
			dbp.ctty.Close()
		}
	})
}
