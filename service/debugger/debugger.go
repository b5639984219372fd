package debugger

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fgc/hmdd/pkg/logflags"
	"github.com/fgc/hmdd/pkg/proc"
	"github.com/fgc/hmdd/pkg/proc/native"
)

// State is the state of a debugging session.
type State uint8

const (
	Loading State = iota
	Ready
	Running
	Stepping
	Stopped
	Exited
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stepping:
		return "stepping"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// CommandName names a command that resumes the target.
type CommandName string

const (
	// Continue resumes the target until it hits a breakpoint or exits.
	Continue CommandName = "continue"
	// StepInstruction executes a single instruction.
	StepInstruction CommandName = "stepInstruction"
	// Next single steps until the source line changes.
	Next CommandName = "next"
)

// ErrProcessExited is returned by commands issued after the target exited.
var ErrProcessExited = errors.New("process has exited")

// ErrProcessRunning is returned when a breakpoint is toggled while the
// target is running.
var ErrProcessRunning = errors.New("process is running")

// DefaultMaxStepLines bounds the number of instructions a Next command
// executes.
const DefaultMaxStepLines = 100000

// DefaultLogLines is the default size of the session log.
const DefaultLogLines = 200

// Config provides the configuration to start a Debugger.
type Config struct {
	// Path is the executable to debug.
	Path string
	// SubstitutePath rewrites the source file path read from the debug
	// info, it can be nil.
	SubstitutePath func(string) string

	// Launch starts the target, if nil the native backend is used with
	// LaunchOptions.
	Launch        func(path string) (proc.Process, error)
	LaunchOptions native.LaunchOptions

	// MaxStepLines is the maximum number of instructions executed by Next.
	MaxStepLines int
	// LogLines is the number of log lines kept.
	LogLines int
}

// Debugger ties user requests to the target process and keeps the
// breakpoint set consistent with the process image. All methods block
// until the target stops.
type Debugger struct {
	config *Config

	processMutex sync.Mutex
	bi           *proc.BinaryInfo
	target       proc.Process
	breakpoints  *proc.BreakpointManager
	state        State
	// last is the result of the last resume request.
	last proc.StopResult

	running      bool
	runningMutex sync.Mutex

	quit bool

	logMutex sync.Mutex
	logs     []LogLine
	logTotal int
	partial  string

	log logflags.Logger
}

// New loads the debug information of config.Path, launches it and returns
// a Debugger in the Ready state. Loading errors are returned as they are,
// *proc.DebugInfoError, and no process is started.
func New(config *Config) (*Debugger, error) {
	d := &Debugger{
		config: config,
		state:  Loading,
		log:    logflags.DebuggerLogger(),
	}
	if d.config.MaxStepLines <= 0 {
		d.config.MaxStepLines = DefaultMaxStepLines
	}
	if d.config.LogLines <= 0 {
		d.config.LogLines = DefaultLogLines
	}

	d.log.Debugf("loading %s", config.Path)
	bi, err := proc.LoadBinaryInfo(config.Path, config.SubstitutePath)
	if err != nil {
		return nil, err
	}
	d.bi = bi

	launch := config.Launch
	if launch == nil {
		if host := proc.HostArch(); bi.Arch != host {
			return nil, &proc.DebugInfoError{Kind: proc.MalformedFormat, Path: config.Path, Err: fmt.Errorf("executable is for %v, can not debug it on %v", bi.Arch, host)}
		}
		launch = func(path string) (proc.Process, error) {
			p, err := native.Launch(path, config.LaunchOptions)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	d.log.Infof("launching process %s", config.Path)
	p, err := launch(config.Path)
	if err != nil {
		return nil, fmt.Errorf("could not launch process: %w", err)
	}
	d.target = p

	var bias uint64
	if bi.PIE {
		entry, err := p.EntryPoint()
		if err != nil {
			p.Detach(true)
			return nil, fmt.Errorf("could not compute load bias: %w", err)
		}
		bias = entry - bi.Entry
		d.log.Debugf("load bias %#x", bias)
	}
	d.breakpoints = proc.NewBreakpointManager(p, bi.Arch, bi.Lines, bias)
	d.last = proc.StopResult{ProcessState: p.State()}
	if regs, err := p.Registers(); err == nil {
		d.last.PC = regs.PC()
	}
	d.state = Ready
	d.statusf("loaded %s (%d lines), process %d", bi.Lines.File, bi.Lines.Len(), p.Pid())
	return d, nil
}

// BinInfo returns the debug information of the target.
func (d *Debugger) BinInfo() *proc.BinaryInfo {
	return d.bi
}

// Lines returns the line table of the source file being debugged.
func (d *Debugger) Lines() *proc.LineTable {
	return d.bi.Lines
}

// ProcessPid returns the PID of the process the debugger is attached to.
func (d *Debugger) ProcessPid() int {
	return d.target.Pid()
}

// State returns the state of the session.
func (d *Debugger) State() State {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.state
}

// LastStop returns the result of the last command.
func (d *Debugger) LastStop() proc.StopResult {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.last
}

// CurrentLine returns the source line the target is stopped at.
func (d *Debugger) CurrentLine() (int, bool) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.state == Exited {
		return 0, false
	}
	return d.lineForPC(d.last.PC)
}

func (d *Debugger) lineForPC(pc uint64) (int, bool) {
	return d.bi.Lines.LineForPC(pc - d.breakpoints.Bias())
}

func (d *Debugger) setRunning(running bool) {
	d.runningMutex.Lock()
	d.running = running
	d.runningMutex.Unlock()
}

func (d *Debugger) isRunning() bool {
	d.runningMutex.Lock()
	defer d.runningMutex.Unlock()
	return d.running
}

// ToggleBreakpoint sets a breakpoint on line (zero based), or removes the
// one already there.
func (d *Debugger) ToggleBreakpoint(line int) (proc.ToggleResult, error) {
	if d.isRunning() {
		d.errorf("can not toggle a breakpoint while the process is running")
		return proc.ToggleResult{}, ErrProcessRunning
	}
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	res, err := d.breakpoints.Toggle(line)
	if err != nil {
		d.errorf("%v", err)
		d.checkExited(err)
		return res, err
	}
	bp := res.Breakpoint
	switch res.Action {
	case proc.BreakpointAdded:
		d.statusf("breakpoint %d set at %#x for line %d", bp.ID, bp.Addr, bp.Line+1)
	case proc.BreakpointRemoved:
		d.statusf("breakpoint %d cleared at %#x for line %d", bp.ID, bp.Addr, bp.Line+1)
	}
	return res, nil
}

// Breakpoints returns the breakpoints sorted by line.
func (d *Debugger) Breakpoints() []*proc.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.breakpoints.List()
}

// FindBreakpoint returns the breakpoint set for line.
func (d *Debugger) FindBreakpoint(line int) (*proc.Breakpoint, bool) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.breakpoints.FindLine(line)
}

// Registers returns the registers of the stopped target.
func (d *Debugger) Registers() (proc.Registers, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.state == Exited {
		return nil, ErrProcessExited
	}
	return d.target.Registers()
}

// Command handles commands which resume the target. ProcessErrors are
// logged and returned, the session stays usable unless the process is
// gone.
func (d *Debugger) Command(name CommandName) (proc.StopResult, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	if d.state == Exited {
		d.errorf("%v", ErrProcessExited)
		return d.last, ErrProcessExited
	}

	d.setRunning(true)
	defer d.setRunning(false)

	var (
		sr  proc.StopResult
		err error
	)
	switch name {
	case Continue:
		d.log.Debug("continuing")
		d.state = Running
		sr, err = d.cont()
	case StepInstruction:
		d.log.Debug("single stepping")
		d.state = Stepping
		sr, err = d.stepInstruction()
	case Next:
		d.log.Debug("nexting")
		d.state = Stepping
		sr, err = d.next()
	default:
		return d.last, fmt.Errorf("unknown command %q", name)
	}
	if err != nil {
		if sr.Kind != proc.NotStarted {
			d.last = sr
		}
		d.errorf("%v", err)
		d.state = Stopped
		d.checkExited(err)
		return sr, err
	}
	d.last = sr
	d.report(name, sr)
	return sr, nil
}

// checkExited moves the session to Exited if err says the process is gone.
func (d *Debugger) checkExited(err error) {
	if errors.Is(err, proc.ErrProcessNotRunning) || d.target.State().Kind == proc.Exited {
		d.state = Exited
		d.last = proc.StopResult{ProcessState: d.target.State()}
	}
}

// stepOverBreakpoint executes the instruction at the current PC with all
// breakpoints removed if the target is stopped on one.
func (d *Debugger) stepOverBreakpoint() (proc.StopResult, bool, error) {
	if _, ok := d.breakpoints.Find(d.last.PC); !ok {
		return proc.StopResult{}, false, nil
	}
	sr, err := d.singleStep()
	return sr, true, err
}

// singleStep executes one instruction with the original code in place.
func (d *Debugger) singleStep() (proc.StopResult, error) {
	if err := d.breakpoints.RestoreAll(); err != nil {
		return proc.StopResult{}, err
	}
	sr, err := d.target.SingleStep()
	if err != nil {
		return sr, err
	}
	if sr.Kind == proc.Exited {
		return sr, nil
	}
	return sr, d.breakpoints.ArmAll()
}

func (d *Debugger) cont() (proc.StopResult, error) {
	sr, stepped, err := d.stepOverBreakpoint()
	if err != nil {
		return sr, err
	}
	if stepped && (sr.Kind == proc.Exited || sr.Reason == proc.StopSignal) {
		return sr, nil
	}
	sr, err = d.target.Continue()
	if err != nil {
		return sr, err
	}
	if sr.Kind != proc.Stopped || sr.Reason != proc.StopTrap {
		return sr, nil
	}
	addr := d.bi.Arch.TrapAddress(sr.PC)
	if bp, ok := d.breakpoints.Find(addr); ok && bp.State == proc.Armed {
		if addr != sr.PC {
			if err := d.target.SetPC(addr); err != nil {
				return sr, err
			}
			sr.PC = addr
		}
		bp.HitCount++
	}
	return sr, nil
}

func (d *Debugger) stepInstruction() (proc.StopResult, error) {
	return d.singleStep()
}

// next single steps until the source line changes, the target reaches
// the address of a breakpoint, an event stops the target or MaxStepLines
// instructions have been executed. Instructions that belong to no line of
// the source file do not end the step.
func (d *Debugger) next() (proc.StopResult, error) {
	start, startOk := d.lineForPC(d.last.PC)
	if err := d.breakpoints.RestoreAll(); err != nil {
		return proc.StopResult{}, err
	}
	var (
		sr  proc.StopResult
		err error
	)
	for i := 0; i < d.config.MaxStepLines; i++ {
		sr, err = d.target.SingleStep()
		if err != nil || sr.Kind == proc.Exited {
			return sr, err
		}
		if sr.Reason == proc.StopSignal {
			break
		}
		// breakpoints are disarmed while stepping, the trap would have
		// fired before executing this instruction.
		if bp, ok := d.breakpoints.Find(sr.PC); ok {
			bp.HitCount++
			break
		}
		if line, ok := d.lineForPC(sr.PC); ok && (!startOk || line != start) {
			break
		}
		if i == d.config.MaxStepLines-1 {
			d.statusf("step limit of %d instructions reached", d.config.MaxStepLines)
		}
	}
	return sr, d.breakpoints.ArmAll()
}

// report logs the outcome of a command and updates the session state.
func (d *Debugger) report(name CommandName, sr proc.StopResult) {
	switch sr.Kind {
	case proc.Exited:
		d.state = Exited
		if sr.Signal != 0 {
			d.statusf("process %d killed by %v", d.target.Pid(), sr.Signal)
		} else {
			d.statusf("process %d has exited with status %d", d.target.Pid(), sr.ExitCode)
		}
		return
	case proc.Stopped:
		d.state = Stopped
	}

	where := fmt.Sprintf("pc %#x", sr.PC)
	if line, ok := d.lineForPC(sr.PC); ok {
		where = fmt.Sprintf("line %d, pc %#x", line+1, sr.PC)
	}
	if sr.Reason == proc.StopSignal {
		d.statusf("received %v at %s", sr.Signal, where)
		return
	}
	if bp, ok := d.breakpoints.Find(sr.PC); ok && name != StepInstruction {
		d.statusf("stopped at breakpoint %d, line %d", bp.ID, bp.Line+1)
		return
	}
	d.statusf("stopped at %s", where)
}

// Quit asks the front-end to end the session.
func (d *Debugger) Quit() {
	d.processMutex.Lock()
	d.quit = true
	d.processMutex.Unlock()
}

// Quitting returns true after Quit was called.
func (d *Debugger) Quitting() bool {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.quit
}

// Detach releases the target. If kill is false the breakpoints are
// removed first so that the process can keep running.
func (d *Debugger) Detach(kill bool) error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if !kill && d.state != Exited {
		if err := d.breakpoints.ClearAll(); err != nil {
			return err
		}
	}
	err := d.target.Detach(kill)
	d.state = Exited
	return err
}

// LogKind classifies a log line.
type LogKind uint8

const (
	LogStatus LogKind = iota
	LogError
	LogOutput
)

// LogLine is a line of the session log.
type LogLine struct {
	Kind LogKind
	Text string
}

func (d *Debugger) appendLog(kind LogKind, text string) {
	d.logMutex.Lock()
	defer d.logMutex.Unlock()
	d.logs = append(d.logs, LogLine{Kind: kind, Text: text})
	d.logTotal++
	if n := len(d.logs) - d.config.LogLines; n > 0 {
		d.logs = append(d.logs[:0], d.logs[n:]...)
	}
}

func (d *Debugger) statusf(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	d.log.Info(text)
	d.appendLog(LogStatus, text)
}

func (d *Debugger) errorf(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	d.log.Error(text)
	d.appendLog(LogError, text)
}

// AppendOutput adds the output of the target to the log. Incomplete
// lines are held until their newline arrives.
func (d *Debugger) AppendOutput(out string) {
	d.logMutex.Lock()
	out = d.partial + out
	lines := strings.Split(out, "\n")
	d.partial = lines[len(lines)-1]
	d.logMutex.Unlock()
	for _, l := range lines[:len(lines)-1] {
		d.appendLog(LogOutput, strings.TrimSuffix(l, "\r"))
	}
}

// Logs returns the lines of the session log, oldest first.
func (d *Debugger) Logs() []LogLine {
	d.logMutex.Lock()
	defer d.logMutex.Unlock()
	return append([]LogLine(nil), d.logs...)
}

// LogCount returns the number of lines ever logged.
func (d *Debugger) LogCount() int {
	d.logMutex.Lock()
	defer d.logMutex.Unlock()
	return d.logTotal
}

// LogsSince returns the lines logged after the first n that are still
// kept.
func (d *Debugger) LogsSince(n int) []LogLine {
	d.logMutex.Lock()
	defer d.logMutex.Unlock()
	first := d.logTotal - len(d.logs)
	if n < first {
		n = first
	}
	if n >= d.logTotal {
		return nil
	}
	return append([]LogLine(nil), d.logs[n-first:]...)
}
