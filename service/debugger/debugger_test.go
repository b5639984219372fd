package debugger

import (
	"debug/elf"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fgc/hmdd/pkg/proc"
	protest "github.com/fgc/hmdd/pkg/proc/test"
)

const (
	threeLines = "int a;\nint b;\nint c;"
	// line 0 is at base, line 1 at base+0x10 and base+0x14, line 2 at
	// base+0x18
	base = 0xff0
)

func writeExecutable(t *testing.T, src string, typ elf.Type) string {
	return protest.WriteExecutable(t, src, typ,
		protest.LineRow{Addr: base, Line: 1},
		protest.LineRow{Addr: base + 0x10, Line: 2},
		protest.LineRow{Addr: base + 0x14, Line: 2},
		protest.LineRow{Addr: base + 0x18, Line: 3})
}

// fakeTarget returns a process executing the instructions of the
// executable written by writeExecutable, loaded at bias.
func fakeTarget(bias uint64) *protest.FakeProcess {
	p := protest.NewFakeProcess(proc.AMD64Arch, bias+base, bias+base+0x10, bias+base+0x14, bias+base+0x18)
	p.ExitCode = 7
	for i := uint64(0); i < 0x20; i++ {
		p.Mem[bias+base+i] = 0x90
	}
	return p
}

func newTestDebugger(t *testing.T, src string, p *protest.FakeProcess, cfg Config) *Debugger {
	t.Helper()
	cfg.Path = writeExecutable(t, src, elf.ET_EXEC)
	cfg.Launch = func(string) (proc.Process, error) { return p, nil }
	d, err := New(&cfg)
	require.NoError(t, err)
	require.Equal(t, Ready, d.State())
	return d
}

func lastLog(d *Debugger) LogLine {
	logs := d.Logs()
	return logs[len(logs)-1]
}

func TestBreakpointRoundTrip(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{})
	require.Equal(t, 3, d.Lines().Len())

	res, err := d.ToggleBreakpoint(1)
	require.NoError(t, err)
	require.Equal(t, proc.BreakpointAdded, res.Action)
	require.Equal(t, byte(0xCC), p.Mem[0x1000])

	sr, err := d.Command(Continue)
	require.NoError(t, err)
	require.Equal(t, proc.StopTrap, sr.Reason)
	require.Equal(t, uint64(0x1000), sr.PC)
	require.Equal(t, Stopped, d.State())
	require.Equal(t, LogLine{LogStatus, "stopped at breakpoint 1, line 2"}, lastLog(d))
	require.Equal(t, 1, res.Breakpoint.HitCount)
	line, ok := d.CurrentLine()
	require.True(t, ok)
	require.Equal(t, 1, line)

	res, err = d.ToggleBreakpoint(1)
	require.NoError(t, err)
	require.Equal(t, proc.BreakpointRemoved, res.Action)
	require.Equal(t, byte(0x90), p.Mem[0x1000])

	sr, err = d.Command(Continue)
	require.NoError(t, err)
	require.Equal(t, proc.Exited, sr.Kind)
	require.Equal(t, 7, sr.ExitCode)
	require.Equal(t, Exited, d.State())
	require.Equal(t, LogLine{LogStatus, "process 4242 has exited with status 7"}, lastLog(d))

	_, err = d.Command(Continue)
	require.True(t, errors.Is(err, ErrProcessExited))
	require.Equal(t, LogError, lastLog(d).Kind)
}

func TestToggleUnresolvedLine(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines+"\n", p, Config{})
	require.Equal(t, 4, d.Lines().Len())

	_, err := d.ToggleBreakpoint(3)
	var unresolved *proc.UnresolvedLineError
	require.True(t, errors.As(err, &unresolved))
	require.Empty(t, d.Breakpoints())
	require.Equal(t, LogLine{LogError, "no code at line 4"}, lastLog(d))
	require.Equal(t, Ready, d.State())

	_, err = d.ToggleBreakpoint(10)
	var invalid *proc.InvalidLineError
	require.True(t, errors.As(err, &invalid))
}

func TestBadPath(t *testing.T) {
	launched := false
	d, err := New(&Config{
		Path: filepath.Join(t.TempDir(), "missing"),
		Launch: func(string) (proc.Process, error) {
			launched = true
			return nil, errors.New("unreachable")
		},
	})
	require.Nil(t, d)
	require.True(t, errors.Is(err, proc.ErrCannotOpen), "got %v", err)
	require.False(t, launched)
}

func TestLaunchError(t *testing.T) {
	exe := writeExecutable(t, threeLines, elf.ET_EXEC)
	_, err := New(&Config{
		Path: exe,
		Launch: func(string) (proc.Process, error) {
			return nil, &proc.ProcessError{Kind: proc.ForkFailed, Op: "fork"}
		},
	})
	require.True(t, errors.Is(err, proc.ErrForkFailed), "got %v", err)
}

func TestContinueStepsOverBreakpoint(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{})

	_, err := d.ToggleBreakpoint(0)
	require.NoError(t, err)
	_, err = d.ToggleBreakpoint(2)
	require.NoError(t, err)

	// stopped on the breakpoint of line 0 at launch
	sr, err := d.Command(Continue)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1008), sr.PC)
	require.Equal(t, 1, p.Steps)
	require.Equal(t, byte(0xCC), p.Mem[base], "breakpoint rearmed after stepping over it")

	sr, err = d.Command(Continue)
	require.NoError(t, err)
	require.Equal(t, proc.Exited, sr.Kind)
}

func TestStepInstruction(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{})
	_, err := d.ToggleBreakpoint(1)
	require.NoError(t, err)

	sr, err := d.Command(StepInstruction)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), sr.PC)
	require.Equal(t, byte(0xCC), p.Mem[0x1000])
	require.Equal(t, LogLine{LogStatus, "stopped at line 2, pc 0x1000"}, lastLog(d))

	// continuing from the breakpoint address does not hit it again
	sr, err = d.Command(Continue)
	require.NoError(t, err)
	require.Equal(t, proc.Exited, sr.Kind)
	require.Equal(t, 0, d.Breakpoints()[0].HitCount)
}

func TestNext(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{})

	sr, err := d.Command(Next)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), sr.PC)
	require.Equal(t, 1, p.Steps)

	sr, err = d.Command(Next)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1008), sr.PC)
	require.Equal(t, 3, p.Steps)
	line, _ := d.CurrentLine()
	require.Equal(t, 2, line)

	sr, err = d.Command(Next)
	require.NoError(t, err)
	require.Equal(t, proc.Exited, sr.Kind)
}

func TestNextLimit(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{MaxStepLines: 1})
	_, err := d.Command(Next)
	require.NoError(t, err)

	sr, err := d.Command(Next)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1004), sr.PC)
	found := false
	for _, l := range d.Logs() {
		if strings.Contains(l.Text, "step limit") {
			found = true
		}
	}
	require.True(t, found)
}

func TestToggleWhileRunning(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{})
	d.setRunning(true)
	_, err := d.ToggleBreakpoint(1)
	require.Equal(t, ErrProcessRunning, err)
	d.setRunning(false)
	require.Empty(t, d.Breakpoints())
	require.Zero(t, p.Writes)
}

func TestPIEBias(t *testing.T) {
	const bias = 0x555555554000
	p := fakeTarget(bias)
	exe := writeExecutable(t, threeLines, elf.ET_DYN)
	d, err := New(&Config{Path: exe, Launch: func(string) (proc.Process, error) { return p, nil }})
	require.NoError(t, err)

	res, err := d.ToggleBreakpoint(1)
	require.NoError(t, err)
	require.Equal(t, uint64(bias+0x1000), res.Breakpoint.Addr)
	require.Equal(t, byte(0xCC), p.Mem[bias+0x1000])

	sr, err := d.Command(Continue)
	require.NoError(t, err)
	require.Equal(t, uint64(bias+0x1000), sr.PC)
	line, ok := d.CurrentLine()
	require.True(t, ok)
	require.Equal(t, 1, line)
}

func TestProcessErrorKeepsSession(t *testing.T) {
	p := fakeTarget(0)
	p.Valid = func(addr uint64) bool { return addr < 0x1000 }
	d := newTestDebugger(t, threeLines, p, Config{})

	_, err := d.ToggleBreakpoint(1)
	require.True(t, errors.Is(err, proc.ErrInvalidAddress), "got %v", err)
	require.Equal(t, Ready, d.State())
	require.Equal(t, LogError, lastLog(d).Kind)

	_, err = d.ToggleBreakpoint(0)
	require.NoError(t, err)
}

func TestDetachClearsBreakpoints(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{})
	_, err := d.ToggleBreakpoint(1)
	require.NoError(t, err)
	require.NoError(t, d.Detach(false))
	require.Equal(t, byte(0x90), p.Mem[0x1000])
	require.Equal(t, Exited, d.State())
	require.Equal(t, proc.Exited, p.State().Kind)
	require.Zero(t, p.State().Signal)
}

func TestSessionLog(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{LogLines: 3})
	require.Equal(t, 1, d.LogCount())

	d.AppendOutput("hello ")
	require.Equal(t, 1, d.LogCount())
	d.AppendOutput("world\r\nsecond\nthi")
	require.Equal(t, 3, d.LogCount())
	d.AppendOutput("rd\n")

	require.Equal(t, 4, d.LogCount())
	logs := d.Logs()
	require.Len(t, logs, 3)
	require.Equal(t, []LogLine{
		{LogOutput, "hello world"},
		{LogOutput, "second"},
		{LogOutput, "third"},
	}, logs)

	require.Equal(t, logs, d.LogsSince(0))
	require.Equal(t, logs[2:], d.LogsSince(3))
	require.Nil(t, d.LogsSince(4))
}

func TestQuit(t *testing.T) {
	d := newTestDebugger(t, threeLines, fakeTarget(0), Config{})
	require.False(t, d.Quitting())
	d.Quit()
	require.True(t, d.Quitting())
}

func TestNextStopsAtBreakpoint(t *testing.T) {
	// line 1 loops back to its first instruction
	p := protest.NewFakeProcess(proc.AMD64Arch, base, base+0x10, base+0x14, base+0x10, base+0x18)
	for i := uint64(0); i < 0x20; i++ {
		p.Mem[base+i] = 0x90
	}
	d := newTestDebugger(t, threeLines, p, Config{MaxStepLines: 50})

	res, err := d.ToggleBreakpoint(1)
	require.NoError(t, err)
	sr, err := d.Command(Continue)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), sr.PC)
	require.Equal(t, 1, res.Breakpoint.HitCount)
	steps := p.Steps

	sr, err = d.Command(Next)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), sr.PC)
	require.Equal(t, 2, p.Steps-steps)
	require.Equal(t, 2, res.Breakpoint.HitCount)
	require.Equal(t, byte(0xCC), p.Mem[0x1000])
	require.Equal(t, LogLine{LogStatus, "stopped at breakpoint 1, line 2"}, lastLog(d))
	for _, l := range d.Logs() {
		require.NotContains(t, l.Text, "step limit")
	}
}

func TestFailedRearmKeepsStopPC(t *testing.T) {
	p := fakeTarget(0)
	d := newTestDebugger(t, threeLines, p, Config{})
	_, err := d.ToggleBreakpoint(2)
	require.NoError(t, err)

	// memory becomes unwritable once the target has moved
	p.Valid = func(uint64) bool { return p.Steps == 0 }
	_, err = d.Command(StepInstruction)
	require.True(t, errors.Is(err, proc.ErrInvalidAddress), "got %v", err)
	require.Equal(t, uint64(0x1000), d.LastStop().PC)
	require.Equal(t, Stopped, d.State())
	line, ok := d.CurrentLine()
	require.True(t, ok)
	require.Equal(t, 1, line)
}
