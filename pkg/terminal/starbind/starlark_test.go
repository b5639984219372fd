package starbind

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fgc/hmdd/pkg/proc"
	protest "github.com/fgc/hmdd/pkg/proc/test"
	"github.com/fgc/hmdd/service/debugger"
)

const base = 0xff0

type testContext struct {
	d          *debugger.Debugger
	calls      []string
	registered map[string]func(args string) error
}

func (ctx *testContext) Session() Session { return ctx.d }

func (ctx *testContext) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	ctx.registered[name] = cmdfn
}

func (ctx *testContext) CallCommand(cmdstr string) error {
	ctx.calls = append(ctx.calls, cmdstr)
	return nil
}

func newTestEnv(t *testing.T) (*Env, *testContext, *bytes.Buffer) {
	t.Helper()
	exe := protest.WriteExecutable(t, "int a;\nint b;\nint c;", elf.ET_EXEC,
		protest.LineRow{Addr: base, Line: 1},
		protest.LineRow{Addr: base + 0x10, Line: 2},
		protest.LineRow{Addr: base + 0x14, Line: 2},
		protest.LineRow{Addr: base + 0x18, Line: 3})
	p := protest.NewFakeProcess(proc.AMD64Arch, base, base+0x10, base+0x14, base+0x18)
	p.ExitCode = 7
	d, err := debugger.New(&debugger.Config{Path: exe, Launch: func(string) (proc.Process, error) { return p, nil }})
	require.NoError(t, err)
	ctx := &testContext{d: d, registered: map[string]func(string) error{}}
	out := new(bytes.Buffer)
	return New(ctx, out), ctx, out
}

func TestToggleAndCont(t *testing.T) {
	env, _, _ := newTestEnv(t)
	v, err := env.Execute("<script>", `
def main():
    r = toggle(2)
    s = cont()
    return (r.action, r.breakpoint.id, s.reason, s.line, s.pc)
`, "main", nil)
	require.NoError(t, err)
	require.Equal(t, `("added", 1, "trap", 2, 4096)`, v.String())
}

func TestStepNextState(t *testing.T) {
	env, ctx, _ := newTestEnv(t)
	v, err := env.Execute("<script>", `
def main():
    a = step().line
    b = next().line
    st = state()
    c = cont()
    return (a, b, st.state, st.line, c.kind, c.exit_code, c.line, state().state)
`, "main", nil)
	require.NoError(t, err)
	require.Equal(t, `(2, 3, "stopped", 3, "exited", 7, None, "exited")`, v.String())
	require.Equal(t, debugger.Exited, ctx.d.State())
}

func TestBreakpointsBuiltin(t *testing.T) {
	env, _, _ := newTestEnv(t)
	v, err := env.Execute("<script>", `
def main():
    toggle(3)
    toggle(2)
    return [(bp.line, bp.state) for bp in breakpoints()]
`, "main", nil)
	require.NoError(t, err)
	require.Equal(t, `[(2, "armed"), (3, "armed")]`, v.String())
}

func TestToggleError(t *testing.T) {
	env, ctx, _ := newTestEnv(t)
	_, err := env.Execute("<script>", "toggle(9)\n", "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid line 9")
	require.Empty(t, ctx.d.Breakpoints())
}

func TestDbgCommandAndUserCommands(t *testing.T) {
	env, ctx, _ := newTestEnv(t)
	_, err := env.Execute("<script>", `
def command_twice(args):
    "runs a command twice"
    dbg_command(args)
    dbg_command(args)

def command_at(line):
    dbg_command("break", str(line + 1))
`, "", nil)
	require.NoError(t, err)
	require.Contains(t, ctx.registered, "twice")
	require.Contains(t, ctx.registered, "at")

	require.NoError(t, ctx.registered["twice"]("next"))
	require.NoError(t, ctx.registered["at"]("1"))
	require.Equal(t, []string{"next", "next", "break 2"}, ctx.calls)
}

func TestExportedGlobals(t *testing.T) {
	env, _, _ := newTestEnv(t)
	_, err := env.Execute("<script>", "Limit = 3\nhidden = 4\n", "", nil)
	require.NoError(t, err)
	v, err := env.Execute("<script>", "def main():\n    return Limit\n", "main", nil)
	require.NoError(t, err)
	require.Equal(t, "3", v.String())
	_, err = env.Execute("<script>", "x = hidden\n", "", nil)
	require.Error(t, err)
}

func TestHelpAndPrint(t *testing.T) {
	env, _, out := newTestEnv(t)
	_, err := env.Execute("<script>", "help()\nhelp(toggle)\nprint('done')\n", "", nil)
	require.NoError(t, err)
	require.Contains(t, out.String(), "Available builtins:\n")
	require.Contains(t, out.String(), "\ttoggle\n")
	require.Contains(t, out.String(), "toggle(Line)\n\ntoggle sets or clears")
	require.Contains(t, out.String(), "done\n")
}

func TestMainArguments(t *testing.T) {
	env, _, _ := newTestEnv(t)
	_, err := env.Execute("<script>", "def main(a):\n    return a\n", "main", nil)
	require.EqualError(t, err, "wrong number of arguments for main")
}
