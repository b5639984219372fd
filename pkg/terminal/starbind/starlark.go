package starbind

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/fgc/hmdd/pkg/proc"
	"github.com/fgc/hmdd/service/debugger"
)

const (
	dbgCommandBuiltinName = "dbg_command"
	toggleBuiltinName     = "toggle"
	contBuiltinName       = "cont"
	stepBuiltinName       = "step"
	nextBuiltinName       = "next"
	stateBuiltinName      = "state"
	breakpointsName       = "breakpoints"
	readFileBuiltinName   = "read_file"
	helpBuiltinName       = "help"
	commandPrefix         = "command_"
	dbgContextName        = "dbg_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Session is the part of the debugger scripts can drive.
type Session interface {
	State() debugger.State
	ProcessPid() int
	CurrentLine() (int, bool)
	LastStop() proc.StopResult
	Breakpoints() []*proc.Breakpoint
	ToggleBreakpoint(line int) (proc.ToggleResult, error)
	Command(name debugger.CommandName) (proc.StopResult, error)
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Session() Session
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out io.Writer
}

// New creates a new starlark binding environment. Line numbers seen by
// scripts are one based, like the ones printed by the terminal.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}

	env.builtin(dbgCommandBuiltinName, "(Command)", "executes a terminal command, for example dbg_command(\"break 3\").", func(thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of %s is not a string", dbgCommandBuiltinName)
			}
			argstrs[i] = string(a)
		}
		return starlark.None, env.ctx.CallCommand(strings.Join(argstrs, " "))
	})

	env.builtin(toggleBuiltinName, "(Line)", "sets or clears the breakpoint at Line and returns it.", func(thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments")
		}
		line, err := starlark.AsInt32(args[0])
		if err != nil {
			return nil, fmt.Errorf("argument of %s is not a line number: %v", toggleBuiltinName, err)
		}
		res, err := env.ctx.Session().ToggleBreakpoint(line - 1)
		if err != nil {
			return nil, err
		}
		return toggleResultValue(res), nil
	})

	resume := func(name debugger.CommandName) func(*starlark.Thread, starlark.Tuple) (starlark.Value, error) {
		return func(thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
			if len(args) != 0 {
				return nil, fmt.Errorf("wrong number of arguments")
			}
			sr, err := env.ctx.Session().Command(name)
			if err != nil {
				return nil, err
			}
			return env.stopValue(sr), nil
		}
	}
	env.builtin(contBuiltinName, "()", "continues the target until it hits a breakpoint or exits. Returns the stop.", resume(debugger.Continue))
	env.builtin(stepBuiltinName, "()", "executes a single instruction. Returns the stop.", resume(debugger.StepInstruction))
	env.builtin(nextBuiltinName, "()", "steps to the next source line. Returns the stop.", resume(debugger.Next))

	env.builtin(stateBuiltinName, "()", "returns the state of the session.", func(thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
		s := env.ctx.Session()
		return structValue(starlark.StringDict{
			"state": starlark.String(s.State().String()),
			"pid":   starlark.MakeInt(s.ProcessPid()),
			"line":  env.currentLine(),
			"stop":  env.stopValue(s.LastStop()),
		}), nil
	})

	env.builtin(breakpointsName, "()", "returns the list of breakpoints.", func(thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
		bps := env.ctx.Session().Breakpoints()
		r := make([]starlark.Value, len(bps))
		for i := range bps {
			r[i] = breakpointValue(bps[i])
		}
		return starlark.NewList(r), nil
	})

	env.builtin(readFileBuiltinName, "(Path)", "reads a file.", func(thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments")
		}
		path, ok := args[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("argument of %s was not a string", readFileBuiltinName)
		}
		buf, err := os.ReadFile(string(path))
		if err != nil {
			return nil, err
		}
		return starlark.String(buf), nil
	})

	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", func(_ *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
		env.help(args)
		return starlark.None, nil
	})

	return env
}

type builtinFn func(thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error)

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		v, err := fn(thread, args)
		return v, decorateError(thread, err)
	})
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

func (env *Env) help(args starlark.Tuple) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); ok {
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will
// be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []starlark.Value) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			if fn := runtime.FuncForPC(pc); fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	if err := env.exportGlobals(globals); err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_".
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			if err := env.createCommand(name, val); err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(dbgContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []starlark.Value) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	return starlark.Call(thread, mainfn, starlark.Tuple(args), nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(dbgContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %w", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %w", pos.Filename(), pos.Line, err)
}
