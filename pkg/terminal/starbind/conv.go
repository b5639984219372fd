package starbind

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/fgc/hmdd/pkg/proc"
)

func structValue(fields starlark.StringDict) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, fields)
}

func uintValue(v uint64) starlark.Value {
	return starlark.MakeUint64(v)
}

// currentLine is the one based line the target is stopped at, or None.
func (env *Env) currentLine() starlark.Value {
	if line, ok := env.ctx.Session().CurrentLine(); ok {
		return starlark.MakeInt(line + 1)
	}
	return starlark.None
}

func (env *Env) stopValue(sr proc.StopResult) starlark.Value {
	fields := starlark.StringDict{
		"kind":      starlark.String(sr.Kind.String()),
		"reason":    starlark.String(sr.Reason.String()),
		"pc":        uintValue(sr.PC),
		"exit_code": starlark.MakeInt(sr.ExitCode),
		"signal":    starlark.MakeInt(int(sr.Signal)),
		"line":      starlark.None,
	}
	if sr.Kind != proc.Exited {
		fields["line"] = env.currentLine()
	}
	return structValue(fields)
}

func breakpointValue(bp *proc.Breakpoint) starlark.Value {
	return structValue(starlark.StringDict{
		"id":        starlark.MakeInt(bp.ID),
		"line":      starlark.MakeInt(bp.Line + 1),
		"addr":      uintValue(bp.Addr),
		"state":     starlark.String(bp.State.String()),
		"hit_count": starlark.MakeInt(bp.HitCount),
	})
}

func toggleResultValue(res proc.ToggleResult) starlark.Value {
	action := "added"
	if res.Action == proc.BreakpointRemoved {
		action = "removed"
	}
	return structValue(starlark.StringDict{
		"action":     starlark.String(action),
		"breakpoint": breakpointValue(res.Breakpoint),
	})
}
