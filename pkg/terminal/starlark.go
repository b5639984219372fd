package terminal

import (
	"github.com/fgc/hmdd/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Session() starbind.Session {
	return ctx.term.session
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.register(name, helpMsg, func(t *Term, args string) error {
		return fn(args)
	})
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.Execute(cmdstr)
}
