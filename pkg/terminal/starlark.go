package terminal

import (
	"github.com/memedit/memedit/pkg/session"
	"github.com/memedit/memedit/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Session() *session.Session {
	return ctx.term.sess
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, ctx callContext, args string) error {
		return fn(args)
	}
	ctx.term.cmds.Register(name, cmdfn, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
