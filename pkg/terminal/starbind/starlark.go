package starbind

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"runtime"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/memedit/memedit/pkg/logflags"
	"github.com/memedit/memedit/pkg/proc"
	"github.com/memedit/memedit/pkg/session"
)

const (
	memeditCommandBuiltinName = "memedit_command"
	readFileBuiltinName       = "read_file"
	writeFileBuiltinName      = "write_file"
	searchBuiltinName         = "search"
	refineBuiltinName         = "refine"
	updateBuiltinName         = "update"
	setBuiltinName            = "set"
	clearBuiltinName          = "clear"
	candidatesBuiltinName     = "candidates"
	regionsBuiltinName        = "regions"
	readBuiltinName           = "read"
	writeBuiltinName          = "write"
	dumpBuiltinName           = "dump"
	settingsBuiltinName       = "settings"
	helpBuiltinName           = "help"

	commandPrefix      = "command_"
	memeditContextName = "memedit_context"
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

// Context is the context in which starlark scripts are evaluated.
// It gives access to the editing session and to terminal commands.
type Context interface {
	Session() *session.Session
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
	out EchoWriter
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}

	// Make the "time" module available to Starlark scripts.
	starlark.Universe["time"] = startime.Module

	env.builtin(memeditCommandBuiltinName, "(Command)", "runs a terminal command.", env.memeditCommand)
	env.builtin(readFileBuiltinName, "(Path)", "reads a file.", readFile)
	env.builtin(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.", writeFile)
	env.builtin(searchBuiltinName, "(Value)", "scans the selected regions for Value and returns the number of matches.", env.search)
	env.builtin(refineBuiltinName, "(Value)", "keeps the candidates whose current value is Value and returns how many are left.", env.refine)
	env.builtin(updateBuiltinName, "()", "re-reads every candidate and returns how many are left.", env.update)
	env.builtin(setBuiltinName, "(Value)", "writes Value to every candidate and returns the number of successful writes.", env.set)
	env.builtin(clearBuiltinName, "()", "drops all candidates.", env.clear)
	env.builtin(candidatesBuiltinName, "()", "returns the candidates as a list of dicts with keys addr, value, region and kind.", env.candidates)
	env.builtin(regionsBuiltinName, "()", "returns the writable regions as a list of dicts.", env.regions)
	env.builtin(readBuiltinName, "(Addr, Len)", "reads Len bytes at Addr and returns them as a list of ints.", env.read)
	env.builtin(writeBuiltinName, "(Addr, Bytes)", "writes a list of byte values at Addr.", env.write)
	env.builtin(dumpBuiltinName, "(Addr, Len)", "returns a hex dump of Len bytes at Addr.", env.dump)
	env.builtin(settingsBuiltinName, "()", "returns the current width and data type.", env.settings)
	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", env.help)

	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
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
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
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
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	logflags.ScriptLogger().Debugf("executing %s", path)
	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			err := env.createCommand(name, val)
			if err != nil {
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
	thread.SetLocal(memeditContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]
	logflags.ScriptLogger().Debugf("registering command %q", name)

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
		argtuple := starlark.Tuple{}
		if strings.TrimSpace(args) != "" {
			argval, err := starlark.Eval(thread, "<input>", "("+args+",)", env.env)
			if err != nil {
				return err
			}
			argtuple = argval.(starlark.Tuple)
		}
		_, err := starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
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
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = interfaceToStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func (env *Env) memeditCommand(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	argstrs := make([]string, len(args))
	for i := range args {
		a, ok := args[i].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("argument of memedit_command is not a string")
		}
		argstrs[i] = string(a)
	}
	err := env.ctx.CallCommand(strings.Join(argstrs, " "))
	return starlark.None, decorateError(thread, err)
}

func readFile(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(readFileBuiltinName, args, kwargs, 1, &path); err != nil {
		return nil, decorateError(thread, err)
	}
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.String(string(buf)), nil
}

func writeFile(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 2 {
		return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, decorateError(thread, fmt.Errorf("first argument of write_file was not a string"))
	}
	text := args[1].String()
	if s, ok := args[1].(starlark.String); ok {
		text = string(s)
	}
	err := ioutil.WriteFile(string(path), []byte(text), 0640)
	return starlark.None, decorateError(thread, err)
}

func (env *Env) search(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	text, err := valueArg(b.Name(), args, kwargs)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	ctx, ok := thread.Local(memeditContextName).(context.Context)
	if !ok {
		ctx = context.Background()
	}
	n, _, err := env.ctx.Session().Scan(ctx, text)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeInt(n), nil
}

func (env *Env) refine(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	text, err := valueArg(b.Name(), args, kwargs)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	n, err := env.ctx.Session().Refine(text)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeInt(n), nil
}

func (env *Env) update(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, decorateError(thread, err)
	}
	if err := isCancelled(thread); err != nil {
		return nil, err
	}
	n, err := env.ctx.Session().Update()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeInt(n), nil
}

func (env *Env) set(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	text, err := valueArg(b.Name(), args, kwargs)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	results, err := env.ctx.Session().Set(text)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeInt(len(results) - len(proc.FailedWrites(results))), nil
}

func (env *Env) clear(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, decorateError(thread, err)
	}
	env.ctx.Session().Clear()
	return starlark.None, nil
}

func (env *Env) candidates(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, decorateError(thread, err)
	}
	cands := env.ctx.Session().Candidates()
	r := make([]starlark.Value, 0, len(cands))
	for _, c := range cands {
		r = append(r, candidateToStarlark(c))
	}
	return starlark.NewList(r), nil
}

func (env *Env) regions(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, decorateError(thread, err)
	}
	rm := env.ctx.Session().Regions()
	r := make([]starlark.Value, 0, rm.Len())
	for i, region := range rm.Regions() {
		r = append(r, regionToStarlark(i, region, rm.IsSelected(i)))
	}
	return starlark.NewList(r), nil
}

func (env *Env) read(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var addrv starlark.Value
	var n int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &addrv, &n); err != nil {
		return nil, decorateError(thread, err)
	}
	addr, err := toAddr(addrv)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	buf, err := env.ctx.Session().Read(addr, n)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return bytesToStarlark(buf), nil
}

func (env *Env) write(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var addrv, datav starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &addrv, &datav); err != nil {
		return nil, decorateError(thread, err)
	}
	addr, err := toAddr(addrv)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	data, err := starlarkToBytes(datav)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.None, decorateError(thread, env.ctx.Session().Write(addr, data))
}

func (env *Env) dump(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var addrv starlark.Value
	var n int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &addrv, &n); err != nil {
		return nil, decorateError(thread, err)
	}
	addr, err := toAddr(addrv)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	out, err := env.ctx.Session().Dump(addr, n)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.String(out), nil
}

func (env *Env) settings(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, decorateError(thread, err)
	}
	s := env.ctx.Session().Settings()
	d := starlark.NewDict(2)
	d.SetKey(starlark.String("width"), starlark.MakeInt(s.Width))
	d.SetKey(starlark.String("type"), starlark.String(s.Type.String()))
	return d, nil
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			switch value.(type) {
			case *starlark.Builtin:
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
	return starlark.None, nil
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(memeditContextName).(context.Context); ok {
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

// EchoWriter is the output of scripts. Echo receives the lines typed
// into the REPL.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}
