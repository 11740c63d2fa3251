package starbind

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-delve/liner"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	replPrompt     = ">>> "
	replContPrompt = "... "
	replExit       = "exit"
)

// REPL reads starlark statements from the terminal and evaluates them
// until the user types exit or closes the input. Globals defined at the
// prompt are exported the same way as the ones of a sourced script.
func (env *Env) REPL() error {
	thread := env.newThread()
	globals := make(starlark.StringDict, len(env.env))
	for k, v := range env.env {
		globals[k] = v
	}

	rl := liner.NewLiner()
	defer rl.Close()
	r := &replReader{rl: rl, out: env.out}
	for {
		if err := isCancelled(thread); err != nil {
			return err
		}
		f, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			printError(env.out, err)
			continue
		}
		env.evalStmt(thread, f, globals)
		env.out.Flush()
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(globals)
}

// replReader feeds lines typed at the prompt to the starlark parser. The
// first line of a statement gets replPrompt, continuation lines get
// replContPrompt.
type replReader struct {
	rl     *liner.State
	out    EchoWriter
	prompt string
	eof    bool
}

func (r *replReader) readLine() ([]byte, error) {
	line, err := r.rl.Prompt(r.prompt)
	r.out.Echo(r.prompt + line)
	r.prompt = replContPrompt
	if err != nil {
		if err == io.EOF {
			r.eof = true
		}
		return nil, err
	}
	if strings.TrimSpace(line) == replExit {
		r.eof = true
		return nil, io.EOF
	}
	r.rl.AppendHistory(line)
	return []byte(line + "\n"), nil
}

// next parses one statement. It returns io.EOF when the session is over.
func (r *replReader) next() (*syntax.File, error) {
	r.prompt = replPrompt
	f, err := syntax.ParseCompoundStmt("<stdin>", r.readLine)
	if r.eof {
		return nil, io.EOF
	}
	return f, err
}

// evalStmt runs f against globals. A lone expression is evaluated and its
// value printed; anything else is executed and the names it defines are
// added to globals, even if execution failed halfway.
func (env *Env) evalStmt(thread *starlark.Thread, f *syntax.File, globals starlark.StringDict) {
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			v, err := starlark.EvalExpr(thread, stmt.X, globals)
			if err != nil {
				printError(env.out, err)
				return
			}
			if v != starlark.None {
				fmt.Fprintln(env.out, v)
			}
			return
		}
	}

	prog, err := starlark.FileProgram(f, globals.Has)
	if err != nil {
		printError(env.out, err)
		return
	}
	res, err := prog.Init(thread, globals)
	if err != nil {
		printError(env.out, err)
	}
	for k, v := range res {
		globals[k] = v
	}
}

// printError prints err, with a backtrace for evaluation errors.
func printError(out io.Writer, err error) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		fmt.Fprintln(out, evalErr.Backtrace())
		return
	}
	fmt.Fprintln(out, err)
}
