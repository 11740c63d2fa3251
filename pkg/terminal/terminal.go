package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/memedit/memedit/pkg/config"
	"github.com/memedit/memedit/pkg/logflags"
	"github.com/memedit/memedit/pkg/proc"
	"github.com/memedit/memedit/pkg/session"
	"github.com/memedit/memedit/pkg/terminal/starbind"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

// Term represents the terminal running memedit.
type Term struct {
	sess     *session.Session
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   *pagingWriter
	InitFile string

	starlarkEnv *starbind.Env

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New returns a new Term.
func New(sess *session.Session, conf *config.Config) *Term {
	cmds := MemeditCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := isDumbTerminal()
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if !validColor(conf.AddressColor) {
		conf.AddressColor = ansiBlue
	}

	t := &Term{
		sess:   sess,
		conf:   conf,
		prompt: fmt.Sprintf("(memedit %d) ", sess.Pid()),
		cmds:   cmds,
		dumb:   dumb,
		stdout: &pagingWriter{w: w},
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// sigintGuard cancels the running command, if any. At the prompt SIGINT
// is handled by liner.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		t.cancelMu.Lock()
		cancel := t.cancel
		t.cancelMu.Unlock()
		if cancel != nil {
			fmt.Fprintln(os.Stderr, "received SIGINT, cancelling command")
			cancel()
		}
	}
}

// commandContext returns the context for a single command. It is
// cancelled by SIGINT or when the command returns.
func (t *Term) commandContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelMu.Lock()
	outer := t.cancel
	if outer != nil {
		// Commands run by scripts are cancelled with the command that
		// started the script.
		t.cancel = func() { outer(); cancel() }
	} else {
		t.cancel = cancel
	}
	t.cancelMu.Unlock()
	return ctx, func() {
		t.cancelMu.Lock()
		t.cancel = outer
		t.cancelMu.Unlock()
		cancel()
	}
}

// Run begins running memedit in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line = liner.NewLiner()
	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.cmds.complete)

	t.loadHistory()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.sourceFile(t, t.InitFile)
		if err != nil {
			if status, done := t.handleCommandError(err); done {
				return status, nil
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, errors.New("prompt for input failed")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if status, done := t.handleCommandError(err); done {
				return status, nil
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// handleCommandError reports whether err ends the session, and with which
// exit status.
func (t *Term) handleCommandError(err error) (int, bool) {
	if _, ok := err.(ExitRequestError); ok {
		status, _ := t.handleExit()
		return status, true
	}
	if errors.Is(err, proc.ErrProcessExited) {
		fmt.Fprintln(os.Stderr, err)
		t.handleExit()
		return 1, true
	}
	return 0, false
}

// Println prints a line to the terminal, highlighting prefix.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.highlight(prefix), str)
}

func (t *Term) highlight(s string) string {
	if t.dumb {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, t.conf.AddressColor) + s + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) loadHistory() {
	fullHistoryFile, err := t.conf.GetHistoryFilePath()
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
		return
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
			return
		}
	}

	t.line.ReadHistory(f)
	f.Close()
}

func (t *Term) handleExit() (int, error) {
	if t.line == nil {
		return 0, nil
	}
	fullHistoryFile, err := t.conf.GetHistoryFilePath()
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return 0, nil
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
		_, err = t.line.WriteHistory(f)
		if err != nil {
			fmt.Println("readline history error:", err)
		}
		f.Close()
	}
	logflags.TerminalLogger().Debugf("session for %d closed", t.sess.Pid())
	return 0, nil
}
