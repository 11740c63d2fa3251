package terminal

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// getColorableWriter returns stdout wrapped so that ANSI escapes work on
// every platform.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}

// isDumbTerminal reports whether output should be plain text: stdout is
// not a terminal or TERM says it can not handle escapes.
func isDumbTerminal() bool {
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return true
	}
	return !isatty.IsTerminal(os.Stdout.Fd())
}

// pagingWriter writes to w. If PageMaybe is called, after a large amount of
// text has been written to w it will pipe the output to a pager instead.
type pagingWriter struct {
	mode     pagingWriterMode
	w        io.Writer
	buf      []byte
	cmd      *exec.Cmd
	cmdStdin io.WriteCloser
	pager    string
	lastnl   bool
	cancel   func()

	lines, columns int
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

func (w *pagingWriter) Write(p []byte) (nn int, err error) {
	switch w.mode {
	default:
		fallthrough
	case pagingWriterNormal:
		return w.w.Write(p)
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if !w.largeOutput() {
			if len(p) > 0 {
				w.lastnl = p[len(p)-1] == '\n'
			}
			return w.w.Write(p)
		}
		w.cmd = exec.Command(w.pager)
		w.cmd.Stdout = os.Stdout
		w.cmd.Stderr = os.Stderr

		var err1, err2 error
		w.cmdStdin, err1 = w.cmd.StdinPipe()
		err2 = w.cmd.Start()
		if err1 != nil || err2 != nil {
			w.cmd = nil
			w.mode = pagingWriterNormal
			return w.w.Write(p)
		}
		if !w.lastnl {
			w.w.Write([]byte("\n"))
		}
		w.w.Write([]byte("Sending output to pager...\n"))
		w.cmdStdin.Write(w.buf)
		w.buf = nil
		w.mode = pagingWriterPaging
		return len(p), nil
	case pagingWriterPaging:
		n, err := w.cmdStdin.Write(p)
		if err != nil && w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		return n, err
	}
}

// Reset returns the pagingWriter to its normal mode.
func (w *pagingWriter) Reset() {
	if w.mode == pagingWriterNormal {
		return
	}
	w.mode = pagingWriterNormal
	w.buf = nil
	if w.cmd != nil {
		w.cmdStdin.Close()
		w.cmd.Wait()
		w.cmd = nil
		w.cmdStdin = nil
	}
}

// PageMaybe configures pagingWriter to cache the output, after a large
// amount of text has been written to w it will automatically switch to
// piping output to a pager.
// The cancel function is called the first time a write to the pager errors.
func (w *pagingWriter) PageMaybe(cancel func()) {
	if w.mode != pagingWriterNormal {
		return
	}
	pager := os.Getenv("MEMEDIT_PAGER")
	if pager == "" {
		if stdout, _ := w.w.(*os.File); stdout == nil || isDumbTerminal() {
			return
		}
	}
	w.mode = pagingWriterMaybe
	w.pager = pager
	if w.pager == "" {
		w.pager = os.Getenv("PAGER")
		if w.pager == "" {
			w.pager = "more"
		}
	}
	w.lastnl = true
	w.cancel = cancel
	w.getWindowSize()
}

func (w *pagingWriter) largeOutput() bool {
	lines := 0
	lineStart := 0
	for i := range w.buf {
		if i-lineStart > w.columns || w.buf[i] == '\n' {
			lineStart = i
			lines++
			if lines > w.lines {
				return true
			}
		}
	}
	return false
}

// Echo is called with lines the user typed into the starlark REPL, the
// terminal already shows them.
func (w *pagingWriter) Echo(string) {}

// Flush is called after every statement of the starlark REPL.
func (w *pagingWriter) Flush() {}
