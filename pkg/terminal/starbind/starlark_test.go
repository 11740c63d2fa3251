package starbind

import (
	"bytes"
	"strings"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/memedit/memedit/pkg/proc"
	protest "github.com/memedit/memedit/pkg/proc/test"
	"github.com/memedit/memedit/pkg/session"
)

type fakeContext struct {
	sess     *session.Session
	cmds     map[string]func(string) error
	called   []string
	callErr  error
	helpMsgs map[string]string
}

func (ctx *fakeContext) Session() *session.Session { return ctx.sess }

func (ctx *fakeContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.cmds[name] = fn
	ctx.helpMsgs[name] = helpMsg
}

func (ctx *fakeContext) CallCommand(cmdstr string) error {
	ctx.called = append(ctx.called, cmdstr)
	return ctx.callErr
}

type bufWriter struct {
	bytes.Buffer
}

func (w *bufWriter) Echo(string) {}
func (w *bufWriter) Flush()      {}

func newTestEnv(t *testing.T) (*Env, *fakeContext, *protest.FakeMemory, *bufWriter) {
	t.Helper()
	mem := protest.NewFakeMemory()
	mem.MapZero(0x1000, 0x100)
	regions := proc.NewRegionMap([]proc.MemoryRegion{
		{Start: 0x1000, End: 0x1100, Size: 0x100, Kind: proc.Heap, Writable: true, Perms: "rw-p", Path: "[heap]"},
	})
	sess, err := session.New(session.Config{Pid: 42, Mem: mem, Regions: regions})
	if err != nil {
		t.Fatal(err)
	}
	ctx := &fakeContext{sess: sess, cmds: map[string]func(string) error{}, helpMsgs: map[string]string{}}
	out := &bufWriter{}
	return New(ctx, out), ctx, mem, out
}

func TestScriptScanRefineSet(t *testing.T) {
	env, _, mem, out := newTestEnv(t)
	mem.Poke(0x1010, []byte{100, 0, 0, 0})
	mem.Poke(0x1040, []byte{100, 0, 0, 0})

	_, err := env.Execute("scan.star", `
def main():
	print(search(100))
	write(0x1040, [101, 0, 0, 0])
	print(refine(100))
	for c in candidates():
		print("0x%x" % c["addr"], c["value"], c["region"], c["kind"])
	print(set(250))
	print(read(0x1010, 4))
`, "main", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "2\n1\n0x1010 100 1 heap\n1\n[250, 0, 0, 0]\n"
	if out.String() != want {
		t.Fatalf("output mismatch:\n%q\n%q", out.String(), want)
	}
	if got := mem.Peek(0x1040, 4); !bytes.Equal(got, []byte{101, 0, 0, 0}) {
		t.Fatalf("write not applied: %v", got)
	}
}

func TestScriptSettingsAndRegions(t *testing.T) {
	env, ctx, _, out := newTestEnv(t)
	if err := ctx.sess.SetType(proc.Float); err != nil {
		t.Fatal(err)
	}
	_, err := env.Execute("settings.star", `
s = settings()
print(s["width"], s["type"])
r = regions()[0]
print(r["index"], "0x%x" % r["start"], "0x%x" % r["end"], r["kind"], r["path"], r["selected"])
`, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "4 float\n1 0x1000 0x1100 heap [heap] True\n"
	if out.String() != want {
		t.Fatalf("output mismatch:\n%q\n%q", out.String(), want)
	}
}

func TestScriptDump(t *testing.T) {
	env, _, mem, _ := newTestEnv(t)
	mem.Poke(0x1000, []byte("Hi"))
	v, err := env.Execute("dump.star", `
def main():
	return dump(0x1000, 2)
`, "main", nil)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := v.(starlark.String)
	if !ok || !strings.HasSuffix(string(s), "|  Hi\n") {
		t.Fatalf("unexpected dump %v", v)
	}
}

func TestScriptErrors(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	_, err := env.Execute("refine.star", "refine(1)\n", "", nil)
	if err == nil || !strings.Contains(err.Error(), proc.ErrNoCandidates.Error()) {
		t.Fatalf("refine without a scan: %v", err)
	}
	if !strings.Contains(err.Error(), "refine.star:1") {
		t.Fatalf("error does not mention the script position: %v", err)
	}

	for _, src := range []string{
		"write(0x1000, [256])\n",
		"write(0x1000, [])\n",
		"read(-1, 4)\n",
		"search([1])\n",
	} {
		if _, err := env.Execute("bad.star", src, "", nil); err == nil {
			t.Errorf("%q: expected an error", src)
		}
	}
}

func TestCommands(t *testing.T) {
	env, ctx, _, out := newTestEnv(t)
	_, err := env.Execute("cmds.star", `
def command_twice(a, b):
	"Prints both arguments."
	print(a, b)

def command_echo(args):
	print(args)

def main():
	memedit_command("select", "all")
`, "main", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.called) != 1 || ctx.called[0] != "select all" {
		t.Fatalf("unexpected commands called %q", ctx.called)
	}
	if ctx.helpMsgs["twice"] != "Prints both arguments." || ctx.helpMsgs["echo"] != "user defined" {
		t.Fatalf("unexpected help messages %v", ctx.helpMsgs)
	}
	if err := ctx.cmds["twice"](`1, "x"`); err != nil {
		t.Fatal(err)
	}
	if err := ctx.cmds["echo"]("raw text"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "1 x\nraw text\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestExportGlobals(t *testing.T) {
	env, _, _, out := newTestEnv(t)
	if _, err := env.Execute("a.star", "Answer = 42\nlocal = 1\n", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Execute("b.star", "print(Answer)\n", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Execute("c.star", "print(local)\n", "", nil); err == nil {
		t.Fatal("lower case globals should not be exported")
	}
	if out.String() != "42\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestCancel(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	thread := env.newThread()
	env.Cancel()
	if err := isCancelled(thread); err == nil {
		t.Fatal("thread not cancelled")
	}
}

func TestHelp(t *testing.T) {
	env, _, _, out := newTestEnv(t)
	if _, err := env.Execute("help.star", "help(search)\n", "", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "search(Value)\n\nsearch scans") {
		t.Fatalf("unexpected help %q", out.String())
	}
}

func TestEvalStmt(t *testing.T) {
	env, _, mem, out := newTestEnv(t)
	mem.Poke(0x1010, []byte{7, 0, 0, 0})

	thread := env.newThread()
	globals := starlark.StringDict{}
	for k, v := range env.env {
		globals[k] = v
	}
	for _, src := range []string{
		"x = 40 + 2",
		"x",
		"search(7)",
		"clear()",
		"undefined_name",
	} {
		lines := []string{src}
		f, err := syntax.ParseCompoundStmt("<stdin>", func() ([]byte, error) {
			if len(lines) == 0 {
				return nil, nil
			}
			line := lines[0]
			lines = lines[1:]
			return []byte(line + "\n"), nil
		})
		if err != nil {
			t.Fatalf("parsing %q: %v", src, err)
		}
		env.evalStmt(thread, f, globals)
	}

	got := out.String()
	if !strings.HasPrefix(got, "42\n1\n") {
		t.Fatalf("unexpected output %q", got)
	}
	if !strings.Contains(got, "undefined: undefined_name") {
		t.Fatalf("undefined name not reported: %q", got)
	}
	if _, ok := globals["x"]; !ok {
		t.Fatal("x not added to globals")
	}
}
