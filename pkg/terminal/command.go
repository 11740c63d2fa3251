// Package terminal implements functions for responding to user
// input and dispatching to the editing session.
package terminal

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/dustin/go-humanize"

	"github.com/memedit/memedit/pkg/logflags"
	"github.com/memedit/memedit/pkg/proc"
)

const defaultDumpLen = 64

type callContext struct {
	// Ctx is cancelled when the user interrupts the command.
	Ctx context.Context
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the memedit terminal.
type Commands struct {
	cmds []command
	// names completes command names, rebuilt after aliases change.
	names *trie.Trie
}

// MemeditCommands returns a Commands struct with default commands defined.
func MemeditCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"regions", "list-regions", "lr"}, group: regionCmds, cmdFn: regions, helpMsg: `Lists the writable memory regions of the process.

	regions

Selected regions, the ones searched by the search command, are marked with *.`},
		{aliases: []string{"select"}, group: regionCmds, cmdFn: selectRegions, helpMsg: `Selects memory regions.

	select <index>...
	select all

All regions are selected when the session starts. Indices are the ones shown by the regions command.`},
		{aliases: []string{"deselect"}, group: regionCmds, cmdFn: deselectRegions, helpMsg: `Deselects memory regions.

	deselect <index>...
	deselect all

Deselected regions are not searched.`},
		{aliases: []string{"search", "scan"}, group: scanCmds, cmdFn: search, helpMsg: `Searches the selected regions for a value.

	search <value>

The value is interpreted according to the current options (see the options command).
Integers are unsigned, in decimal unless prefixed by 0x, 0o or 0b. Strings can be
quoted to include spaces. The matches replace the current candidates.`},
		{aliases: []string{"refine"}, group: scanCmds, cmdFn: refine, helpMsg: `Keeps the candidates that currently hold a value.

	refine <value>

Each candidate is read again and dropped if it does not hold the value. Not available for strings.`},
		{aliases: []string{"update"}, group: scanCmds, cmdFn: update, helpMsg: `Reads the current value of every candidate.

	update`},
		{aliases: []string{"list", "ls"}, group: scanCmds, cmdFn: list, helpMsg: `Lists the candidates.

	list [<max>]

Prints the address of every candidate, the value last read there and the region containing it.`},
		{aliases: []string{"clear"}, group: scanCmds, cmdFn: clearCandidates, helpMsg: `Drops all candidates.

	clear`},
		{aliases: []string{"set"}, group: dataCmds, cmdFn: set, helpMsg: `Writes a value to every candidate.

	set <value>

Writes are independent of each other: every address that could not be written is reported. Not available for strings.`},
		{aliases: []string{"write"}, group: dataCmds, cmdFn: write, helpMsg: `Writes bytes to memory.

	write <address> <byte>...

The address and the bytes are hexadecimal, for example:

	write 7ffd5c9a1f20 de ad be ef`},
		{aliases: []string{"dump", "x"}, group: dataCmds, cmdFn: dump, helpMsg: `Prints a hex dump of memory.

	dump <address> [<length>]

The address is hexadecimal. Length defaults to 64 bytes and is limited by the max-dump-len configuration option.`},
		{aliases: []string{"options", "opt"}, cmdFn: options, helpMsg: `Shows or changes the value options.

	options
	options width <1|2|4|8>
	options type <int|float|string>

set_int_width and set_dtype are accepted in place of width and type. Floats
need a width of 4 or 8. Changing the type drops the candidates.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of memedit commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.
If path is a single '-' character an interactive starlark interpreter will start instead.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit memedit.

	exit`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	c.names = nil
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := strings.ToLower(vals[0])
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	logflags.TerminalLogger().Debugf("command %q args %q", cmdname, args)
	return c.Find(cmdname)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	cctx, done := t.commandContext()
	defer done()
	defer t.stdout.Reset()
	return c.CallWithContext(cmdstr, t, callContext{Ctx: cctx})
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	c.names = nil
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// complete returns the command names starting with line.
func (c *Commands) complete(line string) []string {
	if strings.ContainsRune(line, ' ') {
		return nil
	}
	if c.names == nil {
		c.names = trie.New()
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				c.names.Add(alias, nil)
			}
		}
	}
	r := c.names.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func usageError(cmdname string) error {
	return &proc.UserInputError{Msg: fmt.Sprintf("wrong number of arguments, see \"help %s\"", cmdname)}
}

// splitArgs splits a command's arguments the way a shell would, without
// expansions.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// singleArg returns the only argument of cmdname.
func singleArg(cmdname, args string) (string, error) {
	v, err := splitArgs(args)
	if err != nil {
		return "", err
	}
	if len(v) != 1 {
		return "", usageError(cmdname)
	}
	return v[0], nil
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, &proc.UserInputError{Msg: fmt.Sprintf("invalid address %q", s)}
	}
	return addr, nil
}

func (t *Term) formatAddr(addr uint64) string {
	return "0x" + strings.ToUpper(strconv.FormatUint(addr, 16))
}

func regions(t *Term, ctx callContext, args string) error {
	rm := t.sess.Regions()
	if rm.Len() == 0 {
		fmt.Fprintln(t.stdout, "No writable regions found.")
		return nil
	}
	t.stdout.PageMaybe(nil)
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "idx\t\trange\tsize\tkind\tperms\tpath")
	for i, r := range rm.Regions() {
		mark := " "
		if rm.IsSelected(i) {
			mark = "*"
		}
		fmt.Fprintf(w, "[%d]\t%s\t%s\t%d (%s)\t%s\t%s\t%s\n", i+1, mark, t.highlight(r.String()), r.Size, humanize.IBytes(r.Size), r.Kind, r.Perms, r.Path)
	}
	return w.Flush()
}

// parseRegionIndices converts 1-based region indices to 0-based ones.
func parseRegionIndices(t *Term, cmdname, args string) ([]int, error) {
	v, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, usageError(cmdname)
	}
	if len(v) == 1 && v[0] == "all" {
		r := make([]int, t.sess.Regions().Len())
		for i := range r {
			r[i] = i
		}
		return r, nil
	}
	r := make([]int, 0, len(v))
	for _, s := range v {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, &proc.UserInputError{Msg: fmt.Sprintf("invalid region index %q", s)}
		}
		r = append(r, n-1)
	}
	return r, nil
}

func selectRegions(t *Term, ctx callContext, args string) error {
	idxs, err := parseRegionIndices(t, "select", args)
	if err != nil {
		return err
	}
	all := args == "all"
	for _, i := range idxs {
		changed, err := t.sess.Regions().Select(i)
		if err != nil {
			return err
		}
		if !changed && !all {
			fmt.Fprintf(t.stdout, "Region %d already selected.\n", i+1)
		}
	}
	return nil
}

func deselectRegions(t *Term, ctx callContext, args string) error {
	idxs, err := parseRegionIndices(t, "deselect", args)
	if err != nil {
		return err
	}
	rm := t.sess.Regions()
	for _, i := range idxs {
		if args == "all" && !rm.IsSelected(i) {
			continue
		}
		if err := rm.Deselect(i); err != nil {
			return err
		}
	}
	return nil
}

func search(t *Term, ctx callContext, args string) error {
	value, err := singleArg("search", args)
	if err != nil {
		return err
	}
	n, stats, err := t.sess.Scan(ctx.Ctx, value)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Found %d matches.\n", n)
	if stats.Skipped > 0 {
		fmt.Fprintf(t.stdout, "Skipped %s of unreadable memory.\n", humanize.IBytes(stats.Skipped))
	}
	return nil
}

func refine(t *Term, ctx callContext, args string) error {
	value, err := singleArg("refine", args)
	if err != nil {
		return err
	}
	n, err := t.sess.Refine(value)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Found %d matches.\n", n)
	return nil
}

func update(t *Term, ctx callContext, args string) error {
	if args != "" {
		return usageError("update")
	}
	n, err := t.sess.Update()
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Updated %d values.\n", n)
	return nil
}

func list(t *Term, ctx callContext, args string) error {
	limit := -1
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return &proc.UserInputError{Msg: fmt.Sprintf("invalid maximum %q", args)}
		}
		limit = n
	}
	if t.sess.Count() == 0 {
		return proc.ErrNoCandidates
	}
	t.stdout.PageMaybe(nil)
	cands := t.sess.Candidates()
	for i, c := range cands {
		if i == limit {
			fmt.Fprintf(t.stdout, "(%d more)\n", len(cands)-limit)
			break
		}
		if ctx.Ctx.Err() != nil {
			return ctx.Ctx.Err()
		}
		where := "outside of any region"
		if c.Region >= 0 {
			where = fmt.Sprintf("at region %d (%s)", c.Region+1, c.Kind)
		}
		t.Println(t.formatAddr(c.Addr), fmt.Sprintf(": %s %s", c.Value, where))
	}
	return nil
}

func clearCandidates(t *Term, ctx callContext, args string) error {
	t.sess.Clear()
	return nil
}

func set(t *Term, ctx callContext, args string) error {
	value, err := singleArg("set", args)
	if err != nil {
		return err
	}
	results, err := t.sess.Set(value)
	if err != nil {
		return err
	}
	failed := proc.FailedWrites(results)
	for _, res := range failed {
		fmt.Fprintf(t.stdout, "%s: %v\n", t.formatAddr(res.Addr), res.Err)
	}
	fmt.Fprintf(t.stdout, "Wrote %d of %d values.\n", len(results)-len(failed), len(results))
	return nil
}

func write(t *Term, ctx callContext, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) < 2 {
		return usageError("write")
	}
	addr, err := parseAddr(v[0])
	if err != nil {
		return err
	}
	var data []byte
	for _, s := range v[1:] {
		s = strings.TrimPrefix(s, "0x")
		if len(s)%2 == 1 {
			s = "0" + s
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return &proc.UserInputError{Msg: fmt.Sprintf("invalid byte %q", s)}
		}
		data = append(data, b...)
	}
	return t.sess.Write(addr, data)
}

func dump(t *Term, ctx callContext, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) < 1 || len(v) > 2 {
		return usageError("dump")
	}
	addr, err := parseAddr(v[0])
	if err != nil {
		return err
	}
	n := defaultDumpLen
	if n > t.sess.MaxDumpLen() {
		n = t.sess.MaxDumpLen()
	}
	if len(v) == 2 {
		n, err = strconv.Atoi(v[1])
		if err != nil {
			return &proc.UserInputError{Msg: fmt.Sprintf("invalid length %q", v[1])}
		}
	}
	out, err := t.sess.Dump(addr, n)
	if err != nil {
		return err
	}
	t.stdout.PageMaybe(nil)
	fmt.Fprint(t.stdout, out)
	return nil
}

func options(t *Term, ctx callContext, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	switch len(v) {
	case 0:
		s := t.sess.Settings()
		fmt.Fprintf(t.stdout, "width\t%d\ntype\t%s\n", s.Width, s.Type)
		return nil
	case 2:
		// ok
	default:
		return usageError("options")
	}
	switch v[0] {
	case "width", "set_int_width":
		w, err := strconv.Atoi(v[1])
		if err != nil {
			return &proc.UserInputError{Msg: fmt.Sprintf("invalid width %q", v[1])}
		}
		return t.sess.SetWidth(w)
	case "type", "set_dtype":
		dt, err := proc.ParseDataType(v[1])
		if err != nil {
			return err
		}
		return t.sess.SetType(dt)
	}
	return &proc.UserInputError{Msg: fmt.Sprintf("unknown option %q", v[0])}
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.sourceFile(t, args)
}

// sourceFile runs a starlark script or a file of commands.
func (c *Commands) sourceFile(t *Term, name string) error {
	if filepath.Ext(name) == ".star" {
		_, err := t.starlarkEnv.Execute(name, nil, "main", nil)
		return err
	}
	return c.executeFile(t, name)
}

// ExitRequestError is returned when the user
// exits memedit.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			if errors.Is(err, proc.ErrProcessExited) {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
