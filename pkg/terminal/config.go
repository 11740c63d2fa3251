package terminal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/memedit/memedit/pkg/config"
	"github.com/memedit/memedit/pkg/proc"
)

const notDefined = "<not defined>"

// configParam is a configuration option that can be shown and changed
// with the config command. Changes apply to the configuration file, the
// running session is not affected until the next start.
type configParam struct {
	name string
	get  func(c *config.Config) string
	set  func(c *config.Config, args []string) error
}

var configParams = []configParam{
	{
		name: "width",
		get:  func(c *config.Config) string { return optInt(c.Width) },
		set: func(c *config.Config, args []string) error {
			n, err := oneNumber("width", args)
			if err != nil {
				return err
			}
			if !proc.ValidWidth(n) {
				return fmt.Errorf("invalid width %d (must be 1, 2, 4 or 8)", n)
			}
			c.Width = &n
			return nil
		},
	},
	{
		name: "type",
		get:  func(c *config.Config) string { return optString(c.Type) },
		set: func(c *config.Config, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("\"type\" takes one of int, float or string")
			}
			dt, err := proc.ParseDataType(args[0])
			if err != nil {
				return err
			}
			c.Type = dt.String()
			return nil
		},
	},
	{
		name: "max-dump-len",
		get:  func(c *config.Config) string { return optInt(c.MaxDumpLen) },
		set: func(c *config.Config, args []string) error {
			n, err := oneNumber("max-dump-len", args)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("argument to \"max-dump-len\" must be greater than zero")
			}
			c.MaxDumpLen = &n
			return nil
		},
	},
	{
		name: "exclude-paths",
		get: func(c *config.Config) string {
			if c.ExcludePaths == nil {
				return notDefined
			}
			return fmt.Sprintf("%q", c.ExcludePaths)
		},
		set: func(c *config.Config, args []string) error {
			c.ExcludePaths = append([]string{}, args...)
			return nil
		},
	},
	{
		name: "address-color",
		get:  func(c *config.Config) string { return strconv.Itoa(c.AddressColor) },
		set: func(c *config.Config, args []string) error {
			n, err := oneNumber("address-color", args)
			if err != nil {
				return err
			}
			if !validColor(n) {
				return fmt.Errorf("invalid color %d (must be between %d and %d or %d and %d)", n, ansiBlack, ansiWhite, ansiBrBlack, ansiBrWhite)
			}
			c.AddressColor = n
			return nil
		},
	},
	{
		name: "history-file",
		get:  func(c *config.Config) string { return optString(c.HistoryFile) },
		set: func(c *config.Config, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("\"history-file\" takes a single path")
			}
			c.HistoryFile = args[0]
			return nil
		},
	},
}

func optInt(p *int) string {
	if p == nil {
		return notDefined
	}
	return strconv.Itoa(*p)
}

func optString(s string) string {
	if s == "" {
		return notDefined
	}
	return s
}

func oneNumber(name string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%q takes a single number", name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("argument to %q must be a positive number", name)
	}
	return n, nil
}

func validColor(n int) bool {
	return (n >= ansiBlack && n <= ansiWhite) || (n >= ansiBrBlack && n <= ansiBrWhite)
}

func findConfigParam(name string) *configParam {
	for i := range configParams {
		if configParams[i].name == name {
			return &configParams[i]
		}
	}
	return nil
}

func configureCmd(t *Term, ctx callContext, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	}
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return fmt.Errorf("wrong number of arguments to \"config\"")
	}
	if v[0] == "alias" {
		return configureSetAlias(t, v[1:])
	}
	p := findConfigParam(v[0])
	if p == nil {
		return fmt.Errorf("%q is not a configuration parameter", v[0])
	}
	return p.set(t.conf, v[1:])
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, p := range configParams {
		fmt.Fprintf(w, "%s\t%s\n", p.name, p.get(t.conf))
	}
	if len(t.conf.Aliases) == 0 {
		fmt.Fprintf(w, "aliases\t%s\n", notDefined)
		return w.Flush()
	}
	cmds := make([]string, 0, len(t.conf.Aliases))
	for cmd := range t.conf.Aliases {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	for _, cmd := range cmds {
		fmt.Fprintf(w, "aliases\t%s: %s\n", cmd, strings.Join(t.conf.Aliases[cmd], ", "))
	}
	return w.Flush()
}

// configureSetAlias adds an alias when given a command and an alias, and
// removes an alias when given only the alias.
func configureSetAlias(t *Term, args []string) error {
	switch len(args) {
	case 1:
		for cmd, aliases := range t.conf.Aliases {
			kept := aliases[:0]
			for _, alias := range aliases {
				if alias != args[0] {
					kept = append(kept, alias)
				}
			}
			t.conf.Aliases[cmd] = kept
		}
	case 2:
		cmd, alias := args[0], args[1]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
