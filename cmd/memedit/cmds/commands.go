package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	sys "golang.org/x/sys/unix"

	"github.com/memedit/memedit/pkg/config"
	"github.com/memedit/memedit/pkg/logflags"
	"github.com/memedit/memedit/pkg/proc"
	"github.com/memedit/memedit/pkg/proc/native"
	"github.com/memedit/memedit/pkg/session"
	"github.com/memedit/memedit/pkg/terminal"
	"github.com/memedit/memedit/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// width is the integer width used when the session starts, 0 means
	// the configured one.
	width int
	// dataType is the data type used when the session starts.
	dataType dataTypeFlag
	// excludePaths replaces the exclude-paths configuration option.
	excludePaths []string
	// allowNonRoot skips the effective user check.
	allowNonRoot bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const memeditCommandLongDesc = `memedit searches and edits the memory of a running process.

memedit lists the private writable memory regions of the process, searches
them for a value and narrows the matches down while the value changes in the
process. The remaining addresses can then be overwritten with a new value.

Reading and writing the memory of another process normally needs root
privileges, or a ptrace_scope that allows it:

` + "`sudo memedit $(pidof game)`"

// dataTypeFlag is a pflag.Value accepting the names of proc.DataType.
type dataTypeFlag struct {
	set bool
	dt  proc.DataType
}

var _ pflag.Value = (*dataTypeFlag)(nil)

func (f *dataTypeFlag) String() string {
	if !f.set {
		return ""
	}
	return f.dt.String()
}

func (f *dataTypeFlag) Set(s string) error {
	dt, err := proc.ParseDataType(s)
	if err != nil {
		return err
	}
	f.dt, f.set = dt, true
	return nil
}

func (f *dataTypeFlag) Type() string {
	return "type"
}

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main memedit root command.
	rootCommand = &cobra.Command{
		Use:   "memedit [flags] pid",
		Short: "memedit is a memory scanner and editor for running processes.",
		Long:  memeditCommandLongDesc,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: rootCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'memedit help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'memedit help log').")

	rootCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal before the first prompt.")
	rootCommand.Flags().IntVarP(&width, "width", "w", 0, "Integer width in bytes (1, 2, 4 or 8).")
	rootCommand.Flags().VarP(&dataType, "type", "t", "Data type of searched values (int, float or string).")
	rootCommand.Flags().StringSliceVar(&excludePaths, "exclude", nil, "Path prefixes of mappings that are never scanned, replaces the exclude-paths configuration option.")
	rootCommand.Flags().BoolVarP(&allowNonRoot, "allow-non-root", "", false, "Do not require root privileges.")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memedit\n%s\n", version.MemeditVersion)
			if log {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	scan		Log searches and refinements
	memio		Log every read and write of target memory
	regions		Log region discovery and skipped mappings
	terminal	Log terminal commands
	starlark	Log starlark scripts

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func rootCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	if cmd.Flags().Changed("exclude") {
		conf.ExcludePaths = excludePaths
	}
	os.Exit(execute(pid, conf))
}

// startSettings returns the settings of a new session: command line flags
// win over the configuration file, which wins over the defaults.
func startSettings(conf *config.Config) (proc.Settings, error) {
	s := proc.DefaultSettings()
	s.Width = conf.GetWidth(s.Width)
	if conf.Type != "" {
		dt, err := proc.ParseDataType(conf.Type)
		if err != nil {
			return s, fmt.Errorf("configuration: %v", err)
		}
		s.Type = dt
	}
	if width != 0 {
		s.Width = width
	}
	if dataType.set {
		s.Type = dataType.dt
	}
	return s, s.Validate()
}

func execute(pid int, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if !allowNonRoot && sys.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "memedit needs root privileges to access the memory of other processes (use --allow-non-root to try anyway)")
		return 1
	}

	settings, err := startSettings(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	p, err := native.Attach(pid, proc.ParseOptions{ExcludePaths: conf.ExcludePaths})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	for _, perr := range p.Skipped {
		logflags.RegionsLogger().Warnf("skipped mapping: %v", perr)
	}
	fmt.Printf("Found %d regions.\n", p.Regions.Len())

	sess, err := session.New(session.Config{
		Pid:        pid,
		Mem:        p.Mem,
		Regions:    p.Regions,
		Settings:   settings,
		MaxDumpLen: conf.GetMaxDumpLen(session.DefaultMaxDumpLen),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	term := terminal.New(sess, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
