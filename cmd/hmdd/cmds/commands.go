package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fgc/hmdd/pkg/config"
	"github.com/fgc/hmdd/pkg/gui"
	"github.com/fgc/hmdd/pkg/gui/tcellport"
	"github.com/fgc/hmdd/pkg/logflags"
	"github.com/fgc/hmdd/pkg/terminal"
	"github.com/fgc/hmdd/pkg/version"
	"github.com/fgc/hmdd/service/debugger"
)

const (
	frontendGUI  = "gui"
	frontendTerm = "term"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// frontend selects the user interface, gui or term.
	frontend frontendFlag
	// initFile is the path to initialization file.
	initFile string
	// configPath overrides the default configuration file.
	configPath string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const hmddCommandLongDesc = `hmdd is a minimal source level debugger for C programs on Linux.

hmdd launches the executable under ptrace, loads the line table of its first
compilation unit and shows the source file. Breakpoints are toggled by line,
the target is controlled with run, step and next.

The gui front-end draws on the terminal and shows the output of the target
in its log panel. The term front-end is a command prompt.`

const logHelp = `Logging flags.

	--log				enables logging, by default for the debugger layer.
	--log-output=<list>		comma separated list of components that should produce output:
		debugger	state transitions and commands of the session
		native		ptrace requests and wait results
		debuglineerr	recoverable errors reading .debug_line
		gui		frames and events of the gui front-end
		terminal	commands typed in the term front-end
	--log-dest=<file or fd>		writes logs to a file or file descriptor. Required
				with --frontend=gui since the terminal is drawn on.`

// frontendFlag is the value of --frontend.
type frontendFlag string

var _ pflag.Value = (*frontendFlag)(nil)

func (f *frontendFlag) String() string { return string(*f) }

func (f *frontendFlag) Set(s string) error {
	switch s {
	case frontendGUI, frontendTerm:
		*f = frontendFlag(s)
		return nil
	}
	return fmt.Errorf("must be %q or %q", frontendGUI, frontendTerm)
}

func (f *frontendFlag) Type() string { return "frontend" }

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	rootCommand = &cobra.Command{
		Use:     "hmdd [flags] <executable>",
		Short:   "hmdd is a minimal debugger for C programs.",
		Long:    hmddCommandLongDesc,
		Args:    cobra.ExactArgs(1),
		Version: version.HmddVersion.String(),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args[0], cmd.ErrOrStderr()))
		},
	}
	rootCommand.SetVersionTemplate("hmdd\n{{.Version}}\n")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'hmdd help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'hmdd help log').")
	rootCommand.PersistentFlags().Var(&frontend, "frontend", `Front-end, "gui" or "term". Defaults to the config file, then gui.`)
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Starlark init file, executed by the term front-end.")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Path of the configuration file.")

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long:  logHelp,
	})

	// generated documentation stays the same between builds
	rootCommand.DisableAutoGenTag = docCall

	return rootCommand
}

// checkFlags validates the combination of flags and returns the front-end.
func checkFlags(conf *config.Config) (string, error) {
	fe := string(frontend)
	if fe == "" {
		fe = conf.Frontend
	}
	switch fe {
	case frontendGUI:
		if log && logDest == "" {
			return "", errors.New("--log-dest is required when logging with the gui front-end")
		}
		if initFile != "" {
			return "", errors.New("--init only works with --frontend=term")
		}
	case frontendTerm:
	default:
		return "", fmt.Errorf("unknown front-end %q", fe)
	}
	return fe, nil
}

func execute(path string, stderr io.Writer) int {
	conf := config.LoadConfig(configPath, stderr)
	fe, err := checkFlags(conf)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	dcfg := &debugger.Config{
		Path:           path,
		SubstitutePath: conf.SubstitutePath.Substitute,
		MaxStepLines:   conf.MaxStepLines,
		LogLines:       conf.LogLines,
	}

	if fe == frontendTerm {
		return runTerminal(dcfg, conf, stderr)
	}
	return runGUI(dcfg, conf, stderr)
}

func runTerminal(dcfg *debugger.Config, conf *config.Config, stderr io.Writer) int {
	d, err := debugger.New(dcfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer d.Detach(true)

	term := terminal.New(d, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return status
}

// runGUI launches the target on a pseudo-terminal whose output is shown in
// the log panel of the window.
func runGUI(dcfg *debugger.Config, conf *config.Config, stderr io.Writer) int {
	ptm, pts, err := pty.Open()
	if err != nil {
		fmt.Fprintf(stderr, "could not open pseudo-terminal: %v\n", err)
		return 1
	}
	defer ptm.Close()
	dcfg.LaunchOptions.TTY = pts.Name()

	d, err := debugger.New(dcfg)
	// the target holds its own descriptor of the terminal
	pts.Close()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer d.Detach(true)

	port, err := tcellport.Open()
	if err != nil {
		fmt.Fprintf(stderr, "could not initialize the screen: %v\n", err)
		return 1
	}
	defer port.Close()
	go port.ForwardOutput(ptm)

	w := gui.NewWindow(port, d, gui.Options{TabWidth: conf.TabWidth})
	w.Run()
	return 0
}
