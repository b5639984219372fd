package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/fgc/hmdd/pkg/config"
	"github.com/fgc/hmdd/pkg/logflags"
	"github.com/fgc/hmdd/pkg/proc"
	"github.com/fgc/hmdd/pkg/terminal/starbind"
	"github.com/fgc/hmdd/service/debugger"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiBlue    = 34
	ansiWhite   = 37
	ansiBrBlack = 90
	ansiBrWhite = 97
)

// Session is the part of *debugger.Debugger used by the terminal.
type Session interface {
	starbind.Session
	Lines() *proc.LineTable
	FindBreakpoint(line int) (*proc.Breakpoint, bool)
	Registers() (proc.Registers, error)
	LogCount() int
	LogsSince(n int) []debugger.LogLine
}

// Term represents the terminal running the debugger.
type Term struct {
	session     Session
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	dumb        bool
	stdout      io.Writer
	starlarkEnv *starbind.Env
	InitFile    string

	// logSeen is the number of session log lines already printed.
	logSeen int
	log     logflags.Logger
}

// New returns a new Term.
func New(session Session, conf *config.Config) *Term {
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	var w io.Writer = os.Stdout
	if !dumb {
		w = colorable.NewColorableStdout()
	}
	t := newTerm(session, conf, w, dumb)
	t.line = liner.NewLiner()
	return t
}

func newTerm(session Session, conf *config.Config, stdout io.Writer, dumb bool) *Term {
	if conf == nil {
		conf = config.Default()
	}
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if (conf.SourceListLineColor > ansiWhite &&
		conf.SourceListLineColor < ansiBrBlack) ||
		conf.SourceListLineColor < ansiBlack ||
		conf.SourceListLineColor > ansiBrWhite {
		conf.SourceListLineColor = ansiBlue
	}
	if conf.TabWidth <= 0 {
		conf.TabWidth = 8
	}

	t := &Term{
		session: session,
		conf:    conf,
		prompt:  "(hmdd) ",
		cmds:    cmds,
		dumb:    dumb,
		stdout:  stdout,
		log:     logflags.TerminalLogger(),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// Run begins running the debugger in the terminal. It returns when the
// user exits or the input ends. Command history is kept in memory only.
func (t *Term) Run() (int, error) {
	defer t.Close()

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.cmds.Completions)

	t.printLogs()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		if _, err := t.starlarkEnv.Execute(t.InitFile, nil, "main", nil); err != nil {
			if isExitRequest(err) {
				return 0, nil
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
		t.printLogs()
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Fprintln(t.stdout, "exit")
				return 0, nil
			}
			return 1, fmt.Errorf("prompt for input failed: %w", err)
		}

		if err := t.Execute(cmdstr); err != nil {
			if isExitRequest(err) {
				return 0, nil
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Execute runs a single command line and prints the session log lines it
// produced.
func (t *Term) Execute(cmdstr string) error {
	t.log.Debugf("command %q", cmdstr)
	err := t.cmds.Call(cmdstr, t)
	t.printLogs()
	return err
}

// printLogs prints the session log lines added since the last call.
// Errors are skipped, they are returned by the commands that fail.
func (t *Term) printLogs() {
	for _, l := range t.session.LogsSince(t.logSeen) {
		switch l.Kind {
		case debugger.LogError:
			continue
		case debugger.LogOutput:
			fmt.Fprintln(t.stdout, l.Text)
		default:
			fmt.Fprintf(t.stdout, "> %s\n", l.Text)
		}
	}
	t.logSeen = t.session.LogCount()
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.SourceListLineColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

// printSource prints the lines around line, marking it with an arrow if
// showArrow is set.
func (t *Term) printSource(line int, showArrow bool) error {
	arrow := -1
	if showArrow {
		arrow = line
	}
	return t.printSourceAround(line, arrow)
}

func (t *Term) printSourceAround(center, arrowLine int) error {
	lines := t.session.Lines()
	if lines.Len() == 0 {
		return fmt.Errorf("no source available")
	}
	start, end := center-listContext, center+listContext+1
	if start < 0 {
		start = 0
	}
	if end > lines.Len() {
		end = lines.Len()
	}
	width := len(fmt.Sprint(end))
	for i := start; i < end; i++ {
		arrow := "  "
		if i == arrowLine {
			arrow = "=>"
		}
		bp := " "
		if _, ok := t.session.FindBreakpoint(i); ok {
			bp = "*"
		}
		prefix := fmt.Sprintf("%s%s%*d:\t", arrow, bp, width, i+1)
		t.Println(prefix, config.ExpandTabs(string(lines.Text(i)), t.conf.TabWidth))
	}
	return nil
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
