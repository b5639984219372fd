// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/fgc/hmdd/pkg/proc"
	"github.com/fgc/hmdd/service/debugger"
)

// listContext is the number of lines printed around the current line.
const listContext = 5

type cmdfunc func(t *Term, args string) error

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

// Commands represents the commands of the terminal.
type Commands struct {
	cmds []command
	// index maps every alias to the position of its command in cmds.
	index *trie.Trie
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b", "toggle"}, group: breakCmds, cmdFn: toggleBreakpoint, helpMsg: `Sets or clears the breakpoint on a source line.

	break <line>

If the line already has a breakpoint it is removed, otherwise the trap is
written at the first address of the line.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"continue", "c", "run", "r"}, group: runCmds, cmdFn: resume(debugger.Continue), helpMsg: `Run until breakpoint or program termination.

	continue`},
		{aliases: []string{"step", "s", "si"}, group: runCmds, cmdFn: resume(debugger.StepInstruction), helpMsg: "Single step a single cpu instruction."},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: resume(debugger.Next), helpMsg: `Step over to next source line.

	next

Stops after the configured maximum number of instructions if the line
never changes.`},
		{aliases: []string{"list", "l"}, group: dataCmds, cmdFn: listCommand, helpMsg: `Show source code.

	list [line]

Show source around the current line or around the given line.`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Print contents of CPU registers.

	regs [name]

Without arguments every register is printed.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of starlark commands.

	source <path>

Scripts can call toggle(line), cont(), step(), next(), state() and
dbg_command(str). Functions named command_<name> become terminal commands.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger, killing the target.

	exit`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.rebuildIndex()
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

func (c *Commands) rebuildIndex() {
	c.index = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			c.index.Add(alias, i)
		}
	}
}

var errNoCmd = errors.New("command not available")

// ambiguousCommandError is returned by Find for a prefix of the aliases of
// more than one command.
type ambiguousCommandError struct {
	prefix  string
	matches []string
}

func (e *ambiguousCommandError) Error() string {
	return fmt.Sprintf("ambiguous command %q, could be: %s", e.prefix, strings.Join(e.matches, ", "))
}

// Find returns the command matching cmdstr. An alias matches exactly,
// otherwise cmdstr must be a prefix of the aliases of exactly one command.
func (c *Commands) Find(cmdstr string) (cmdfunc, error) {
	if cmdstr == "" {
		return nullCommand, nil
	}
	if node, ok := c.index.Find(cmdstr); ok {
		return c.cmds[node.Meta().(int)].cmdFn, nil
	}
	found := -1
	var matches []string
	for _, alias := range c.index.PrefixSearch(cmdstr) {
		node, _ := c.index.Find(alias)
		i := node.Meta().(int)
		if found >= 0 && found != i {
			found = -2
		} else if found != -2 {
			found = i
		}
		matches = append(matches, alias)
	}
	switch {
	case found >= 0:
		return c.cmds[found].cmdFn, nil
	case found == -2:
		sort.Strings(matches)
		return nil, &ambiguousCommandError{prefix: cmdstr, matches: matches}
	}
	return nil, errNoCmd
}

// Completions returns the aliases starting with prefix.
func (c *Commands) Completions(prefix string) []string {
	r := c.index.PrefixSearch(strings.ToLower(prefix))
	sort.Strings(r)
	return r
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	fn, err := c.Find(cmdname)
	if err != nil {
		return err
	}
	return fn(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
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
	c.rebuildIndex()
}

// register adds a command, replacing the command that already has name as
// an alias.
func (c *Commands) register(name, helpMsg string, fn cmdfunc) {
	for i := range c.cmds {
		if c.cmds[i].match(name) {
			c.cmds[i].cmdFn = fn
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}
	c.cmds = append(c.cmds, command{aliases: []string{name}, helpMsg: helpMsg, cmdFn: fn})
	c.rebuildIndex()
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
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

// splitArgs splits args the way a shell would, pipes and backticks are
// not supported.
func splitArgs(args string) ([]string, error) {
	if args == "" {
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

// parseLine parses a one based line number and returns it zero based.
func parseLine(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid line number %q", arg)
	}
	return n - 1, nil
}

func toggleBreakpoint(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("wrong number of arguments to break, expected a line number")
	}
	line, err := parseLine(v[0])
	if err != nil {
		return err
	}
	_, err = t.session.ToggleBreakpoint(line)
	return err
}

func breakpoints(t *Term, args string) error {
	bps := t.session.Breakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints.")
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, bp := range bps {
		fmt.Fprintf(w, "Breakpoint %d\tat %#x\tline %d\t(%s, hit count %d)\n", bp.ID, bp.Addr, bp.Line+1, bp.State, bp.HitCount)
	}
	return w.Flush()
}

func resume(name debugger.CommandName) cmdfunc {
	return func(t *Term, args string) error {
		if args != "" {
			return fmt.Errorf("%s does not take arguments", name)
		}
		sr, err := t.session.Command(name)
		if err != nil {
			return err
		}
		if sr.Kind != proc.Exited {
			t.printLogs()
			if line, ok := t.session.CurrentLine(); ok {
				return t.printSource(line, true)
			}
		}
		return nil
	}
}

func listCommand(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	cur, showArrow := t.session.CurrentLine()
	line := cur
	switch len(v) {
	case 0:
	case 1:
		line, err = parseLine(v[0])
		if err != nil {
			return err
		}
		if line >= t.session.Lines().Len() {
			return &proc.InvalidLineError{Line: line, Count: t.session.Lines().Len()}
		}
	default:
		return fmt.Errorf("wrong number of arguments to list")
	}
	if !showArrow {
		cur = -1
	}
	return t.printSourceAround(line, cur)
}

func regs(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	r, err := t.session.Registers()
	if err != nil {
		return err
	}
	if len(v) > 0 {
		for _, name := range v {
			val, err := r.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(t.stdout, "%s = %#x\n", name, val)
		}
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
	for _, reg := range r.Slice() {
		fmt.Fprintf(w, "%s\t%#016x\t\n", reg.Name, reg.Value)
	}
	return w.Flush()
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}
	_, err = t.starlarkEnv.Execute(v[0], nil, "main", nil)
	return err
}

// ExitRequestError is returned when the user exits the debugger.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func isExitRequest(err error) bool {
	var ere ExitRequestError
	return errors.As(err, &ere)
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}
