package gui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fgc/hmdd/pkg/config"
	"github.com/fgc/hmdd/pkg/logflags"
	"github.com/fgc/hmdd/pkg/proc"
	"github.com/fgc/hmdd/service/debugger"
)

// Session is the part of *debugger.Debugger used by the window.
type Session interface {
	Lines() *proc.LineTable
	State() debugger.State
	CurrentLine() (int, bool)
	FindBreakpoint(line int) (*proc.Breakpoint, bool)
	ToggleBreakpoint(line int) (proc.ToggleResult, error)
	Command(name debugger.CommandName) (proc.StopResult, error)
	Quit()
	Quitting() bool
	Logs() []debugger.LogLine
	AppendOutput(out string)
}

// Options configures a Window.
type Options struct {
	// TabWidth is the number of columns of a tab stop.
	TabWidth int
	// LogRows is the height of the log panel, in lines.
	LogRows int
}

const (
	defaultTabWidth = 8
	defaultLogRows  = 6
)

// IDs of the toolbar buttons, source lines use lineID+line.
const (
	runID ID = iota + 1
	stepID
	nextID
	quitID
	lineID ID = 100
)

type button struct {
	id    ID
	label string
	cmd   func(w *Window)
}

var buttons = []button{
	{runID, " Run (r) ", func(w *Window) { w.command(debugger.Continue) }},
	{stepID, " Step (s) ", func(w *Window) { w.command(debugger.StepInstruction) }},
	{nextID, " Next (n) ", func(w *Window) { w.command(debugger.Next) }},
	{quitID, " Quit (q) ", func(w *Window) { w.session.Quit() }},
}

// Window renders the source listing of a session with its breakpoints and
// the current line, a toolbar and the session log.
type Window struct {
	port    Port
	session Session
	opts    Options
	ctx     Context

	// scroll is the first line of the listing shown.
	scroll int
	// follow makes the next frame scroll to the current line.
	follow bool
	// rows is the number of listing lines in the last frame.
	rows int

	log logflags.Logger
}

// NewWindow returns a window drawing session on port.
func NewWindow(port Port, session Session, opts Options) *Window {
	if opts.TabWidth <= 0 {
		opts.TabWidth = defaultTabWidth
	}
	if opts.LogRows <= 0 {
		opts.LogRows = defaultLogRows
	}
	w := &Window{port: port, session: session, opts: opts, follow: true, log: logflags.GUILogger()}
	// no pointer position until the first pointer event
	w.ctx.PointerX, w.ctx.PointerY = -1, -1
	return w
}

// Context returns the interaction state.
func (w *Window) Context() *Context {
	return &w.ctx
}

// Scroll returns the first line shown in the listing.
func (w *Window) Scroll() int {
	return w.scroll
}

// Run draws the window and processes events, one per frame, until the
// session quits.
func (w *Window) Run() {
	w.Frame()
	for !w.session.Quitting() {
		ev := w.port.PollEvent()
		w.log.Debugf("event %v", ev.Kind)
		w.ctx.Apply(ev)
		w.handleEvent(ev)
		if w.session.Quitting() {
			break
		}
		w.Frame()
	}
}

func (w *Window) handleEvent(ev Event) {
	switch ev.Kind {
	case WindowClosing:
		w.session.Quit()
	case Key:
		switch ev.Rune {
		case 'r':
			w.command(debugger.Continue)
		case 's':
			w.command(debugger.StepInstruction)
		case 'n':
			w.command(debugger.Next)
		case 'q':
			w.session.Quit()
		}
	case Scroll:
		w.scrollTo(w.scroll + ev.DY)
	case Output:
		w.session.AppendOutput(ev.Text)
	}
}

func (w *Window) command(name debugger.CommandName) {
	if _, err := w.session.Command(name); err != nil {
		w.log.Debugf("%s: %v", name, err)
	}
	w.follow = true
}

func (w *Window) scrollTo(line int) {
	if last := w.session.Lines().Len() - w.rows; line > last {
		line = last
	}
	if line < 0 {
		line = 0
	}
	w.scroll = line
}

// Frame draws the whole window once, handling the interactions of the
// pointer state in the context, and then resets the per-frame state.
func (w *Window) Frame() {
	width, height := w.port.Size()
	lh := w.port.Measure("M").Height()
	if lh <= 0 {
		lh = 1
	}

	w.port.SetColor(ColorBackground)
	w.port.DrawRect(0, 0, width, height)

	w.toolbar(width, lh)

	logRows := w.opts.LogRows
	if limit := height / lh / 3; logRows > limit {
		logRows = limit
	}
	logTop := height - logRows*lh
	w.rows = (logTop - lh) / lh
	if w.rows < 0 {
		w.rows = 0
	}
	w.listing(lh, width)
	w.logPanel(logTop, width, lh, logRows)

	w.port.Flush()
	w.ctx.EndFrame()
}

func (w *Window) toolbar(width, lh int) {
	x := 0
	gap := w.port.Measure(" ").Width
	for _, b := range buttons {
		bw := w.port.Measure(b.label).Width
		clicked := w.ctx.Interact(b.id, x, 0, bw, lh)
		switch {
		case w.ctx.ActiveID == b.id:
			w.port.SetColor(ColorActive)
		case w.ctx.HotID == b.id:
			w.port.SetColor(ColorHot)
		default:
			w.port.SetColor(ColorButton)
		}
		w.port.DrawRect(x, 0, bw, lh)
		w.port.DrawText(x, 0, b.label)
		x += bw + gap
		if clicked {
			b.cmd(w)
		}
	}

	status := w.session.State().String()
	if line, ok := w.session.CurrentLine(); ok {
		status = fmt.Sprintf("%s at line %d", status, line+1)
	}
	w.port.SetColor(ColorStatus)
	w.port.DrawText(x+gap, 0, status)
}

func (w *Window) listing(lh, width int) {
	lines := w.session.Lines()
	cur, curOk := w.session.CurrentLine()
	if w.follow {
		w.follow = false
		if curOk && (cur < w.scroll || cur >= w.scroll+w.rows) {
			w.scrollTo(cur - w.rows/3)
		}
	}

	digits := len(strconv.Itoa(lines.Len()))
	gutterWidth := w.port.Measure(strings.Repeat("9", digits+3)).Width

	for row := 0; row < w.rows; row++ {
		i := w.scroll + row
		if i >= lines.Len() {
			break
		}
		y := lh + row*lh
		id := lineID + ID(i)
		if w.ctx.Interact(id, 0, y, width, lh) {
			if _, err := w.session.ToggleBreakpoint(i); err != nil {
				w.log.Debugf("toggle line %d: %v", i+1, err)
			}
		}

		_, hasBP := w.session.FindBreakpoint(i)
		current := curOk && cur == i
		switch {
		case w.ctx.ActiveID == id:
			w.port.SetColor(ColorActive)
		case w.ctx.HotID == id:
			w.port.SetColor(ColorHot)
		case current:
			w.port.SetColor(ColorCurrentLine)
		default:
			w.port.SetColor(ColorBackground)
		}
		w.port.DrawRect(0, y, width, lh)

		if hasBP {
			w.port.SetColor(ColorBreakpoint)
		} else {
			w.port.SetColor(ColorGutter)
		}
		w.port.DrawText(0, y, gutter(i, digits, hasBP, current))
		w.port.SetColor(ColorText)
		w.port.DrawText(gutterWidth, y, config.ExpandTabs(string(lines.Text(i)), w.opts.TabWidth))
	}
}

// gutter returns the marker columns and the line number of line i.
func gutter(i, digits int, bp, current bool) string {
	m := [2]rune{' ', ' '}
	if bp {
		m[0] = '●'
	}
	if current {
		m[1] = '>'
	}
	return fmt.Sprintf("%c%c%*d ", m[0], m[1], digits, i+1)
}

func (w *Window) logPanel(top, width, lh, rows int) {
	w.port.SetColor(ColorBackground)
	w.port.DrawRect(0, top, width, rows*lh)
	logs := w.session.Logs()
	if len(logs) > rows {
		logs = logs[len(logs)-rows:]
	}
	for i, l := range logs {
		switch l.Kind {
		case debugger.LogError:
			w.port.SetColor(ColorError)
		case debugger.LogOutput:
			w.port.SetColor(ColorOutput)
		default:
			w.port.SetColor(ColorStatus)
		}
		w.port.DrawText(0, top+i*lh, l.Text)
	}
}
