// Package tcellport implements gui.Port over a tcell screen. Coordinates
// are screen cells and every line of text is one cell high.
package tcellport

import (
	"io"
	"sync"

	"github.com/gdamore/tcell/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-runewidth"

	"github.com/fgc/hmdd/pkg/gui"
	"github.com/fgc/hmdd/pkg/logflags"
)

const extentCacheSize = 1024

// wheelLines is the number of lines scrolled by a mouse wheel notch.
const wheelLines = 3

// DefaultStyles maps color roles to terminal styles.
var DefaultStyles = map[gui.ColorRole]tcell.Style{
	gui.ColorBackground:  tcell.StyleDefault,
	gui.ColorText:        tcell.StyleDefault,
	gui.ColorGutter:      tcell.StyleDefault.Foreground(tcell.ColorGray),
	gui.ColorBreakpoint:  tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true),
	gui.ColorCurrentLine: tcell.StyleDefault.Background(tcell.ColorNavy),
	gui.ColorHot:         tcell.StyleDefault.Background(tcell.ColorTeal),
	gui.ColorActive:      tcell.StyleDefault.Reverse(true),
	gui.ColorButton:      tcell.StyleDefault.Background(tcell.ColorSilver).Foreground(tcell.ColorBlack),
	gui.ColorStatus:      tcell.StyleDefault.Foreground(tcell.ColorGreen),
	gui.ColorError:       tcell.StyleDefault.Foreground(tcell.ColorRed),
	gui.ColorOutput:      tcell.StyleDefault.Foreground(tcell.ColorYellow),
}

// Port draws on a tcell.Screen.
type Port struct {
	screen tcell.Screen
	styles map[gui.ColorRole]tcell.Style
	style  tcell.Style

	// extents memoises Measure.
	extents *lru.Cache
	// down is the state of the primary button in the last mouse event.
	down bool

	mu  sync.Mutex
	log logflags.Logger
}

// Open initializes the terminal and returns a port drawing on it. The
// terminal is restored by Close.
func Open() (*Port, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.EnableMouse()
	return New(screen)
}

// New returns a port drawing on an initialized screen.
func New(screen tcell.Screen) (*Port, error) {
	extents, err := lru.New(extentCacheSize)
	if err != nil {
		return nil, err
	}
	return &Port{
		screen:  screen,
		styles:  DefaultStyles,
		style:   tcell.StyleDefault,
		extents: extents,
		log:     logflags.GUILogger(),
	}, nil
}

// Close restores the terminal.
func (p *Port) Close() {
	p.screen.Fini()
}

// SetStyles replaces the styles used for each role.
func (p *Port) SetStyles(styles map[gui.ColorRole]tcell.Style) {
	p.styles = styles
}

func (p *Port) SetColor(role gui.ColorRole) {
	p.style = p.styles[role]
}

// DrawText draws text keeping the background of the cells it covers when
// the current style has none.
func (p *Port) DrawText(x, y int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, bg, _ := p.style.Decompose()
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		style := p.style
		if bg == tcell.ColorDefault {
			_, _, cur, _ := p.screen.GetContent(x, y) //nolint:staticcheck // the background is only known by the screen
			_, curbg, _ := cur.Decompose()
			style = style.Background(curbg)
		}
		p.screen.SetContent(x, y, r, nil, style)
		x += w
	}
}

func (p *Port) DrawRect(x, y, w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, sh := p.screen.Size()
	for row := y; row < y+h && row < sh; row++ {
		for col := x; col < x+w && col < sw; col++ {
			if row >= 0 && col >= 0 {
				p.screen.SetContent(col, row, ' ', nil, p.style)
			}
		}
	}
}

func (p *Port) Flush() {
	p.screen.Show()
}

// Measure returns the number of cells text occupies, text is one cell
// high.
func (p *Port) Measure(text string) gui.Extent {
	if e, ok := p.extents.Get(text); ok {
		return e.(gui.Extent)
	}
	e := gui.Extent{Width: runewidth.StringWidth(text), Ascent: 1}
	p.extents.Add(text, e)
	return e
}

func (p *Port) Size() (int, int) {
	return p.screen.Size()
}

// PollEvent waits for the next screen event that the window handles.
func (p *Port) PollEvent() gui.Event {
	for {
		ev := p.screen.PollEvent()
		if ev == nil {
			// the screen was finalized
			return gui.Event{Kind: gui.WindowClosing}
		}
		if gev, ok := p.convertEvent(ev); ok {
			return gev
		}
	}
}

func (p *Port) convertEvent(ev tcell.Event) (gui.Event, bool) {
	switch e := ev.(type) {
	case *tcell.EventMouse:
		x, y := e.Position()
		buttons := e.Buttons()
		switch {
		case buttons&tcell.WheelUp != 0:
			return gui.Event{Kind: gui.Scroll, DY: -wheelLines}, true
		case buttons&tcell.WheelDown != 0:
			return gui.Event{Kind: gui.Scroll, DY: wheelLines}, true
		}
		down := buttons&tcell.Button1 != 0
		kind := gui.PointerMove
		switch {
		case down && !p.down:
			kind = gui.ButtonDown
		case !down && p.down:
			kind = gui.ButtonUp
		}
		p.down = down
		return gui.Event{Kind: kind, X: x, Y: y}, true

	case *tcell.EventKey:
		_, h := p.screen.Size()
		switch e.Key() {
		case tcell.KeyRune:
			return gui.Event{Kind: gui.Key, Rune: e.Rune()}, true
		case tcell.KeyUp:
			return gui.Event{Kind: gui.Scroll, DY: -1}, true
		case tcell.KeyDown:
			return gui.Event{Kind: gui.Scroll, DY: 1}, true
		case tcell.KeyPgUp:
			return gui.Event{Kind: gui.Scroll, DY: -h / 2}, true
		case tcell.KeyPgDn:
			return gui.Event{Kind: gui.Scroll, DY: h / 2}, true
		case tcell.KeyCtrlC, tcell.KeyEscape:
			return gui.Event{Kind: gui.WindowClosing}, true
		}

	case *tcell.EventResize:
		p.screen.Sync()
		w, h := e.Size()
		return gui.Event{Kind: gui.Resize, X: w, Y: h}, true

	case *tcell.EventInterrupt:
		if text, ok := e.Data().(string); ok {
			return gui.Event{Kind: gui.Output, Text: text}, true
		}
	}
	return gui.Event{}, false
}

// PostOutput queues text as an Output event.
func (p *Port) PostOutput(text string) error {
	return p.screen.PostEvent(tcell.NewEventInterrupt(text))
}

// ForwardOutput reads r until it fails and posts what it reads as Output
// events. It is meant to run in its own goroutine, reading the output of
// the target.
func (p *Port) ForwardOutput(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if perr := p.PostOutput(string(buf[:n])); perr != nil {
				p.log.Debugf("dropping target output: %v", perr)
			}
		}
		if err != nil {
			if err != io.EOF {
				p.log.Debugf("reading target output: %v", err)
			}
			return
		}
	}
}
