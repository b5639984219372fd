package tcellport

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/require"

	"github.com/fgc/hmdd/pkg/gui"
)

func newSimPort(t *testing.T) (*Port, tcell.SimulationScreen) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	screen.SetSize(20, 5)
	p, err := New(screen)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, screen
}

// nextEvent returns the next event that is not a resize.
func nextEvent(p *Port) gui.Event {
	for {
		ev := p.PollEvent()
		if ev.Kind != gui.Resize {
			return ev
		}
	}
}

func cellText(screen tcell.SimulationScreen, y int) string {
	cells, w, _ := screen.GetContents()
	var sb strings.Builder
	for _, c := range cells[y*w : (y+1)*w] {
		if len(c.Runes) == 0 {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(c.Runes[0])
	}
	return sb.String()
}

func TestDrawText(t *testing.T) {
	p, screen := newSimPort(t)
	p.SetColor(gui.ColorCurrentLine)
	p.DrawRect(0, 1, 20, 1)
	p.SetColor(gui.ColorText)
	p.DrawText(2, 1, "int a;")
	p.Flush()

	require.Equal(t, "  int a;", strings.TrimRight(cellText(screen, 1), " "))

	cells, w, _ := screen.GetContents()
	_, bg, _ := cells[w+3].Style.Decompose()
	_, want, _ := DefaultStyles[gui.ColorCurrentLine].Decompose()
	require.Equal(t, want, bg, "text keeps the row background")
}

func TestDrawRectClipped(t *testing.T) {
	p, screen := newSimPort(t)
	p.SetColor(gui.ColorButton)
	p.DrawRect(15, 3, 10, 10)
	p.Flush()
	cells, w, _ := screen.GetContents()
	_, bg, _ := cells[4*w+19].Style.Decompose()
	_, want, _ := DefaultStyles[gui.ColorButton].Decompose()
	require.Equal(t, want, bg)
}

func TestMeasure(t *testing.T) {
	p, _ := newSimPort(t)
	require.Equal(t, gui.Extent{Width: 5, Ascent: 1}, p.Measure("hello"))
	require.Equal(t, 4, p.Measure("世界").Width)
	require.Equal(t, 4, p.Measure("世界").Width)
	require.Equal(t, 2, p.extents.Len())
	require.Equal(t, 1, p.Measure("x").Height())
}

func TestPollEvent(t *testing.T) {
	p, screen := newSimPort(t)

	screen.InjectMouse(3, 4, tcell.Button1, tcell.ModNone)
	require.Equal(t, gui.Event{Kind: gui.ButtonDown, X: 3, Y: 4}, nextEvent(p))

	screen.InjectMouse(5, 4, tcell.Button1, tcell.ModNone)
	require.Equal(t, gui.Event{Kind: gui.PointerMove, X: 5, Y: 4}, nextEvent(p))

	screen.InjectMouse(5, 4, tcell.ButtonNone, tcell.ModNone)
	require.Equal(t, gui.Event{Kind: gui.ButtonUp, X: 5, Y: 4}, nextEvent(p))

	screen.InjectMouse(5, 4, tcell.WheelDown, tcell.ModNone)
	require.Equal(t, gui.Event{Kind: gui.Scroll, DY: wheelLines}, nextEvent(p))

	screen.InjectKey(tcell.KeyRune, 'r', tcell.ModNone)
	require.Equal(t, gui.Event{Kind: gui.Key, Rune: 'r'}, nextEvent(p))

	screen.InjectKey(tcell.KeyUp, 0, tcell.ModNone)
	require.Equal(t, gui.Event{Kind: gui.Scroll, DY: -1}, nextEvent(p))

	screen.InjectKey(tcell.KeyCtrlC, 0, tcell.ModNone)
	require.Equal(t, gui.WindowClosing, nextEvent(p).Kind)

	require.NoError(t, p.PostOutput("tick\n"))
	require.Equal(t, gui.Event{Kind: gui.Output, Text: "tick\n"}, nextEvent(p))
}

func TestForwardOutput(t *testing.T) {
	p, _ := newSimPort(t)
	p.ForwardOutput(strings.NewReader("hello\n"))
	require.Equal(t, gui.Event{Kind: gui.Output, Text: "hello\n"}, nextEvent(p))
}
