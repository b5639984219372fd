// Package gui implements an immediate-mode front-end for the debugger. It
// draws through a Port, an abstract drawing surface and input source, so
// that the same code runs on a terminal screen or in tests.
package gui

import "fmt"

// ColorRole is the purpose of what is drawn next. Ports map roles to
// actual colors.
type ColorRole uint8

const (
	ColorBackground ColorRole = iota
	ColorText
	ColorGutter
	ColorBreakpoint
	ColorCurrentLine
	ColorHot
	ColorActive
	ColorButton
	ColorStatus
	ColorError
	ColorOutput
)

// Extent is the size of a piece of text.
type Extent struct {
	Width   int
	Ascent  int
	Descent int
}

// Height returns the height of a line of text.
func (e Extent) Height() int {
	return e.Ascent + e.Descent
}

// EventKind is the kind of an input event.
type EventKind uint8

const (
	EventNone EventKind = iota
	PointerMove
	ButtonDown
	ButtonUp
	WindowClosing
	Key
	Scroll
	Resize
	Output
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case PointerMove:
		return "pointer-move"
	case ButtonDown:
		return "button-down"
	case ButtonUp:
		return "button-up"
	case WindowClosing:
		return "window-closing"
	case Key:
		return "key"
	case Scroll:
		return "scroll"
	case Resize:
		return "resize"
	case Output:
		return "output"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is an input event. X and Y are valid for pointer events, Rune for
// Key, DY for Scroll (positive scrolls down) and Text for Output.
type Event struct {
	Kind EventKind
	X, Y int
	Rune rune
	DY   int
	Text string
}

// Port is the drawing surface and the input source of a Window.
type Port interface {
	// DrawText draws text with its top left corner at x, y in the
	// current color.
	DrawText(x, y int, text string)
	// DrawRect fills a rectangle with the current color.
	DrawRect(x, y, w, h int)
	SetColor(role ColorRole)
	// Flush makes everything drawn since the last Flush visible.
	Flush()
	Measure(text string) Extent
	Size() (w, h int)
	// PollEvent blocks until an event is available.
	PollEvent() Event
}
