package gui

// ID identifies an interactive element across frames.
type ID int

// NoID is the ID of no element.
const NoID ID = 0

// Context is the interaction state of the immediate-mode UI.
//
// HotID is the element under the pointer, ActiveID the element the
// pointer is pressing. Both are recomputed by the elements drawn in a
// frame and reset by EndFrame.
type Context struct {
	PointerX, PointerY int
	PointerDown        bool

	HotID    ID
	ActiveID ID

	pressX, pressY int
	// pressed and released are set in the frame following a button
	// transition.
	pressed  bool
	released bool
}

// Apply updates the pointer state with ev.
func (ctx *Context) Apply(ev Event) {
	switch ev.Kind {
	case PointerMove:
		ctx.PointerX, ctx.PointerY = ev.X, ev.Y
	case ButtonDown:
		ctx.PointerX, ctx.PointerY = ev.X, ev.Y
		ctx.PointerDown = true
		ctx.pressed = true
		ctx.pressX, ctx.pressY = ev.X, ev.Y
	case ButtonUp:
		ctx.PointerX, ctx.PointerY = ev.X, ev.Y
		ctx.PointerDown = false
		ctx.released = true
	}
}

// EndFrame resets the per-frame state.
func (ctx *Context) EndFrame() {
	ctx.HotID = NoID
	ctx.ActiveID = NoID
	ctx.pressed = false
	ctx.released = false
}

func inside(x, y, rx, ry, rw, rh int) bool {
	return x >= rx && x < rx+rw && y >= ry && y < ry+rh
}

// Interact registers an element with the given rectangle and returns true
// if it was clicked, pressed and released inside the rectangle.
func (ctx *Context) Interact(id ID, x, y, w, h int) bool {
	over := inside(ctx.PointerX, ctx.PointerY, x, y, w, h)
	if !over {
		return false
	}
	ctx.HotID = id
	if ctx.PointerDown {
		ctx.ActiveID = id
	}
	return ctx.released && inside(ctx.pressX, ctx.pressY, x, y, w, h)
}
