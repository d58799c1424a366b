// Package xwm is the X11 half of the Xwayland bridge: it launches
// Xwayland, acts as the window manager of its root window and turns the
// X events the compositor cares about into plain values.
package xwm

import "fmt"

// Rect is a window geometry in root coordinates.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Event is one window management event of the X server.
type Event interface {
	WindowID() uint32
}

// NewWindow is a top level window created on the root. Windows adopted
// at startup may already be Mapped.
type NewWindow struct {
	Window           uint32
	Geometry         Rect
	OverrideRedirect bool
	Mapped           bool
}

// MapRequest asks the window manager to map a managed window.
type MapRequest struct {
	Window uint32
}

// MapNotify reports a window that is mapped now. Only override redirect
// windows get mapped without asking first.
type MapNotify struct {
	Window           uint32
	OverrideRedirect bool
}

// ConfigureRequest carries only the fields the client asked to change.
type ConfigureRequest struct {
	Window        uint32
	X, Y          *int32
	Width, Height *uint32
}

type ConfigureNotify struct {
	Window   uint32
	Geometry Rect
	Above    uint32
}

type UnmapNotify struct {
	Window uint32
}

type DestroyNotify struct {
	Window uint32
}

// ResizeEdge follows the _NET_WM_MOVERESIZE direction numbering.
type ResizeEdge uint32

const (
	EdgeTopLeft ResizeEdge = iota
	EdgeTop
	EdgeTopRight
	EdgeRight
	EdgeBottomRight
	EdgeBottom
	EdgeBottomLeft
	EdgeLeft
)

func (e ResizeEdge) String() string {
	names := [...]string{"top-left", "top", "top-right", "right", "bottom-right", "bottom", "bottom-left", "left"}
	if int(e) < len(names) {
		return names[e]
	}
	return fmt.Sprintf("edge(%d)", uint32(e))
}

// ResizeRequest is an interactive resize started by the client.
type ResizeRequest struct {
	Window uint32
	Button uint32
	Edge   ResizeEdge
}

// MoveRequest is an interactive move started by the client.
type MoveRequest struct {
	Window uint32
	Button uint32
}

// SurfaceID links a window to the wl_surface object id Xwayland created
// for it on its Wayland connection.
type SurfaceID struct {
	Window  uint32
	Surface uint32
}

// SurfaceSerial links a window to the wl_surface that commits the same
// xwayland_shell_v1 serial.
type SurfaceSerial struct {
	Window uint32
	Serial uint64
}

// RequestFailed is an X error for a request sent without waiting. Window
// is the resource the error names, usually the window the request was
// for.
type RequestFailed struct {
	Window uint32
	Err    string
}

func (e NewWindow) WindowID() uint32        { return e.Window }
func (e MapRequest) WindowID() uint32       { return e.Window }
func (e MapNotify) WindowID() uint32        { return e.Window }
func (e ConfigureRequest) WindowID() uint32 { return e.Window }
func (e ConfigureNotify) WindowID() uint32  { return e.Window }
func (e UnmapNotify) WindowID() uint32      { return e.Window }
func (e DestroyNotify) WindowID() uint32    { return e.Window }
func (e ResizeRequest) WindowID() uint32    { return e.Window }
func (e MoveRequest) WindowID() uint32      { return e.Window }
func (e SurfaceID) WindowID() uint32        { return e.Window }
func (e SurfaceSerial) WindowID() uint32    { return e.Window }
func (e RequestFailed) WindowID() uint32    { return e.Window }
