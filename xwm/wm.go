package xwm

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/sirupsen/logrus"
)

// _NET_WM_MOVERESIZE direction meaning a move instead of a resize
const moveResizeMove = 8

type atoms struct {
	wlSurfaceID     xproto.Atom
	wlSurfaceSerial xproto.Atom
	netMoveResize   xproto.Atom
}

// WM manages the windows of one X server.
type WM struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms atoms
	// Windows that existed before the WM took over, replayed by Run
	adopted []Event

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewWM takes over window management on conn. It fails when another
// window manager already holds SubstructureRedirect on the root.
func NewWM(conn net.Conn) (*WM, error) {
	x, err := xgb.NewConnNet(conn)
	if err != nil {
		return nil, fmt.Errorf("connecting to X server: %w", err)
	}
	wm := &WM{
		conn: x,
		root: xproto.Setup(x).DefaultScreen(x).Root,
	}
	mask := uint32(xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify)
	if err = xproto.ChangeWindowAttributesChecked(x, wm.root, xproto.CwEventMask, []uint32{mask}).Check(); err != nil {
		x.Close()
		return nil, fmt.Errorf("becoming window manager: %w", err)
	}
	if wm.atoms.wlSurfaceID, err = wm.intern("WL_SURFACE_ID"); err != nil {
		x.Close()
		return nil, err
	}
	if wm.atoms.wlSurfaceSerial, err = wm.intern("WL_SURFACE_SERIAL"); err != nil {
		x.Close()
		return nil, err
	}
	if wm.atoms.netMoveResize, err = wm.intern("_NET_WM_MOVERESIZE"); err != nil {
		x.Close()
		return nil, err
	}
	if wm.adopted, err = wm.adopt(); err != nil {
		x.Close()
		return nil, err
	}
	return wm, nil
}

// adopt lists the top level windows created before SubstructureRedirect
// was in place. Windows that vanish while being queried are skipped.
func (wm *WM) adopt() ([]Event, error) {
	tree, err := xproto.QueryTree(wm.conn, wm.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("listing existing windows: %w", err)
	}
	var out []Event
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(wm.conn, child).Reply()
		if err != nil {
			continue
		}
		geo, err := xproto.GetGeometry(wm.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		out = append(out, existingWindow(child, attrs, geo))
	}
	if len(out) > 0 {
		logrus.WithField("windows", len(out)).Infoln("Adopted existing X11 windows")
	}
	return out, nil
}

func existingWindow(id xproto.Window, attrs *xproto.GetWindowAttributesReply, geo *xproto.GetGeometryReply) NewWindow {
	return NewWindow{
		Window:           uint32(id),
		Geometry:         Rect{X: int32(geo.X), Y: int32(geo.Y), Width: uint32(geo.Width), Height: uint32(geo.Height)},
		OverrideRedirect: attrs.OverrideRedirect,
		Mapped:           attrs.MapState == xproto.MapStateViewable,
	}
}

func (wm *WM) intern(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(wm.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("interning %s: %w", name, err)
	}
	return reply.Atom, nil
}

// Run replays the adopted windows, then reads X events until the
// connection closes or post returns false. Errors of the unchecked
// requests sent by MapWindow and Configure arrive here too.
func (wm *WM) Run(post func(Event) bool) {
	for _, ev := range wm.adopted {
		if !post(ev) {
			return
		}
	}
	wm.adopted = nil
	for {
		xev, xerr := wm.conn.WaitForEvent()
		if xev == nil && xerr == nil {
			logrus.Debugln("X connection closed")
			return
		}
		if xerr != nil {
			if !post(requestFailed(xerr)) {
				return
			}
			continue
		}
		ev, ok := wm.translate(xev)
		if !ok {
			continue
		}
		if !post(ev) {
			return
		}
	}
}

// translate keeps the events of top level windows the bridge tracks.
func (wm *WM) translate(xev xgb.Event) (Event, bool) {
	switch e := xev.(type) {
	case xproto.CreateNotifyEvent:
		if e.Parent != wm.root {
			return nil, false
		}
		return NewWindow{
			Window:           uint32(e.Window),
			Geometry:         Rect{X: int32(e.X), Y: int32(e.Y), Width: uint32(e.Width), Height: uint32(e.Height)},
			OverrideRedirect: e.OverrideRedirect,
		}, true
	case xproto.MapRequestEvent:
		return MapRequest{Window: uint32(e.Window)}, true
	case xproto.MapNotifyEvent:
		if e.Event != wm.root {
			return nil, false
		}
		return MapNotify{Window: uint32(e.Window), OverrideRedirect: e.OverrideRedirect}, true
	case xproto.ConfigureRequestEvent:
		req := ConfigureRequest{Window: uint32(e.Window)}
		if e.ValueMask&xproto.ConfigWindowX != 0 {
			x := int32(e.X)
			req.X = &x
		}
		if e.ValueMask&xproto.ConfigWindowY != 0 {
			y := int32(e.Y)
			req.Y = &y
		}
		if e.ValueMask&xproto.ConfigWindowWidth != 0 {
			w := uint32(e.Width)
			req.Width = &w
		}
		if e.ValueMask&xproto.ConfigWindowHeight != 0 {
			h := uint32(e.Height)
			req.Height = &h
		}
		return req, true
	case xproto.ConfigureNotifyEvent:
		if e.Event != wm.root {
			return nil, false
		}
		return ConfigureNotify{
			Window:   uint32(e.Window),
			Geometry: Rect{X: int32(e.X), Y: int32(e.Y), Width: uint32(e.Width), Height: uint32(e.Height)},
			Above:    uint32(e.AboveSibling),
		}, true
	case xproto.UnmapNotifyEvent:
		if e.Event != wm.root {
			return nil, false
		}
		return UnmapNotify{Window: uint32(e.Window)}, true
	case xproto.DestroyNotifyEvent:
		if e.Event != wm.root {
			return nil, false
		}
		return DestroyNotify{Window: uint32(e.Window)}, true
	case xproto.ClientMessageEvent:
		return wm.clientMessage(e)
	}
	return nil, false
}

func (wm *WM) clientMessage(e xproto.ClientMessageEvent) (Event, bool) {
	data := e.Data.Data32
	switch e.Type {
	case wm.atoms.wlSurfaceID:
		if len(data) < 1 {
			return nil, false
		}
		return SurfaceID{Window: uint32(e.Window), Surface: data[0]}, true
	case wm.atoms.wlSurfaceSerial:
		// serial_lo, serial_hi
		if len(data) < 2 {
			return nil, false
		}
		return SurfaceSerial{Window: uint32(e.Window), Serial: uint64(data[1])<<32 | uint64(data[0])}, true
	case wm.atoms.netMoveResize:
		// x_root, y_root, direction, button, source
		if len(data) < 4 {
			return nil, false
		}
		direction, button := data[2], data[3]
		if direction == moveResizeMove {
			return MoveRequest{Window: uint32(e.Window), Button: button}, true
		}
		if direction < moveResizeMove {
			return ResizeRequest{Window: uint32(e.Window), Button: button, Edge: ResizeEdge(direction)}, true
		}
	}
	return nil, false
}

func requestFailed(xerr xgb.Error) RequestFailed {
	return RequestFailed{Window: xerr.BadId(), Err: xerr.Error()}
}

// MapWindow grants a map request. It does not wait for the X server, a
// failure shows up as a RequestFailed event.
func (wm *WM) MapWindow(id uint32) error {
	if wm.closed.Load() {
		return fmt.Errorf("mapping window %d: %w", id, errClosed)
	}
	xproto.MapWindow(wm.conn, xproto.Window(id))
	return nil
}

// Configure applies geo to a window, without waiting like MapWindow.
func (wm *WM) Configure(id uint32, geo Rect) error {
	if wm.closed.Load() {
		return fmt.Errorf("configuring window %d to %s: %w", id, geo, errClosed)
	}
	mask := uint16(xproto.ConfigWindowX | xproto.ConfigWindowY | xproto.ConfigWindowWidth | xproto.ConfigWindowHeight)
	values := []uint32{uint32(geo.X), uint32(geo.Y), geo.Width, geo.Height}
	xproto.ConfigureWindow(wm.conn, xproto.Window(id), mask, values)
	return nil
}

var errClosed = errors.New("window manager closed")

// Close drops the X connection, which also ends Run.
func (wm *WM) Close() error {
	err := errClosed
	wm.closeOnce.Do(func() {
		wm.closed.Store(true)
		wm.conn.Close()
		err = nil
	})
	return err
}
