package compositor

import (
	"fmt"
	"sort"

	"github.com/mstarongithub/wayvr/xwm"
	"github.com/sirupsen/logrus"
)

type WindowState int

const (
	WindowUnmapped WindowState = iota
	WindowMapRequested
	WindowMapped
	WindowDestroyed
)

func (st WindowState) String() string {
	switch st {
	case WindowUnmapped:
		return "unmapped"
	case WindowMapRequested:
		return "map requested"
	case WindowMapped:
		return "mapped"
	case WindowDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

// WindowManager is the X11 side the bridge acknowledges requests through.
type WindowManager interface {
	MapWindow(id uint32) error
	Configure(id uint32, geo xwm.Rect) error
	Close() error
}

// BridgedWindow is an X11 top level window of the Xwayland server.
type BridgedWindow struct {
	ID               uint32
	Geometry         xwm.Rect
	OverrideRedirect bool
	State            WindowState

	surface *Surface
	// A BridgedWindowMappedTask went out and no unmap followed yet
	presented bool
}

// Bridge reconciles X11 windows with the surfaces Xwayland creates on its
// Wayland connection. It lives on the reactor goroutine like everything
// else.
type Bridge struct {
	server  *Server
	client  *Client
	wm      WindowManager
	process *xwm.Process
	display int

	windows map[uint32]*BridgedWindow
	// wl_surface ids named by WL_SURFACE_ID before Xwayland created them
	parked map[uint32]uint32
	// xwayland_shell_v1 serials seen on one side only
	serialWindows  map[uint64]uint32
	serialSurfaces map[uint64]*Surface
}

func newBridge(s *Server, client *Client, wm WindowManager) *Bridge {
	return &Bridge{
		server:  s,
		client:  client,
		wm:      wm,
		display: -1,
		windows: make(map[uint32]*BridgedWindow),
		parked:  make(map[uint32]uint32),

		serialWindows:  make(map[uint64]uint32),
		serialSurfaces: make(map[uint64]*Surface),
	}
}

// Bridge returns the active bridge, nil while none runs.
func (s *Server) Bridge() *Bridge {
	return s.bridge
}

func winLog(id uint32) *logrus.Entry {
	return logrus.WithField("window", id)
}

func (b *Bridge) handle(ev xwm.Event) {
	switch e := ev.(type) {
	case xwm.NewWindow:
		if e.OverrideRedirect {
			b.NewOverrideRedirectWindow(e.Window, e.Geometry)
		} else {
			b.NewWindow(e.Window, e.Geometry)
		}
		if e.Mapped {
			b.markMapped(b.windows[e.Window])
		}
	case xwm.MapRequest:
		b.MapWindowRequest(e.Window)
	case xwm.MapNotify:
		if e.OverrideRedirect {
			b.MappedOverrideRedirectWindow(e.Window)
		}
	case xwm.ConfigureRequest:
		b.ConfigureRequest(e.Window, e.X, e.Y, e.Width, e.Height)
	case xwm.ConfigureNotify:
		b.ConfigureNotify(e.Window, e.Geometry)
	case xwm.ResizeRequest:
		b.ResizeRequest(e.Window, e.Button, e.Edge)
	case xwm.MoveRequest:
		b.MoveRequest(e.Window, e.Button)
	case xwm.UnmapNotify:
		b.UnmappedWindow(e.Window)
	case xwm.DestroyNotify:
		b.DestroyedWindow(e.Window)
	case xwm.SurfaceID:
		b.AssociateSurface(e.Window, e.Surface)
	case xwm.SurfaceSerial:
		b.AssociateSerial(e.Window, e.Serial)
	case xwm.RequestFailed:
		b.RequestFailed(e.Window, e.Err)
	default:
		logrus.WithField("event", fmt.Sprintf("%T", ev)).Warnln("Unknown bridge event")
	}
}

func (b *Bridge) lookup(id uint32, what string) (*BridgedWindow, bool) {
	win, ok := b.windows[id]
	if !ok {
		winLog(id).Warnf("%s for untracked window, ignoring", what)
	}
	return win, ok
}

func (b *Bridge) NewWindow(id uint32, geo xwm.Rect) {
	b.track(&BridgedWindow{ID: id, Geometry: geo})
}

func (b *Bridge) NewOverrideRedirectWindow(id uint32, geo xwm.Rect) {
	b.track(&BridgedWindow{ID: id, Geometry: geo, OverrideRedirect: true})
}

// track records a new window. A window adopted at startup can also show
// up in a create notify queued before the adoption, the first record
// wins then.
func (b *Bridge) track(win *BridgedWindow) {
	entry := winLog(win.ID).WithFields(logrus.Fields{
		"geometry":          win.Geometry,
		"override_redirect": win.OverrideRedirect,
	})
	if _, ok := b.windows[win.ID]; ok {
		entry.Debugln("X11 window already tracked")
		return
	}
	b.windows[win.ID] = win
	entry.Debugln("New X11 window")
}

// MapWindowRequest grants a map request. Every window is announced by a
// create notify or adopted at startup before it can ask to be mapped, so
// an unknown id means the bridge lost track of the X server and cannot
// continue.
func (b *Bridge) MapWindowRequest(id uint32) {
	win, ok := b.windows[id]
	if !ok {
		panic(fmt.Sprintf("bridge: map request for untracked window %d: windows must be created before they are mapped", id))
	}
	win.State = WindowMapRequested
	if b.wm == nil {
		winLog(id).Errorln("Map request before the window manager is ready")
		win.State = WindowUnmapped
		return
	}
	if err := b.wm.MapWindow(id); err != nil {
		winLog(id).WithError(err).Errorln("Acknowledging map request failed")
		win.State = WindowUnmapped
		return
	}
	b.markMapped(win)
}

// MappedOverrideRedirectWindow records a window the X server mapped on
// its own.
func (b *Bridge) MappedOverrideRedirectWindow(id uint32) {
	win, ok := b.lookup(id, "Map notify")
	if !ok {
		return
	}
	b.markMapped(win)
}

func (b *Bridge) markMapped(win *BridgedWindow) {
	win.State = WindowMapped
	b.present(win)
}

// RequestFailed handles an X error for a request the bridge sent without
// waiting. The X server rejecting anything about a mapped window means
// the map was not granted after all.
func (b *Bridge) RequestFailed(id uint32, reason string) {
	win, ok := b.lookup(id, "X error")
	if !ok {
		return
	}
	winLog(id).WithField("error", reason).Warnln("X request failed")
	if win.State != WindowMapped || win.OverrideRedirect {
		return
	}
	win.State = WindowUnmapped
	b.withdraw(win)
}

// ConfigureRequest merges the provided fields into the window geometry
// and grants the result.
func (b *Bridge) ConfigureRequest(id uint32, x, y *int32, width, height *uint32) {
	win, ok := b.lookup(id, "Configure request")
	if !ok {
		return
	}
	if x != nil {
		win.Geometry.X = *x
	}
	if y != nil {
		win.Geometry.Y = *y
	}
	if width != nil {
		win.Geometry.Width = *width
	}
	if height != nil {
		win.Geometry.Height = *height
	}
	if b.wm == nil {
		return
	}
	if err := b.wm.Configure(id, win.Geometry); err != nil {
		winLog(id).WithError(err).Warnln("Acknowledging configure request failed")
	}
}

func (b *Bridge) ConfigureNotify(id uint32, geo xwm.Rect) {
	if _, ok := b.lookup(id, "Configure notify"); !ok {
		return
	}
	winLog(id).WithField("geometry", geo).Debugln("Window configured")
}

func (b *Bridge) ResizeRequest(id uint32, button uint32, edge xwm.ResizeEdge) {
	if _, ok := b.lookup(id, "Resize request"); !ok {
		return
	}
	winLog(id).WithFields(logrus.Fields{
		"button": button,
		"edge":   edge,
	}).Debugln("Interactive resize requested")
}

func (b *Bridge) MoveRequest(id uint32, button uint32) {
	if _, ok := b.lookup(id, "Move request"); !ok {
		return
	}
	winLog(id).WithField("button", button).Debugln("Interactive move requested")
}

func (b *Bridge) UnmappedWindow(id uint32) {
	win, ok := b.lookup(id, "Unmap notify")
	if !ok {
		return
	}
	win.State = WindowUnmapped
	b.withdraw(win)
	win.surface = nil
	b.unpark(id)
}

func (b *Bridge) DestroyedWindow(id uint32) {
	win, ok := b.lookup(id, "Destroy notify")
	if !ok {
		return
	}
	b.withdraw(win)
	win.surface = nil
	win.State = WindowDestroyed
	b.unpark(id)
	delete(b.windows, id)
	winLog(id).Debugln("X11 window destroyed")
}

// AssociateSurface links a window to a wl_surface of the bridged client.
// If that surface was not created yet the link waits for it.
func (b *Bridge) AssociateSurface(id uint32, surfaceObject uint32) {
	win, ok := b.lookup(id, "Surface association")
	if !ok {
		return
	}
	if b.client != nil {
		if r, ok := b.client.resource(surfaceObject); ok && r.Interface == surfaceInterface {
			b.associate(win, r.Data.(*Surface))
			return
		}
	}
	b.parked[surfaceObject] = id
	winLog(id).WithField("object", surfaceObject).Debugln("Surface association parked")
}

func (b *Bridge) associate(win *BridgedWindow, surf *Surface) {
	win.surface = surf
	if surf.role == roleNone {
		surf.role = roleXWayland
	}
	winLog(win.ID).WithField("surface", surf.ID).Debugln("Window associated with surface")
	b.present(win)
}

// AssociateSerial pairs a window with the surface that committed the
// same xwayland_shell_v1 serial. Whichever side comes second completes
// the pair.
func (b *Bridge) AssociateSerial(id uint32, serial uint64) {
	win, ok := b.lookup(id, "Surface serial")
	if !ok {
		return
	}
	if surf, ok := b.serialSurfaces[serial]; ok {
		delete(b.serialSurfaces, serial)
		b.associate(win, surf)
		return
	}
	b.serialWindows[serial] = id
	winLog(id).WithField("serial", serial).Debugln("Surface serial waits for its surface")
}

func (b *Bridge) surfaceSerial(surf *Surface, serial uint64) {
	id, ok := b.serialWindows[serial]
	if !ok {
		b.serialSurfaces[serial] = surf
		return
	}
	delete(b.serialWindows, serial)
	if win, ok := b.windows[id]; ok {
		b.associate(win, surf)
	}
}

func (b *Bridge) unpark(id uint32) {
	for obj, win := range b.parked {
		if win == id {
			delete(b.parked, obj)
		}
	}
	for serial, win := range b.serialWindows {
		if win == id {
			delete(b.serialWindows, serial)
		}
	}
}

// present announces a window once it is both mapped and backed by a
// surface.
func (b *Bridge) present(win *BridgedWindow) {
	if win.presented || win.State != WindowMapped || win.surface == nil {
		return
	}
	win.presented = true
	b.server.pushTask(BridgedWindowMappedTask{
		Window:   win.ID,
		Surface:  win.surface.ID,
		Geometry: win.Geometry,
	})
	winLog(win.ID).WithField("surface", win.surface.ID).Infoln("X11 window presented")
}

func (b *Bridge) withdraw(win *BridgedWindow) {
	if !win.presented {
		return
	}
	win.presented = false
	task := BridgedWindowUnmappedTask{Window: win.ID}
	if win.surface != nil {
		task.Surface = win.surface.ID
	}
	b.server.pushTask(task)
}

// surfaceCreated completes a parked association.
func (b *Bridge) surfaceCreated(surf *Surface) {
	if surf.client != b.client {
		return
	}
	id, ok := b.parked[surf.resource.ID]
	if !ok {
		return
	}
	delete(b.parked, surf.resource.ID)
	if win, ok := b.windows[id]; ok {
		b.associate(win, surf)
	}
}

func (b *Bridge) surfaceDestroyed(surf *Surface) {
	for serial, other := range b.serialSurfaces {
		if other == surf {
			delete(b.serialSurfaces, serial)
		}
	}
	for _, win := range b.windows {
		if win.surface == surf {
			b.withdraw(win)
			win.surface = nil
		}
	}
}

// clientGone runs when the Xwayland connection dropped. The bridge cannot
// recover from that and shuts down.
func (b *Bridge) clientGone() {
	logrus.WithField("windows", len(b.windows)).Errorln("Xwayland connection lost, bridge shut down")
	b.close()
	b.server.bridge = nil
}

func (b *Bridge) close() {
	for _, win := range b.windows {
		b.withdraw(win)
	}
	if b.wm != nil {
		if err := b.wm.Close(); err != nil {
			logrus.WithError(err).Debugln("Closing window manager")
		}
		b.wm = nil
	}
	if b.process != nil {
		if err := b.process.Kill(); err != nil {
			logrus.WithError(err).Warnln("Stopping Xwayland failed")
		}
		b.process = nil
	}
}

// WindowInfo is a read-only view of a bridged window.
type WindowInfo struct {
	ID               uint32
	Geometry         xwm.Rect
	OverrideRedirect bool
	State            WindowState
	Surface          SurfaceID
}

func (win *BridgedWindow) info() WindowInfo {
	info := WindowInfo{
		ID:               win.ID,
		Geometry:         win.Geometry,
		OverrideRedirect: win.OverrideRedirect,
		State:            win.State,
	}
	if win.surface != nil {
		info.Surface = win.surface.ID
	}
	return info
}

func (b *Bridge) Window(id uint32) (WindowInfo, bool) {
	win, ok := b.windows[id]
	if !ok {
		return WindowInfo{}, false
	}
	return win.info(), true
}

// Windows lists tracked windows by id.
func (b *Bridge) Windows() []WindowInfo {
	out := make([]WindowInfo, 0, len(b.windows))
	for _, win := range b.windows {
		out = append(out, win.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Display is the X11 display number, -1 until Xwayland is ready.
func (b *Bridge) Display() int {
	return b.display
}
