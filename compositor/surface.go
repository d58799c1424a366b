package compositor

import (
	"image"
	"slices"

	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
)

// SurfaceID is a server wide surface handle. Ids are never reused, so a
// stale id simply stops resolving.
type SurfaceID uint64

type surfaceRole int

const (
	roleNone surfaceRole = iota
	roleXdgToplevel
	roleXdgPopup
	roleSubsurface
	roleCursor
	roleXWayland
)

func (r surfaceRole) String() string {
	switch r {
	case roleXdgToplevel:
		return "xdg_toplevel"
	case roleXdgPopup:
		return "xdg_popup"
	case roleSubsurface:
		return "subsurface"
	case roleCursor:
		return "cursor"
	case roleXWayland:
		return "xwayland"
	default:
		return "none"
	}
}

type surfaceState struct {
	buffer    *Buffer
	attached  bool
	dx, dy    int32
	callbacks []*Resource
	scale     int32
	transform int32
}

type Surface struct {
	ID SurfaceID

	resource *Resource
	client   *Client
	role     surfaceRole

	pending surfaceState
	current surfaceState
	// Frame callbacks of committed content, oldest first
	frameCallbacks []*Resource
	committed      bool

	parent   *Surface
	children []*Surface
	sub      *subsurface
	xdg      *xdgSurface
	xwayland *xwaylandSurface
}

// HasContent reports whether the current state has a buffer to show.
// Committed surfaces without one are stubs.
func (surf *Surface) HasContent() bool {
	return surf.current.buffer != nil && !surf.current.buffer.destroyed
}

type region struct {
	rects []regionOp
}

type regionOp struct {
	add                 bool
	x, y, width, height int32
}

func (s *Server) bindCompositor(c *Client, id, version uint32) error {
	_, err := c.newResource(id, compositorInterface, version, []requestHandler{
		s.compositorCreateSurface,
		s.compositorCreateRegion,
	}, nil)
	return err
}

func (s *Server) compositorCreateSurface(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	s.nextSurface++
	surf := &Surface{
		ID:      s.nextSurface,
		client:  c,
		pending: surfaceState{scale: 1},
		current: surfaceState{scale: 1},
	}
	res, err := c.newResource(id, surfaceInterface, r.Version, []requestHandler{
		destroyHandler,
		s.surfaceAttach,
		s.surfaceDamage,
		s.surfaceFrame,
		s.surfaceSetRegion,
		s.surfaceSetRegion,
		s.surfaceCommit,
		s.surfaceSetBufferTransform,
		s.surfaceSetBufferScale,
		s.surfaceDamage,
		s.surfaceOffset,
	}, surf)
	if err != nil {
		return err
	}
	surf.resource = res
	res.onDestroy = func() { s.destroySurface(surf) }
	s.surfaces[surf.ID] = surf

	logrus.WithFields(logrus.Fields{
		"client":  c.ID,
		"surface": surf.ID,
	}).Debugln("New surface")
	if c.Kind == ClientBridged && s.bridge != nil {
		s.bridge.surfaceCreated(surf)
	}
	return nil
}

func (s *Server) compositorCreateRegion(c *Client, _ *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	reg := &region{}
	edit := func(add bool) requestHandler {
		return func(_ *Client, _ *Resource, m *wire.Message) error {
			op := regionOp{add: add, x: m.Int(), y: m.Int(), width: m.Int(), height: m.Int()}
			if err := m.Err(); err != nil {
				return err
			}
			reg.rects = append(reg.rects, op)
			return nil
		}
	}
	_, err := c.newResource(id, regionInterface, 1, []requestHandler{
		destroyHandler,
		edit(true),
		edit(false),
	}, reg)
	return err
}

// destroyHandler implements every plain destructor request.
func destroyHandler(c *Client, r *Resource, _ *wire.Message) error {
	c.destroyResource(r)
	return nil
}

func (s *Server) destroySurface(surf *Surface) {
	for _, cb := range surf.pending.callbacks {
		surf.client.destroyResource(cb)
	}
	for _, cb := range surf.frameCallbacks {
		surf.client.destroyResource(cb)
	}
	surf.pending.callbacks = nil
	surf.frameCallbacks = nil

	if surf.parent != nil {
		surf.parent.children = slices.DeleteFunc(surf.parent.children, func(o *Surface) bool { return o == surf })
		surf.parent = nil
	}
	for _, child := range surf.children {
		child.parent = nil
	}
	surf.children = nil

	if s.seat.pointerFocus == surf {
		s.seat.pointerFocus = nil
	}
	if s.bridge != nil {
		s.bridge.surfaceDestroyed(surf)
	}
	s.foreignSurfaceDestroyed(surf)
	delete(s.surfaces, surf.ID)
	delete(s.dirty, surf.ID)
	logrus.WithFields(logrus.Fields{
		"client":  surf.client.ID,
		"surface": surf.ID,
	}).Debugln("Surface destroyed")
}

func (s *Server) surfaceAttach(c *Client, r *Resource, m *wire.Message) error {
	bufID := m.Object()
	dx, dy := m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	res, err := c.lookup(bufID, bufferInterface, true)
	if err != nil {
		return err
	}
	surf := r.Data.(*Surface)
	surf.pending.attached = true
	surf.pending.buffer = nil
	if res != nil {
		surf.pending.buffer = res.Data.(*Buffer)
	}
	surf.pending.dx, surf.pending.dy = dx, dy
	return nil
}

func (s *Server) surfaceDamage(_ *Client, _ *Resource, m *wire.Message) error {
	m.Int()
	m.Int()
	m.Int()
	m.Int()
	return m.Err()
}

func (s *Server) surfaceFrame(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	cb, err := c.newResource(id, callbackInterface, 1, nil, nil)
	if err != nil {
		return err
	}
	surf := r.Data.(*Surface)
	surf.pending.callbacks = append(surf.pending.callbacks, cb)
	return nil
}

// Opaque and input regions only matter to a renderer doing occlusion or
// 2D hit testing; neither happens here.
func (s *Server) surfaceSetRegion(c *Client, _ *Resource, m *wire.Message) error {
	id := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	_, err := c.lookup(id, regionInterface, true)
	return err
}

func (s *Server) surfaceCommit(_ *Client, r *Resource, _ *wire.Message) error {
	return s.commitSurface(r.Data.(*Surface))
}

func (s *Server) surfaceSetBufferTransform(_ *Client, r *Resource, m *wire.Message) error {
	transform := m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	if transform < 0 || transform > 7 {
		return r.postError(errSurfaceInvalidTransform, "buffer transform value %d is invalid", transform)
	}
	r.Data.(*Surface).pending.transform = transform
	return nil
}

func (s *Server) surfaceSetBufferScale(_ *Client, r *Resource, m *wire.Message) error {
	scale := m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	if scale < 1 {
		return r.postError(errSurfaceInvalidScale, "buffer scale value %d is not positive", scale)
	}
	r.Data.(*Surface).pending.scale = scale
	return nil
}

func (s *Server) surfaceOffset(_ *Client, r *Resource, m *wire.Message) error {
	dx, dy := m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	surf := r.Data.(*Surface)
	surf.pending.dx, surf.pending.dy = dx, dy
	return nil
}

// commitSurface applies pending state and marks the surface for the
// next redraw pass.
func (s *Server) commitSurface(surf *Surface) error {
	if surf.xdg != nil {
		if err := s.xdgPrecommit(surf.xdg); err != nil {
			return err
		}
	}

	if surf.pending.attached {
		old := surf.current.buffer
		surf.current.buffer = surf.pending.buffer
		if old != nil && old != surf.current.buffer {
			old.release()
		}
		surf.pending.attached = false
		surf.pending.buffer = nil
	}
	surf.current.dx, surf.current.dy = surf.pending.dx, surf.pending.dy
	surf.pending.dx, surf.pending.dy = 0, 0
	surf.current.scale = surf.pending.scale
	surf.current.transform = surf.pending.transform

	surf.frameCallbacks = append(surf.frameCallbacks, surf.pending.callbacks...)
	surf.pending.callbacks = nil

	for _, child := range surf.children {
		if child.sub != nil {
			child.sub.x, child.sub.y = child.sub.pendingX, child.sub.pendingY
		}
	}
	surf.committed = true

	if surf.xdg != nil {
		s.xdgCommit(surf.xdg)
	}
	if surf.xwayland != nil {
		s.xwaylandCommit(surf.xwayland)
	}
	s.dirty[surf.ID] = struct{}{}
	return nil
}

// CheckRedraw consumes the surface's dirty mark: true at most once per
// commit.
func (s *Server) CheckRedraw(id SurfaceID) bool {
	_, ok := s.dirty[id]
	delete(s.dirty, id)
	return ok
}

// DeliverFrameCallbacks completes the queued frame callbacks of a surface
// tree with time. Child subtrees go first, in stacking order, then the
// node itself. Never committed surfaces have nothing queued and are
// skipped. It returns how many callbacks fired.
func (s *Server) DeliverFrameCallbacks(id SurfaceID, time uint32) int {
	surf, ok := s.surfaces[id]
	if !ok {
		return 0
	}
	return s.sendFrames(surf, time)
}

func (s *Server) sendFrames(surf *Surface, time uint32) int {
	n := 0
	for _, child := range surf.children {
		n += s.sendFrames(child, time)
	}
	if !surf.committed {
		return n
	}
	callbacks := surf.frameCallbacks
	surf.frameCallbacks = nil
	for _, cb := range callbacks {
		cb.Send(cb.event(opCallbackDone).PutUint(time))
		cb.client.destroyResource(cb)
		n++
	}
	return n
}

// FrameRoots lists the surface trees that are not windows but still
// expect frame callbacks: popups and cursors, oldest first.
func (s *Server) FrameRoots() []SurfaceID {
	var out []SurfaceID
	for id, surf := range s.surfaces {
		if surf.parent == nil && (surf.role == roleXdgPopup || surf.role == roleCursor) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// SurfaceInfo is a read-only view of a surface.
type SurfaceInfo struct {
	ID         SurfaceID
	Client     ClientID
	Role       string
	Committed  bool
	HasContent bool
	Parent     SurfaceID
	// Position relative to the parent, subsurfaces only
	Offset   image.Point
	Children []SurfaceID
}

func (s *Server) Surface(id SurfaceID) (SurfaceInfo, bool) {
	surf, ok := s.surfaces[id]
	if !ok {
		return SurfaceInfo{}, false
	}
	info := SurfaceInfo{
		ID:         surf.ID,
		Client:     surf.client.ID,
		Role:       surf.role.String(),
		Committed:  surf.committed,
		HasContent: surf.HasContent(),
	}
	if surf.parent != nil {
		info.Parent = surf.parent.ID
	}
	if surf.sub != nil {
		info.Offset = image.Pt(int(surf.sub.x), int(surf.sub.y))
	}
	for _, child := range surf.children {
		info.Children = append(info.Children, child.ID)
	}
	return info, true
}

// BufferView exposes the pixels of a surface's current buffer. Pixels
// alias the client's shared memory and are only valid until the next
// dispatch.
type BufferView struct {
	Width, Height, Stride int32
	Format                uint32
	Pixels                []byte
}

// Opaque reports whether the alpha channel should be ignored.
func (v BufferView) Opaque() bool {
	return v.Format == shmFormatXRGB8888
}

func (s *Server) SurfaceBuffer(id SurfaceID) (BufferView, bool) {
	surf, ok := s.surfaces[id]
	if !ok || !surf.HasContent() {
		return BufferView{}, false
	}
	buf := surf.current.buffer
	pixels := buf.pixels()
	if pixels == nil {
		return BufferView{}, false
	}
	return BufferView{
		Width:  buf.width,
		Height: buf.height,
		Stride: buf.stride,
		Format: buf.format,
		Pixels: pixels,
	}, true
}
