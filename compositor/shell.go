package compositor

import (
	"encoding/binary"
	"image"
	"slices"
	"sort"

	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
)

type ToplevelID uint64

type shellState struct {
	toplevels    map[ToplevelID]*Toplevel
	nextToplevel ToplevelID
	// At most one toplevel is activated at a time
	focused *Toplevel
}

func (st *shellState) init() {
	st.toplevels = make(map[ToplevelID]*Toplevel)
}

type wmBase struct {
	resource *Resource
	surfaces int
}

type xdgSurface struct {
	resource *Resource
	base     *wmBase
	surface  *Surface
	toplevel *Toplevel
	popup    *popup

	// Set by the first ack_configure
	configured bool
	// Configure serials sent but not acked yet, oldest first
	serials  []uint32
	geometry image.Rectangle
}

// Toplevel is a desktop window of a native client.
type Toplevel struct {
	ID ToplevelID

	resource *Resource
	xdg      *xdgSurface
	parent   *Toplevel

	title, appID string
	minSize      image.Point
	maxSize      image.Point
	activated    bool
	mapped       bool
}

type popup struct {
	resource *Resource
	xdg      *xdgSurface
	parent   *xdgSurface
	geometry image.Rectangle
}

type positioner struct {
	size          image.Point
	anchorRect    image.Rectangle
	hasSize       bool
	hasAnchorRect bool
	anchor        uint32
	gravity       uint32
	offset        image.Point
	constraints   uint32
	reactive      bool
	parentSize    image.Point
}

// xdg_positioner anchor and gravity share one edge enum.
const (
	edgeNone = iota
	edgeTop
	edgeBottom
	edgeLeft
	edgeRight
	edgeTopLeft
	edgeBottomLeft
	edgeTopRight
	edgeBottomRight
)

func edgeHorizontal(e uint32) int {
	switch e {
	case edgeLeft, edgeTopLeft, edgeBottomLeft:
		return -1
	case edgeRight, edgeTopRight, edgeBottomRight:
		return 1
	}
	return 0
}

func edgeVertical(e uint32) int {
	switch e {
	case edgeTop, edgeTopLeft, edgeTopRight:
		return -1
	case edgeBottom, edgeBottomLeft, edgeBottomRight:
		return 1
	}
	return 0
}

// place computes the popup rectangle relative to the parent's window
// geometry. Constraint adjustment is not applied: there is no output to
// constrain against.
func (p *positioner) place() image.Rectangle {
	ar := p.anchorRect
	var anchor image.Point
	switch edgeHorizontal(p.anchor) {
	case -1:
		anchor.X = ar.Min.X
	case 1:
		anchor.X = ar.Max.X
	default:
		anchor.X = ar.Min.X + ar.Dx()/2
	}
	switch edgeVertical(p.anchor) {
	case -1:
		anchor.Y = ar.Min.Y
	case 1:
		anchor.Y = ar.Max.Y
	default:
		anchor.Y = ar.Min.Y + ar.Dy()/2
	}

	origin := anchor.Add(p.offset)
	switch edgeHorizontal(p.gravity) {
	case -1:
		origin.X -= p.size.X
	case 0:
		origin.X -= p.size.X / 2
	}
	switch edgeVertical(p.gravity) {
	case -1:
		origin.Y -= p.size.Y
	case 0:
		origin.Y -= p.size.Y / 2
	}
	return image.Rectangle{Min: origin, Max: origin.Add(p.size)}
}

func (s *Server) bindXdgWmBase(c *Client, id, version uint32) error {
	base := &wmBase{}
	r, err := c.newResource(id, xdgWmBaseInterface, version, []requestHandler{
		s.wmBaseDestroy,
		s.wmBaseCreatePositioner,
		s.wmBaseGetXdgSurface,
		s.wmBasePong,
	}, base)
	if err != nil {
		return err
	}
	base.resource = r
	return nil
}

func (s *Server) wmBaseDestroy(c *Client, r *Resource, _ *wire.Message) error {
	if base := r.Data.(*wmBase); base.surfaces > 0 {
		return r.postError(errXdgWmBaseDefunctSurfaces, "%d xdg_surfaces still alive", base.surfaces)
	}
	c.destroyResource(r)
	return nil
}

func (s *Server) wmBasePong(c *Client, _ *Resource, m *wire.Message) error {
	serial := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	c.log().WithField("serial", serial).Traceln("Pong")
	return nil
}

func (s *Server) wmBaseCreatePositioner(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	_, err := c.newResource(id, xdgPositionerInterface, r.Version, []requestHandler{
		destroyHandler,
		positionerSetSize,
		positionerSetAnchorRect,
		positionerSetEdge(func(p *positioner, v uint32) { p.anchor = v }),
		positionerSetEdge(func(p *positioner, v uint32) { p.gravity = v }),
		positionerSetConstraintAdjustment,
		positionerSetOffset,
		positionerSetReactive,
		positionerSetParentSize,
		positionerSetParentConfigure,
	}, &positioner{})
	return err
}

func positionerSetSize(_ *Client, r *Resource, m *wire.Message) error {
	w, h := m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	if w <= 0 || h <= 0 {
		return r.postError(errXdgPositionerInvalidInput, "size %dx%d is not positive", w, h)
	}
	p := r.Data.(*positioner)
	p.size = image.Pt(int(w), int(h))
	p.hasSize = true
	return nil
}

func positionerSetAnchorRect(_ *Client, r *Resource, m *wire.Message) error {
	x, y, w, h := m.Int(), m.Int(), m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	if w < 0 || h < 0 {
		return r.postError(errXdgPositionerInvalidInput, "anchor rect %dx%d is negative", w, h)
	}
	p := r.Data.(*positioner)
	p.anchorRect = image.Rect(int(x), int(y), int(x+w), int(y+h))
	p.hasAnchorRect = true
	return nil
}

func positionerSetEdge(set func(p *positioner, v uint32)) requestHandler {
	return func(_ *Client, r *Resource, m *wire.Message) error {
		v := m.Uint()
		if err := m.Err(); err != nil {
			return err
		}
		if v > edgeBottomRight {
			return r.postError(errXdgPositionerInvalidInput, "invalid edge %d", v)
		}
		set(r.Data.(*positioner), v)
		return nil
	}
}

func positionerSetConstraintAdjustment(_ *Client, r *Resource, m *wire.Message) error {
	v := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	r.Data.(*positioner).constraints = v
	return nil
}

func positionerSetOffset(_ *Client, r *Resource, m *wire.Message) error {
	x, y := m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	r.Data.(*positioner).offset = image.Pt(int(x), int(y))
	return nil
}

func positionerSetReactive(_ *Client, r *Resource, _ *wire.Message) error {
	r.Data.(*positioner).reactive = true
	return nil
}

func positionerSetParentSize(_ *Client, r *Resource, m *wire.Message) error {
	w, h := m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	r.Data.(*positioner).parentSize = image.Pt(int(w), int(h))
	return nil
}

func positionerSetParentConfigure(_ *Client, _ *Resource, m *wire.Message) error {
	m.Uint()
	return m.Err()
}

func (s *Server) wmBaseGetXdgSurface(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	surfaceID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	surfRes, err := c.lookup(surfaceID, surfaceInterface, false)
	if err != nil {
		return err
	}
	surf := surfRes.Data.(*Surface)
	if surf.xdg != nil {
		return r.postError(errXdgWmBaseRole, "wl_surface@%d already has an xdg_surface", surfaceID)
	}
	if surf.role != roleNone && surf.role != roleXdgToplevel && surf.role != roleXdgPopup {
		return r.postError(errXdgWmBaseRole, "wl_surface@%d already has the %s role", surfaceID, surf.role)
	}

	base := r.Data.(*wmBase)
	xs := &xdgSurface{base: base, surface: surf}
	res, err := c.newResource(id, xdgSurfaceInterface, r.Version, []requestHandler{
		destroyHandler,
		s.xdgSurfaceGetToplevel,
		s.xdgSurfaceGetPopup,
		s.xdgSurfaceSetWindowGeometry,
		s.xdgSurfaceAckConfigure,
	}, xs)
	if err != nil {
		return err
	}
	xs.resource = res
	base.surfaces++
	surf.xdg = xs
	res.onDestroy = func() {
		base.surfaces--
		if surf.xdg == xs {
			surf.xdg = nil
		}
	}
	return nil
}

// xdgPrecommit rejects commits the shell cannot accept yet.
func (s *Server) xdgPrecommit(xs *xdgSurface) error {
	if xs.toplevel == nil && xs.popup == nil {
		return xs.resource.postError(errXdgSurfaceNotConstructed, "commit before a role object was assigned")
	}
	pending := xs.surface.pending
	if !xs.configured && pending.attached && pending.buffer != nil {
		return xs.resource.postError(errXdgSurfaceUnconfiguredBuffer, "buffer attached before the first ack_configure")
	}
	return nil
}

func (s *Server) xdgCommit(xs *xdgSurface) {
	tl := xs.toplevel
	if tl == nil || tl.mapped == xs.surface.HasContent() {
		return
	}
	tl.mapped = !tl.mapped
	logrus.WithFields(logrus.Fields{
		"toplevel": tl.ID,
		"mapped":   tl.mapped,
	}).Debugln("Toplevel mapping changed")
}

// configureXdgSurface ends a configure sequence with a fresh serial.
func (s *Server) configureXdgSurface(xs *xdgSurface) {
	serial := s.nextSerial()
	xs.serials = append(xs.serials, serial)
	xs.resource.Send(xs.resource.event(opXdgSurfaceConfigure).PutUint(serial))
}

func (s *Server) xdgSurfaceAckConfigure(_ *Client, r *Resource, m *wire.Message) error {
	serial := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	xs := r.Data.(*xdgSurface)
	idx := slices.Index(xs.serials, serial)
	if idx < 0 {
		return r.postError(errXdgSurfaceInvalidSerial, "serial %d was never sent or already acked", serial)
	}
	xs.serials = xs.serials[idx+1:]
	xs.configured = true
	return nil
}

func (s *Server) xdgSurfaceSetWindowGeometry(_ *Client, r *Resource, m *wire.Message) error {
	x, y, w, h := m.Int(), m.Int(), m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	r.Data.(*xdgSurface).geometry = image.Rect(int(x), int(y), int(x+w), int(y+h))
	return nil
}

func (s *Server) xdgSurfaceGetToplevel(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	xs := r.Data.(*xdgSurface)
	if xs.toplevel != nil || xs.popup != nil {
		return r.postError(errXdgSurfaceAlreadyConstructed, "xdg_surface@%d already has a role object", r.ID)
	}
	if xs.surface.role != roleNone && xs.surface.role != roleXdgToplevel {
		return xs.base.resource.postError(errXdgWmBaseRole, "surface already has the %s role", xs.surface.role)
	}

	tl := &Toplevel{xdg: xs}
	res, err := c.newResource(id, xdgToplevelInterface, r.Version, []requestHandler{
		destroyHandler,
		s.toplevelSetParent,
		s.toplevelSetTitle,
		s.toplevelSetAppID,
		loggedRequest(func(m *wire.Message) { m.Object(); m.Uint(); m.Int(); m.Int() }),
		loggedRequest(func(m *wire.Message) { m.Object(); m.Uint() }),
		loggedRequest(func(m *wire.Message) { m.Object(); m.Uint(); m.Uint() }),
		s.toplevelSetSizeHint(func(tl *Toplevel, p image.Point) { tl.maxSize = p }),
		s.toplevelSetSizeHint(func(tl *Toplevel, p image.Point) { tl.minSize = p }),
		s.toplevelStateRequest(nil),
		s.toplevelStateRequest(nil),
		s.toplevelStateRequest(func(m *wire.Message) { m.Object() }),
		s.toplevelStateRequest(nil),
		loggedRequest(nil),
	}, tl)
	if err != nil {
		return err
	}
	tl.resource = res
	xs.toplevel = tl
	xs.surface.role = roleXdgToplevel
	res.onDestroy = func() { s.destroyToplevel(tl) }
	s.newToplevel(c, tl)
	return nil
}

// newToplevel registers the window, focuses it and tells the renderer.
func (s *Server) newToplevel(c *Client, tl *Toplevel) {
	s.shell.nextToplevel++
	tl.ID = s.shell.nextToplevel
	s.shell.toplevels[tl.ID] = tl

	s.focus(tl)
	s.configureToplevel(tl)
	s.pushTask(NewToplevelTask{Client: c.ID, Toplevel: tl.ID, Surface: tl.xdg.surface.ID})
	logrus.WithFields(logrus.Fields{
		"client":   c.ID,
		"toplevel": tl.ID,
		"surface":  tl.xdg.surface.ID,
	}).Infoln("New toplevel")
}

func (s *Server) destroyToplevel(tl *Toplevel) {
	delete(s.shell.toplevels, tl.ID)
	if tl.xdg.toplevel == tl {
		tl.xdg.toplevel = nil
	}
	for _, other := range s.shell.toplevels {
		if other.parent == tl {
			other.parent = nil
		}
	}
	if s.shell.focused == tl {
		s.shell.focused = nil
		s.focusChanged(tl, nil)
	}
	s.pushTask(ToplevelDestroyedTask{Client: tl.resource.client.ID, Toplevel: tl.ID, Surface: tl.xdg.surface.ID})
	logrus.WithField("toplevel", tl.ID).Infoln("Toplevel destroyed")
}

// focus activates tl and deactivates whatever was focused before.
func (s *Server) focus(tl *Toplevel) {
	prev := s.shell.focused
	if prev == tl {
		return
	}
	s.shell.focused = tl
	if prev != nil {
		prev.activated = false
		if !prev.resource.destroyed {
			s.configureToplevel(prev)
		}
	}
	if tl != nil {
		tl.activated = true
	}
	s.focusChanged(prev, tl)
}

func (s *Server) configureToplevel(tl *Toplevel) {
	var states []byte
	if tl.activated {
		states = binary.NativeEndian.AppendUint32(states, toplevelStateActivated)
	}
	tl.resource.Send(tl.resource.event(opXdgToplevelConfigure).
		PutInt(0).
		PutInt(0).
		PutArray(states))
	s.configureXdgSurface(tl.xdg)
}

func (s *Server) toplevelSetParent(c *Client, r *Resource, m *wire.Message) error {
	parentID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	res, err := c.lookup(parentID, xdgToplevelInterface, true)
	if err != nil {
		return err
	}
	tl := r.Data.(*Toplevel)
	tl.parent = nil
	if res != nil {
		tl.parent = res.Data.(*Toplevel)
	}
	return nil
}

func (s *Server) toplevelSetTitle(_ *Client, r *Resource, m *wire.Message) error {
	title := m.String()
	if err := m.Err(); err != nil {
		return err
	}
	r.Data.(*Toplevel).title = title
	return nil
}

func (s *Server) toplevelSetAppID(_ *Client, r *Resource, m *wire.Message) error {
	appID := m.String()
	if err := m.Err(); err != nil {
		return err
	}
	r.Data.(*Toplevel).appID = appID
	return nil
}

func (s *Server) toplevelSetSizeHint(set func(tl *Toplevel, p image.Point)) requestHandler {
	return func(_ *Client, r *Resource, m *wire.Message) error {
		w, h := m.Int(), m.Int()
		if err := m.Err(); err != nil {
			return err
		}
		set(r.Data.(*Toplevel), image.Pt(int(w), int(h)))
		return nil
	}
}

// toplevelStateRequest answers maximize and fullscreen requests with an
// unchanged configure, which the protocol allows.
func (s *Server) toplevelStateRequest(read func(m *wire.Message)) requestHandler {
	logged := loggedRequest(read)
	return func(c *Client, r *Resource, m *wire.Message) error {
		if err := logged(c, r, m); err != nil {
			return err
		}
		s.configureToplevel(r.Data.(*Toplevel))
		return nil
	}
}

// loggedRequest accepts a request there is no window policy for.
func loggedRequest(read func(m *wire.Message)) requestHandler {
	return func(c *Client, r *Resource, m *wire.Message) error {
		if read != nil {
			read(m)
		}
		if err := m.Err(); err != nil {
			return err
		}
		c.log().WithFields(logrus.Fields{
			"object":  r.ID,
			"request": r.Interface.Name + "." + r.Interface.Requests[m.Opcode],
		}).Debugln("Request accepted without effect")
		return nil
	}
}

func (s *Server) xdgSurfaceGetPopup(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	parentID := m.Object()
	positionerID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	xs := r.Data.(*xdgSurface)
	if xs.toplevel != nil || xs.popup != nil {
		return r.postError(errXdgSurfaceAlreadyConstructed, "xdg_surface@%d already has a role object", r.ID)
	}
	if xs.surface.role != roleNone && xs.surface.role != roleXdgPopup {
		return xs.base.resource.postError(errXdgWmBaseRole, "surface already has the %s role", xs.surface.role)
	}
	parentRes, err := c.lookup(parentID, xdgSurfaceInterface, true)
	if err != nil {
		return err
	}
	posRes, err := c.lookup(positionerID, xdgPositionerInterface, false)
	if err != nil {
		return err
	}
	pos := posRes.Data.(*positioner)
	if !pos.hasSize || !pos.hasAnchorRect {
		return xs.base.resource.postError(errXdgWmBaseInvalidPositioner, "positioner lacks a size or anchor rect")
	}

	p := &popup{xdg: xs, geometry: pos.place()}
	if parentRes != nil {
		p.parent = parentRes.Data.(*xdgSurface)
	}
	res, err := c.newResource(id, xdgPopupInterface, r.Version, []requestHandler{
		destroyHandler,
		s.popupGrab,
		s.popupReposition,
	}, p)
	if err != nil {
		return err
	}
	p.resource = res
	xs.popup = p
	xs.surface.role = roleXdgPopup
	res.onDestroy = func() {
		if xs.popup == p {
			xs.popup = nil
		}
	}
	s.configurePopup(p)
	return nil
}

func (s *Server) configurePopup(p *popup) {
	g := p.geometry
	p.resource.Send(p.resource.event(opXdgPopupConfigure).
		PutInt(int32(g.Min.X)).
		PutInt(int32(g.Min.Y)).
		PutInt(int32(g.Dx())).
		PutInt(int32(g.Dy())))
	s.configureXdgSurface(p.xdg)
}

// popupGrab is accepted without taking an input grab.
func (s *Server) popupGrab(c *Client, r *Resource, m *wire.Message) error {
	seatID := m.Object()
	serial := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	c.log().WithFields(logrus.Fields{
		"popup":  r.ID,
		"seat":   seatID,
		"serial": serial,
	}).Debugln("Popup grab ignored")
	return nil
}

func (s *Server) popupReposition(c *Client, r *Resource, m *wire.Message) error {
	positionerID := m.Object()
	token := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	posRes, err := c.lookup(positionerID, xdgPositionerInterface, false)
	if err != nil {
		return err
	}
	pos := posRes.Data.(*positioner)
	p := r.Data.(*popup)
	if !pos.hasSize || !pos.hasAnchorRect {
		return p.xdg.base.resource.postError(errXdgWmBaseInvalidPositioner, "positioner lacks a size or anchor rect")
	}
	p.geometry = pos.place()
	r.Send(r.event(opXdgPopupRepositioned).PutUint(token))
	s.configurePopup(p)
	return nil
}

// ToplevelInfo is a read-only view of a toplevel.
type ToplevelInfo struct {
	ID        ToplevelID
	Client    ClientID
	Surface   SurfaceID
	// Zero without a parent, which may belong to another client
	Parent    ToplevelID
	Title     string
	AppID     string
	Activated bool
	Mapped    bool
}

func (tl *Toplevel) info() ToplevelInfo {
	info := ToplevelInfo{
		ID:        tl.ID,
		Client:    tl.resource.client.ID,
		Surface:   tl.xdg.surface.ID,
		Title:     tl.title,
		AppID:     tl.appID,
		Activated: tl.activated,
		Mapped:    tl.mapped,
	}
	if tl.parent != nil {
		info.Parent = tl.parent.ID
	}
	return info
}

func (s *Server) Toplevel(id ToplevelID) (ToplevelInfo, bool) {
	tl, ok := s.shell.toplevels[id]
	if !ok {
		return ToplevelInfo{}, false
	}
	return tl.info(), true
}

// Toplevels lists live toplevels, oldest first.
func (s *Server) Toplevels() []ToplevelInfo {
	out := make([]ToplevelInfo, 0, len(s.shell.toplevels))
	for _, tl := range s.shell.toplevels {
		out = append(out, tl.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
