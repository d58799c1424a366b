package compositor

import (
	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
)

// xwaylandSurface carries the serial Xwayland uses to pair a wl_surface
// with its X11 window. The serial is double buffered like the rest of
// the surface state.
type xwaylandSurface struct {
	resource *Resource
	surface  *Surface
	pending  uint64
	serial   uint64
}

func (s *Server) bindXWaylandShell(c *Client, id, version uint32) error {
	_, err := c.newResource(id, xwaylandShellInterface, version, []requestHandler{
		destroyHandler,
		s.xwaylandShellGetSurface,
	}, nil)
	return err
}

func (s *Server) xwaylandShellGetSurface(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	surfaceID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	res, err := c.lookup(surfaceID, surfaceInterface, false)
	if err != nil {
		return err
	}
	surf := res.Data.(*Surface)
	if surf.xwayland != nil || (surf.role != roleNone && surf.role != roleXWayland) {
		return r.postError(errXWaylandShellRole, "wl_surface@%d already has the %s role", surfaceID, surf.role)
	}

	xs := &xwaylandSurface{surface: surf}
	xr, err := c.newResource(id, xwaylandSurfaceInterface, r.Version, []requestHandler{
		s.xwaylandSurfaceSetSerial,
		destroyHandler,
	}, xs)
	if err != nil {
		return err
	}
	xs.resource = xr
	xr.onDestroy = func() {
		if surf.xwayland == xs {
			surf.xwayland = nil
		}
	}
	surf.role = roleXWayland
	surf.xwayland = xs
	return nil
}

func (s *Server) xwaylandSurfaceSetSerial(_ *Client, r *Resource, m *wire.Message) error {
	lo, hi := m.Uint(), m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	xs := r.Data.(*xwaylandSurface)
	serial := uint64(hi)<<32 | uint64(lo)
	if serial == 0 {
		return r.postError(errXWaylandSurfaceInvalidSerial, "serial 0 is reserved")
	}
	if xs.serial != 0 {
		return r.postError(errXWaylandSurfaceAlreadyAssociated, "surface already carries serial %d", xs.serial)
	}
	xs.pending = serial
	return nil
}

// xwaylandCommit applies a pending serial and lets the bridge pair it.
func (s *Server) xwaylandCommit(xs *xwaylandSurface) {
	if xs.pending == 0 {
		return
	}
	xs.serial, xs.pending = xs.pending, 0
	logrus.WithFields(logrus.Fields{
		"surface": xs.surface.ID,
		"serial":  xs.serial,
	}).Debugln("Xwayland surface serial set")
	if s.bridge != nil && s.bridge.client == xs.surface.client {
		s.bridge.surfaceSerial(xs.surface, xs.serial)
	}
}
