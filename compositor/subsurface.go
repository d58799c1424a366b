package compositor

import (
	"slices"

	"github.com/mstarongithub/wayvr/wire"
)

// subsurface places a child surface relative to its parent. Commits are
// always applied straight away: synchronized mode is accepted but behaves
// like desync.
type subsurface struct {
	resource *Resource
	surface  *Surface

	x, y               int32
	pendingX, pendingY int32
	sync               bool
}

func (s *Server) bindSubcompositor(c *Client, id, version uint32) error {
	_, err := c.newResource(id, subcompositorInterface, version, []requestHandler{
		destroyHandler,
		s.subcompositorGetSubsurface,
	}, nil)
	return err
}

func (s *Server) subcompositorGetSubsurface(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	surfaceID := m.Object()
	parentID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	surfRes, err := c.lookup(surfaceID, surfaceInterface, false)
	if err != nil {
		return err
	}
	parentRes, err := c.lookup(parentID, surfaceInterface, false)
	if err != nil {
		return err
	}
	surf := surfRes.Data.(*Surface)
	parent := parentRes.Data.(*Surface)

	if surf.sub != nil || (surf.role != roleNone && surf.role != roleSubsurface) {
		return r.postError(errSubcompositorBadSurface, "wl_surface@%d already has the %s role", surfaceID, surf.role)
	}
	for p := parent; p != nil; p = p.parent {
		if p == surf {
			return r.postError(errSubcompositorBadParent, "wl_surface@%d cannot be its own ancestor", surfaceID)
		}
	}

	sub := &subsurface{surface: surf, sync: true}
	res, err := c.newResource(id, subsurfaceInterface, r.Version, []requestHandler{
		destroyHandler,
		s.subsurfaceSetPosition,
		s.subsurfacePlace(true),
		s.subsurfacePlace(false),
		s.subsurfaceSetSync(true),
		s.subsurfaceSetSync(false),
	}, sub)
	if err != nil {
		return err
	}
	sub.resource = res
	res.onDestroy = func() { unlinkSubsurface(sub) }

	surf.role = roleSubsurface
	surf.sub = sub
	surf.parent = parent
	parent.children = append(parent.children, surf)
	return nil
}

// unlinkSubsurface takes the child out of its parent's tree. The surface
// keeps its role and can become a subsurface again.
func unlinkSubsurface(sub *subsurface) {
	surf := sub.surface
	if surf.sub != sub {
		return
	}
	if surf.parent != nil {
		surf.parent.children = slices.DeleteFunc(surf.parent.children, func(o *Surface) bool { return o == surf })
		surf.parent = nil
	}
	surf.sub = nil
}

func (s *Server) subsurfaceSetPosition(_ *Client, r *Resource, m *wire.Message) error {
	x, y := m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	sub := r.Data.(*subsurface)
	sub.pendingX, sub.pendingY = x, y
	return nil
}

// subsurfacePlace restacks the child next to a sibling straight away.
// Naming the parent moves the child to the bottom of the child stack.
func (s *Server) subsurfacePlace(above bool) requestHandler {
	return func(c *Client, r *Resource, m *wire.Message) error {
		siblingID := m.Object()
		if err := m.Err(); err != nil {
			return err
		}
		sibRes, err := c.lookup(siblingID, surfaceInterface, false)
		if err != nil {
			return err
		}
		sub := r.Data.(*subsurface)
		surf, sibling := sub.surface, sibRes.Data.(*Surface)
		parent := surf.parent
		if parent == nil || sibling == surf || (sibling != parent && sibling.parent != parent) {
			return r.postError(errSubcompositorBadSurface, "wl_surface@%d is not a sibling or the parent", siblingID)
		}

		children := slices.DeleteFunc(parent.children, func(o *Surface) bool { return o == surf })
		idx := 0
		if sibling != parent {
			idx = slices.Index(children, sibling)
			if above {
				idx++
			}
		}
		parent.children = slices.Insert(children, idx, surf)
		return nil
	}
}

func (s *Server) subsurfaceSetSync(sync bool) requestHandler {
	return func(_ *Client, r *Resource, _ *wire.Message) error {
		r.Data.(*subsurface).sync = sync
		return nil
	}
}
