package compositor

import (
	"slices"

	"github.com/google/uuid"
	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
)

// xdg_foreign v2 lets one client parent its toplevel to the toplevel of
// another client through an opaque handle.

type foreignState struct {
	exports map[string]*exported
}

func (st *foreignState) init() {
	st.exports = make(map[string]*exported)
}

type exported struct {
	handle   string
	resource *Resource
	surface  *Surface
	imports  []*imported
}

type imported struct {
	resource *Resource
	// nil once the export went away
	export *exported
	// Toplevels this import was made the parent of
	children []*Toplevel
}

func (s *Server) bindXdgExporter(c *Client, id, version uint32) error {
	_, err := c.newResource(id, xdgExporterInterface, version, []requestHandler{
		destroyHandler,
		s.exporterExportToplevel,
	}, nil)
	return err
}

func (s *Server) bindXdgImporter(c *Client, id, version uint32) error {
	_, err := c.newResource(id, xdgImporterInterface, version, []requestHandler{
		destroyHandler,
		s.importerImportToplevel,
	}, nil)
	return err
}

// toplevelOf resolves a wl_surface argument that must be an xdg_toplevel.
func toplevelOf(c *Client, r *Resource, surfaceID uint32) (*Toplevel, *Surface, error) {
	res, err := c.lookup(surfaceID, surfaceInterface, false)
	if err != nil {
		return nil, nil, err
	}
	surf := res.Data.(*Surface)
	if surf.xdg == nil || surf.xdg.toplevel == nil {
		return nil, nil, r.postError(errXdgForeignInvalidSurface, "wl_surface@%d is not an xdg_toplevel", surfaceID)
	}
	return surf.xdg.toplevel, surf, nil
}

func (s *Server) exporterExportToplevel(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	surfaceID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	_, surf, err := toplevelOf(c, r, surfaceID)
	if err != nil {
		return err
	}
	e := &exported{handle: uuid.NewString(), surface: surf}
	res, err := c.newResource(id, xdgExportedInterface, r.Version, []requestHandler{destroyHandler}, e)
	if err != nil {
		return err
	}
	e.resource = res
	res.onDestroy = func() { s.revokeExport(e) }
	s.foreign.exports[e.handle] = e

	res.Send(res.event(opXdgExportedHandle).PutString(e.handle))
	logrus.WithFields(logrus.Fields{
		"surface": surf.ID,
		"handle":  e.handle,
	}).Debugln("Toplevel exported")
	return nil
}

func (s *Server) importerImportToplevel(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	handle := m.String()
	if err := m.Err(); err != nil {
		return err
	}
	imp := &imported{}
	res, err := c.newResource(id, xdgImportedInterface, r.Version, []requestHandler{
		destroyHandler,
		s.importedSetParentOf,
	}, imp)
	if err != nil {
		return err
	}
	imp.resource = res
	res.onDestroy = func() { s.dropImport(imp) }

	e, ok := s.foreign.exports[handle]
	if !ok {
		res.Send(res.event(opXdgImportedDestroyed))
		c.log().WithField("handle", handle).Debugln("Import of unknown handle")
		return nil
	}
	imp.export = e
	e.imports = append(e.imports, imp)
	return nil
}

func (s *Server) importedSetParentOf(c *Client, r *Resource, m *wire.Message) error {
	surfaceID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	child, _, err := toplevelOf(c, r, surfaceID)
	if err != nil {
		return err
	}
	imp := r.Data.(*imported)
	// A revoked import is inert until the client destroys it
	if imp.export == nil || imp.export.surface.xdg == nil || imp.export.surface.xdg.toplevel == nil {
		return nil
	}
	parent := imp.export.surface.xdg.toplevel
	if parent == child {
		return nil
	}
	child.parent = parent
	if !slices.Contains(imp.children, child) {
		imp.children = append(imp.children, child)
	}
	return nil
}

// unparent cuts the parent links an import created.
func (imp *imported) unparent() {
	if imp.export == nil {
		return
	}
	for _, child := range imp.children {
		if xs := imp.export.surface.xdg; xs != nil && child.parent == xs.toplevel {
			child.parent = nil
		}
	}
	imp.children = nil
}

func (s *Server) dropImport(imp *imported) {
	imp.unparent()
	if imp.export != nil {
		imp.export.imports = slices.DeleteFunc(imp.export.imports, func(o *imported) bool { return o == imp })
		imp.export = nil
	}
}

// revokeExport invalidates the handle and tells every importer.
func (s *Server) revokeExport(e *exported) {
	if s.foreign.exports[e.handle] != e {
		return
	}
	delete(s.foreign.exports, e.handle)
	for _, imp := range e.imports {
		imp.unparent()
		imp.export = nil
		imp.resource.Send(imp.resource.event(opXdgImportedDestroyed))
	}
	e.imports = nil
}

func (s *Server) foreignSurfaceDestroyed(surf *Surface) {
	for _, e := range s.foreign.exports {
		if e.surface == surf {
			s.revokeExport(e)
		}
	}
}
