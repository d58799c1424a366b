package compositor

import (
	"sort"

	"github.com/mstarongithub/wayvr/common/ipc"
)

// Snapshot collects the inspection view of the server. It must run on the
// reactor goroutine, use Do from anywhere else.
func (s *Server) Snapshot() ipc.Snapshot {
	snap := ipc.Snapshot{
		Status: ipc.Status{
			Session:     s.SessionID,
			Socket:      s.socketName,
			XDisplay:    -1,
			Surfaces:    len(s.surfaces),
			DirtyCount:  len(s.dirty),
			QueuedTasks: s.tasks.Len(),
		},
	}
	for _, c := range s.clients {
		snap.Clients = append(snap.Clients, ipc.ClientEntry{
			ID:      uint64(c.ID),
			Kind:    c.Kind.String(),
			Objects: len(c.State().objects),
		})
	}
	sort.Slice(snap.Clients, func(i, j int) bool { return snap.Clients[i].ID < snap.Clients[j].ID })

	for _, tl := range s.Toplevels() {
		snap.Toplevels = append(snap.Toplevels, ipc.ToplevelEntry{
			ID:        uint64(tl.ID),
			Client:    uint64(tl.Client),
			Surface:   uint64(tl.Surface),
			Title:     tl.Title,
			AppID:     tl.AppID,
			Activated: tl.Activated,
			Mapped:    tl.Mapped,
		})
	}

	if s.bridge != nil {
		snap.Status.XDisplay = s.bridge.display
		for _, win := range s.bridge.Windows() {
			snap.Windows = append(snap.Windows, ipc.WindowEntry{
				ID:               win.ID,
				State:            win.State.String(),
				OverrideRedirect: win.OverrideRedirect,
				Geometry:         win.Geometry.String(),
				Surface:          uint64(win.Surface),
			})
		}
	}
	return snap
}
