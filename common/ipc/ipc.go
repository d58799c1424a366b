package ipc

// Inspection messages. Both the repl and tool mode print these, so they
// carry json tags even though nothing sends them over a socket yet.

type (
	// Everything the compositor currently tracks
	Snapshot struct {
		Status    Status          `json:"status"`
		Clients   []ClientEntry   `json:"clients"`
		Toplevels []ToplevelEntry `json:"toplevels"`
		// Only filled while the Xwayland bridge runs
		Windows []WindowEntry `json:"windows,omitempty"`
	}

	Status struct {
		Session string `json:"session"`
		// Name to put into WAYLAND_DISPLAY
		Socket string `json:"socket"`
		// X11 display number, -1 without a ready bridge
		XDisplay    int `json:"x_display"`
		Surfaces    int `json:"surfaces"`
		DirtyCount  int `json:"dirty"`
		QueuedTasks int `json:"queued_tasks"`
	}

	ClientEntry struct {
		ID   uint64 `json:"id"`
		Kind string `json:"kind"`
		// Live protocol objects
		Objects int `json:"objects"`
	}

	ToplevelEntry struct {
		ID        uint64 `json:"id"`
		Client    uint64 `json:"client"`
		Surface   uint64 `json:"surface"`
		Title     string `json:"title"`
		AppID     string `json:"app_id"`
		Activated bool   `json:"activated"`
		Mapped    bool   `json:"mapped"`
	}

	WindowEntry struct {
		ID               uint32 `json:"id"`
		State            string `json:"state"`
		OverrideRedirect bool   `json:"override_redirect"`
		// Geometry as WIDTHxHEIGHT+X+Y
		Geometry string `json:"geometry"`
		Surface  uint64 `json:"surface,omitempty"`
	}

	// A global advertised through wl_registry
	GlobalEntry struct {
		Name      uint32 `json:"name"`
		Interface string `json:"interface"`
		Version   uint32 `json:"version"`
		// Only advertised to the Xwayland client
		BridgedOnly bool `json:"bridged_only,omitempty"`
	}
)
