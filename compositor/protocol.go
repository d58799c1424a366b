package compositor

// Interface describes a protocol interface the server implements. The
// request names double as the opcode table.
type Interface struct {
	Name     string
	Version  uint32
	Requests []string
}

var (
	displayInterface  = &Interface{"wl_display", 1, []string{"sync", "get_registry"}}
	registryInterface = &Interface{"wl_registry", 1, []string{"bind"}}
	callbackInterface = &Interface{"wl_callback", 1, nil}

	compositorInterface = &Interface{"wl_compositor", 5, []string{"create_surface", "create_region"}}
	surfaceInterface    = &Interface{"wl_surface", 5, []string{
		"destroy", "attach", "damage", "frame", "set_opaque_region", "set_input_region",
		"commit", "set_buffer_transform", "set_buffer_scale", "damage_buffer", "offset",
	}}
	regionInterface        = &Interface{"wl_region", 1, []string{"destroy", "add", "subtract"}}
	subcompositorInterface = &Interface{"wl_subcompositor", 1, []string{"destroy", "get_subsurface"}}
	subsurfaceInterface    = &Interface{"wl_subsurface", 1, []string{
		"destroy", "set_position", "place_above", "place_below", "set_sync", "set_desync",
	}}

	shmInterface     = &Interface{"wl_shm", 1, []string{"create_pool"}}
	shmPoolInterface = &Interface{"wl_shm_pool", 1, []string{"create_buffer", "destroy", "resize"}}
	bufferInterface  = &Interface{"wl_buffer", 1, []string{"destroy"}}

	seatInterface     = &Interface{"wl_seat", 5, []string{"get_pointer", "get_keyboard", "get_touch", "release"}}
	pointerInterface  = &Interface{"wl_pointer", 5, []string{"set_cursor", "release"}}
	keyboardInterface = &Interface{"wl_keyboard", 5, []string{"release"}}
	touchInterface    = &Interface{"wl_touch", 5, []string{"release"}}

	dataDeviceManagerInterface = &Interface{"wl_data_device_manager", 3, []string{"create_data_source", "get_data_device"}}
	dataSourceInterface        = &Interface{"wl_data_source", 3, []string{"offer", "destroy", "set_actions"}}
	dataDeviceInterface        = &Interface{"wl_data_device", 3, []string{"start_drag", "set_selection", "release"}}

	xdgWmBaseInterface     = &Interface{"xdg_wm_base", 3, []string{"destroy", "create_positioner", "get_xdg_surface", "pong"}}
	xdgPositionerInterface = &Interface{"xdg_positioner", 3, []string{
		"destroy", "set_size", "set_anchor_rect", "set_anchor", "set_gravity",
		"set_constraint_adjustment", "set_offset", "set_reactive", "set_parent_size", "set_parent_configure",
	}}
	xdgSurfaceInterface = &Interface{"xdg_surface", 3, []string{
		"destroy", "get_toplevel", "get_popup", "set_window_geometry", "ack_configure",
	}}
	xdgToplevelInterface = &Interface{"xdg_toplevel", 3, []string{
		"destroy", "set_parent", "set_title", "set_app_id", "show_window_menu", "move", "resize",
		"set_max_size", "set_min_size", "set_maximized", "unset_maximized", "set_fullscreen",
		"unset_fullscreen", "set_minimized",
	}}
	xdgPopupInterface = &Interface{"xdg_popup", 3, []string{"destroy", "grab", "reposition"}}

	xdgExporterInterface = &Interface{"zxdg_exporter_v2", 1, []string{"destroy", "export_toplevel"}}
	xdgExportedInterface = &Interface{"zxdg_exported_v2", 1, []string{"destroy"}}
	xdgImporterInterface = &Interface{"zxdg_importer_v2", 1, []string{"destroy", "import_toplevel"}}
	xdgImportedInterface = &Interface{"zxdg_imported_v2", 1, []string{"destroy", "set_parent_of"}}

	xwaylandShellInterface   = &Interface{"xwayland_shell_v1", 1, []string{"destroy", "get_xwayland_surface"}}
	xwaylandSurfaceInterface = &Interface{"xwayland_surface_v1", 1, []string{"set_serial", "destroy"}}
)

// Event opcodes.
const (
	opDisplayError    = 0
	opDisplayDeleteID = 1

	opRegistryGlobal = 0

	opCallbackDone = 0

	opShmFormat = 0

	opBufferRelease = 0

	opSeatCapabilities = 0
	opSeatName         = 1

	opPointerEnter  = 0
	opPointerLeave  = 1
	opPointerMotion = 2
	opPointerButton = 3
	opPointerAxis   = 4
	opPointerFrame  = 5

	opKeyboardKeymap     = 0
	opKeyboardRepeatInfo = 5

	opXdgWmBasePing = 0

	opXdgSurfaceConfigure = 0

	opXdgToplevelConfigure = 0
	opXdgToplevelClose     = 1

	opXdgPopupConfigure    = 0
	opXdgPopupDone         = 1
	opXdgPopupRepositioned = 2

	opXdgExportedHandle    = 0
	opXdgImportedDestroyed = 0
)

// Error codes per interface.
const (
	errDisplayInvalidObject  = 0
	errDisplayInvalidMethod  = 1
	errDisplayNoMemory       = 2
	errDisplayImplementation = 3

	errShmInvalidFormat = 0
	errShmInvalidStride = 1
	errShmInvalidFD     = 2

	errSubcompositorBadSurface = 0
	errSubcompositorBadParent  = 1

	errSurfaceInvalidScale     = 0
	errSurfaceInvalidTransform = 1

	errXdgWmBaseRole              = 0
	errXdgWmBaseDefunctSurfaces   = 1
	errXdgWmBaseInvalidPositioner = 5

	errXdgSurfaceNotConstructed     = 1
	errXdgSurfaceAlreadyConstructed = 2
	errXdgSurfaceUnconfiguredBuffer = 3
	errXdgSurfaceInvalidSerial      = 4

	errXdgPositionerInvalidInput = 0

	errXdgForeignInvalidSurface = 0

	errXWaylandShellRole                = 0
	errXWaylandSurfaceAlreadyAssociated = 0
	errXWaylandSurfaceInvalidSerial     = 1
)

const (
	shmFormatARGB8888 = 0
	shmFormatXRGB8888 = 1

	seatCapabilityPointer  = 1
	seatCapabilityKeyboard = 2

	keymapFormatNoKeymap = 0

	toplevelStateActivated = 4

	pointerButtonReleased = 0
	pointerButtonPressed  = 1
	pointerAxisVertical   = 0
)

// serverIDStart is the first id of the server-allocated range; client
// ids below it get a delete_id when destroyed.
const serverIDStart = 0xff000000

// global is an advertised registry entry. A global with a visible
// filter only exists for the clients it accepts.
type global struct {
	name    uint32
	iface   *Interface
	bind    func(c *Client, id, version uint32) error
	visible func(c *Client) bool
}

func (g *global) visibleTo(c *Client) bool {
	return g.visible == nil || g.visible(c)
}
