package compositor

import (
	"errors"
	"testing"

	"github.com/mstarongithub/wayvr/xwm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWM records what the bridge acknowledged.
type fakeWM struct {
	mapped     []uint32
	configured map[uint32]xwm.Rect
	mapErr     error
	closed     bool
}

func (f *fakeWM) MapWindow(id uint32) error {
	if f.mapErr != nil {
		return f.mapErr
	}
	f.mapped = append(f.mapped, id)
	return nil
}

func (f *fakeWM) Configure(id uint32, geo xwm.Rect) error {
	if f.configured == nil {
		f.configured = make(map[uint32]xwm.Rect)
	}
	f.configured[id] = geo
	return nil
}

func (f *fakeWM) Close() error {
	f.closed = true
	return nil
}

// bridgedSetup connects a bridged client and installs a bridge driving
// wm.
func bridgedSetup(t *testing.T, wm WindowManager) (*Server, *testClient, *Bridge) {
	s := newTestServer(t)
	tc := connectAs(t, s, ClientBridged)
	s.bridge = newBridge(s, tc.c, wm)
	return s, tc, s.bridge
}

func TestMapRequestForUntrackedWindowPanics(t *testing.T) {
	s := newTestServer(t)
	b := newBridge(s, nil, &fakeWM{})
	require.Panics(t, func() { b.MapWindowRequest(42) })
}

func TestUntrackedWindowEventsAreIgnored(t *testing.T) {
	s := newTestServer(t)
	wm := &fakeWM{}
	b := newBridge(s, nil, wm)
	w := uint32(10)

	require.NotPanics(t, func() {
		b.ConfigureRequest(7, nil, nil, &w, nil)
		b.ConfigureNotify(7, xwm.Rect{})
		b.ResizeRequest(7, 1, xwm.EdgeLeft)
		b.MoveRequest(7, 1)
		b.MappedOverrideRedirectWindow(7)
		b.UnmappedWindow(7)
		b.DestroyedWindow(7)
		b.AssociateSurface(7, 3)
	})
	assert.Empty(t, b.Windows())
	assert.Empty(t, wm.configured)
	assert.Equal(t, 0, s.Tasks().Len())
}

func TestConfigureRequestMergesFields(t *testing.T) {
	s := newTestServer(t)
	wm := &fakeWM{}
	b := newBridge(s, nil, wm)
	b.NewWindow(1, xwm.Rect{X: 1, Y: 2, Width: 100, Height: 50})

	w := uint32(300)
	b.ConfigureRequest(1, nil, nil, &w, nil)
	want := xwm.Rect{X: 1, Y: 2, Width: 300, Height: 50}
	win, ok := b.Window(1)
	require.True(t, ok)
	assert.Equal(t, want, win.Geometry)
	assert.Equal(t, want, wm.configured[1])

	x, y := int32(-5), int32(7)
	b.handle(xwm.ConfigureRequest{Window: 1, X: &x, Y: &y})
	win, _ = b.Window(1)
	assert.Equal(t, xwm.Rect{X: -5, Y: 7, Width: 300, Height: 50}, win.Geometry)
}

func TestMapRequestAckFailureReverts(t *testing.T) {
	s := newTestServer(t)
	b := newBridge(s, nil, &fakeWM{mapErr: errors.New("BadWindow")})
	b.NewWindow(1, xwm.Rect{})
	b.MapWindowRequest(1)

	win, _ := b.Window(1)
	assert.Equal(t, WindowUnmapped, win.State)
}

func TestMappedWindowPresentedOnce(t *testing.T) {
	s, tc, b := bridgedSetup(t, &fakeWM{})
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()
	surfID := tc.surface(surf).ID

	b.handle(xwm.NewWindow{Window: 1, Geometry: xwm.Rect{Width: 640, Height: 480}})
	b.handle(xwm.MapRequest{Window: 1})
	win, _ := b.Window(1)
	assert.Equal(t, WindowMapped, win.State)
	assert.Equal(t, 0, s.Tasks().Len(), "not presented without a surface")

	b.handle(xwm.SurfaceID{Window: 1, Surface: surf})
	b.handle(xwm.SurfaceID{Window: 1, Surface: surf})
	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.Equal(t, BridgedWindowMappedTask{
		Window:   1,
		Surface:  surfID,
		Geometry: xwm.Rect{Width: 640, Height: 480},
	}, tasks[0])

	info, _ := s.Surface(surfID)
	assert.Equal(t, "xwayland", info.Role)

	b.handle(xwm.UnmapNotify{Window: 1})
	tasks = s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.Equal(t, BridgedWindowUnmappedTask{Window: 1, Surface: surfID}, tasks[0])
	win, _ = b.Window(1)
	assert.Equal(t, WindowUnmapped, win.State)
	assert.Zero(t, win.Surface)
}

func TestSurfaceAssociationWaitsForSurface(t *testing.T) {
	s, tc, b := bridgedSetup(t, &fakeWM{})
	comp := tc.bind(compositorInterface)
	tc.roundtrip()

	b.NewWindow(1, xwm.Rect{Width: 10, Height: 10})
	b.MapWindowRequest(1)
	// Xwayland names the surface before the request creating it arrived
	future := tc.nextID
	b.AssociateSurface(1, future)
	assert.Equal(t, 0, s.Tasks().Len())

	surf := tc.createSurface(comp)
	require.Equal(t, future, surf)
	tc.roundtrip()

	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	mapped := tasks[0].(BridgedWindowMappedTask)
	assert.Equal(t, tc.surface(surf).ID, mapped.Surface)
	win, _ := b.Window(1)
	assert.Equal(t, mapped.Surface, win.Surface)
}

func TestOverrideRedirectMapsWithoutRequest(t *testing.T) {
	s, tc, b := bridgedSetup(t, &fakeWM{})
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()

	b.handle(xwm.NewWindow{Window: 2, OverrideRedirect: true})
	b.handle(xwm.SurfaceID{Window: 2, Surface: surf})
	assert.Equal(t, 0, s.Tasks().Len())
	b.handle(xwm.MapNotify{Window: 2, OverrideRedirect: true})

	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.Equal(t, uint32(2), tasks[0].(BridgedWindowMappedTask).Window)
}

func TestDestroyedWindowForgotten(t *testing.T) {
	s, tc, b := bridgedSetup(t, &fakeWM{})
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()

	b.NewWindow(1, xwm.Rect{})
	b.MapWindowRequest(1)
	b.AssociateSurface(1, surf)
	s.Tasks().Drain()

	b.handle(xwm.DestroyNotify{Window: 1})
	_, ok := b.Window(1)
	assert.False(t, ok)
	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.IsType(t, BridgedWindowUnmappedTask{}, tasks[0])
}

func TestSurfaceDestroyWithdrawsWindow(t *testing.T) {
	s, tc, b := bridgedSetup(t, &fakeWM{})
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()

	b.NewWindow(1, xwm.Rect{})
	b.MapWindowRequest(1)
	b.AssociateSurface(1, surf)
	s.Tasks().Drain()

	tc.send(tc.req(surf, 0))
	tc.roundtrip()
	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.IsType(t, BridgedWindowUnmappedTask{}, tasks[0])
	win, _ := b.Window(1)
	assert.Equal(t, WindowMapped, win.State, "the X side still has it mapped")
	assert.Zero(t, win.Surface)
}

func TestBridgeShutsDownWithItsClient(t *testing.T) {
	wm := &fakeWM{}
	s, tc, b := bridgedSetup(t, wm)
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()
	b.NewWindow(1, xwm.Rect{})
	b.MapWindowRequest(1)
	b.AssociateSurface(1, surf)
	s.Tasks().Drain()

	tc.conn.Close()
	pump(t, s, func() bool { return s.Bridge() == nil })

	assert.True(t, wm.closed)
	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.IsType(t, BridgedWindowUnmappedTask{}, tasks[0])
	_, ok := s.XDisplay()
	assert.False(t, ok)
}

func TestAdoptedWindowStartsMapped(t *testing.T) {
	s, tc, b := bridgedSetup(t, &fakeWM{})
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()

	b.handle(xwm.NewWindow{Window: 3, Geometry: xwm.Rect{Width: 20, Height: 20}, Mapped: true})
	win, ok := b.Window(3)
	require.True(t, ok)
	assert.Equal(t, WindowMapped, win.State)

	b.handle(xwm.SurfaceID{Window: 3, Surface: surf})
	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.Equal(t, uint32(3), tasks[0].(BridgedWindowMappedTask).Window)

	assert.NotPanics(t, func() { b.handle(xwm.MapRequest{Window: 3}) })
	assert.Equal(t, 0, s.Tasks().Len(), "already presented")
}

func TestRepeatedCreateKeepsWindow(t *testing.T) {
	s := newTestServer(t)
	b := newBridge(s, nil, &fakeWM{})
	b.handle(xwm.NewWindow{Window: 1, Geometry: xwm.Rect{Width: 5, Height: 5}, Mapped: true})
	b.handle(xwm.NewWindow{Window: 1, Geometry: xwm.Rect{Width: 9, Height: 9}})

	win, _ := b.Window(1)
	assert.Equal(t, WindowMapped, win.State)
	assert.Equal(t, uint32(5), win.Geometry.Width)
}

func TestRequestFailedRevertsMap(t *testing.T) {
	s, tc, b := bridgedSetup(t, &fakeWM{})
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()

	b.NewWindow(1, xwm.Rect{})
	b.MapWindowRequest(1)
	b.AssociateSurface(1, surf)
	require.Len(t, s.Tasks().Drain(), 1)

	b.handle(xwm.RequestFailed{Window: 1, Err: "BadWindow"})
	win, _ := b.Window(1)
	assert.Equal(t, WindowUnmapped, win.State)
	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	assert.IsType(t, BridgedWindowUnmappedTask{}, tasks[0])

	assert.NotPanics(t, func() { b.handle(xwm.RequestFailed{Window: 99, Err: "BadValue"}) })
}
