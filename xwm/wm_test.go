package xwm

import (
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoot      = xproto.Window(1)
	testSurfaceID = xproto.Atom(100)
	testMoveSize  = xproto.Atom(101)
	testSerial    = xproto.Atom(102)
)

func testWM() *WM {
	return &WM{root: testRoot, atoms: atoms{
		wlSurfaceID:     testSurfaceID,
		wlSurfaceSerial: testSerial,
		netMoveResize:   testMoveSize,
	}}
}

func TestTranslateCreateNotify(t *testing.T) {
	wm := testWM()

	ev, ok := wm.translate(xproto.CreateNotifyEvent{
		Parent: testRoot, Window: 5, X: -3, Y: 4, Width: 640, Height: 480, OverrideRedirect: true,
	})
	require.True(t, ok)
	assert.Equal(t, NewWindow{Window: 5, Geometry: Rect{X: -3, Y: 4, Width: 640, Height: 480}, OverrideRedirect: true}, ev)

	_, ok = wm.translate(xproto.CreateNotifyEvent{Parent: 9, Window: 6})
	assert.False(t, ok, "child windows are not managed")
}

func TestTranslateConfigureRequestKeepsMask(t *testing.T) {
	wm := testWM()

	ev, ok := wm.translate(xproto.ConfigureRequestEvent{
		Window:    5,
		X:         10,
		Y:         20,
		Width:     300,
		Height:    200,
		ValueMask: xproto.ConfigWindowWidth,
	})
	require.True(t, ok)
	req := ev.(ConfigureRequest)
	assert.Nil(t, req.X)
	assert.Nil(t, req.Y)
	assert.Nil(t, req.Height)
	require.NotNil(t, req.Width)
	assert.Equal(t, uint32(300), *req.Width)
}

func TestTranslateNotifiesFilterOnRoot(t *testing.T) {
	wm := testWM()

	ev, ok := wm.translate(xproto.UnmapNotifyEvent{Event: testRoot, Window: 5})
	require.True(t, ok)
	assert.Equal(t, UnmapNotify{Window: 5}, ev)

	_, ok = wm.translate(xproto.DestroyNotifyEvent{Event: 5, Window: 5})
	assert.False(t, ok)

	ev, ok = wm.translate(xproto.MapNotifyEvent{Event: testRoot, Window: 7, OverrideRedirect: true})
	require.True(t, ok)
	assert.Equal(t, MapNotify{Window: 7, OverrideRedirect: true}, ev)
}

func TestClientMessages(t *testing.T) {
	wm := testWM()
	message := func(atom xproto.Atom, data ...uint32) xproto.ClientMessageEvent {
		padded := make([]uint32, 5)
		copy(padded, data)
		return xproto.ClientMessageEvent{
			Format: 32,
			Window: 5,
			Type:   atom,
			Data:   xproto.ClientMessageDataUnionData32New(padded),
		}
	}

	ev, ok := wm.translate(message(testSurfaceID, 42))
	require.True(t, ok)
	assert.Equal(t, SurfaceID{Window: 5, Surface: 42}, ev)

	ev, ok = wm.translate(message(testSerial, 0x10, 0x2))
	require.True(t, ok)
	assert.Equal(t, SurfaceSerial{Window: 5, Serial: 0x2_0000_0010}, ev)

	ev, ok = wm.translate(message(testMoveSize, 0, 0, 8, 1))
	require.True(t, ok)
	assert.Equal(t, MoveRequest{Window: 5, Button: 1}, ev)

	ev, ok = wm.translate(message(testMoveSize, 0, 0, uint32(EdgeBottomRight), 1))
	require.True(t, ok)
	assert.Equal(t, ResizeRequest{Window: 5, Button: 1, Edge: EdgeBottomRight}, ev)

	// keyboard driven move and cancel are not supported
	_, ok = wm.translate(message(testMoveSize, 0, 0, 10, 0))
	assert.False(t, ok)

	_, ok = wm.translate(message(xproto.Atom(7), 1))
	assert.False(t, ok)
}

func TestRectString(t *testing.T) {
	assert.Equal(t, "640x480+-3+4", Rect{X: -3, Y: 4, Width: 640, Height: 480}.String())
	assert.Equal(t, "bottom-left", EdgeBottomLeft.String())
}

func TestExistingWindow(t *testing.T) {
	attrs := &xproto.GetWindowAttributesReply{MapState: xproto.MapStateViewable}
	geo := &xproto.GetGeometryReply{X: -4, Y: 8, Width: 300, Height: 200}
	assert.Equal(t, NewWindow{
		Window:   12,
		Geometry: Rect{X: -4, Y: 8, Width: 300, Height: 200},
		Mapped:   true,
	}, existingWindow(12, attrs, geo))

	attrs = &xproto.GetWindowAttributesReply{MapState: xproto.MapStateUnmapped, OverrideRedirect: true}
	ev := existingWindow(13, attrs, geo)
	assert.False(t, ev.Mapped)
	assert.True(t, ev.OverrideRedirect)
}

func TestRequestFailedNamesWindow(t *testing.T) {
	ev := requestFailed(xproto.WindowError{BadValue: 42, NiceName: "Window"})
	assert.Equal(t, uint32(42), ev.Window)
	assert.NotEmpty(t, ev.Err)
}

func TestClosedWMRefusesRequests(t *testing.T) {
	wm := testWM()
	wm.closed.Store(true)
	assert.ErrorIs(t, wm.MapWindow(1), errClosed)
	assert.ErrorIs(t, wm.Configure(1, Rect{Width: 1, Height: 1}), errClosed)
}
