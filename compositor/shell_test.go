package compositor

import (
	"encoding/binary"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToplevelTaskOnce(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	surf, xs, tl := tc.xdgToplevel(comp, base)
	events := tc.roundtrip()

	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	task, ok := tasks[0].(NewToplevelTask)
	require.True(t, ok)
	assert.Equal(t, tc.c.ID, task.Client)
	assert.Equal(t, tc.surface(surf).ID, task.Surface)
	assert.Empty(t, s.Tasks().Drain(), "each task is drained once")

	configures := only(events, tl, opXdgToplevelConfigure)
	require.Len(t, configures, 1)
	m := configures[0]
	assert.Equal(t, int32(0), m.Int())
	assert.Equal(t, int32(0), m.Int())
	states := m.Array()
	require.Len(t, states, 4)
	assert.Equal(t, uint32(toplevelStateActivated), binary.NativeEndian.Uint32(states))
	lastSerial(t, events, xs)

	info, ok := s.Toplevel(task.Toplevel)
	require.True(t, ok)
	assert.True(t, info.Activated)
	assert.False(t, info.Mapped)
}

func TestNewToplevelTakesFocus(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	_, _, first := tc.xdgToplevel(comp, base)
	tc.roundtrip()
	tc.xdgToplevel(comp, base)
	events := tc.roundtrip()

	// The previous window hears it lost activation
	configures := only(events, first, opXdgToplevelConfigure)
	require.Len(t, configures, 1)
	configures[0].Int()
	configures[0].Int()
	assert.Empty(t, configures[0].Array())

	toplevels := s.Toplevels()
	require.Len(t, toplevels, 2)
	assert.False(t, toplevels[0].Activated)
	assert.True(t, toplevels[1].Activated)
}

func TestToplevelMapsAfterAck(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	shm := tc.bind(shmInterface)
	surf, xs, tl := tc.xdgToplevel(comp, base)
	tc.send(tc.req(tl, 2).PutString("Terminal"))
	tc.send(tc.req(tl, 3).PutString("org.example.term"))
	serial := lastSerial(t, tc.roundtrip(), xs)

	tc.send(tc.req(xs, 4).PutUint(serial))
	buf := tc.createBuffer(shm, 4, 2)
	tc.attach(surf, buf)
	tc.commit(surf)
	require.Empty(t, only(tc.roundtrip(), 1, opDisplayError))

	id := tc.surface(surf).ID
	toplevels := s.Toplevels()
	require.Len(t, toplevels, 1)
	assert.True(t, toplevels[0].Mapped)
	assert.Equal(t, "Terminal", toplevels[0].Title)
	assert.Equal(t, "org.example.term", toplevels[0].AppID)
	assert.True(t, s.CheckRedraw(id))

	view, ok := s.SurfaceBuffer(id)
	require.True(t, ok)
	assert.Equal(t, int32(4), view.Width)
	assert.Equal(t, int32(2), view.Height)
	assert.Len(t, view.Pixels, 4*2*4)
	assert.False(t, view.Opaque())

	// A new buffer releases the old one, a null attach unmaps
	next := tc.createBuffer(shm, 4, 2)
	tc.attach(surf, next)
	tc.commit(surf)
	assert.Len(t, only(tc.roundtrip(), buf, opBufferRelease), 1)

	tc.attach(surf, 0)
	tc.commit(surf)
	assert.Len(t, only(tc.roundtrip(), next, opBufferRelease), 1)
	info, _ := s.Toplevel(toplevels[0].ID)
	assert.False(t, info.Mapped)
}

func TestBufferBeforeAckIsRejected(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	shm := tc.bind(shmInterface)
	surf, _, _ := tc.xdgToplevel(comp, base)
	tc.roundtrip()

	tc.attach(surf, tc.createBuffer(shm, 2, 2))
	tc.commit(surf)
	assert.Equal(t, uint32(errXdgSurfaceUnconfiguredBuffer), tc.protocolError(tc.roundtrip()))
	assert.Error(t, tc.closed)

	_, ok := s.Client(tc.c.ID)
	assert.False(t, ok)
}

func TestAckUnknownSerial(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	_, xs, _ := tc.xdgToplevel(comp, base)
	serial := lastSerial(t, tc.roundtrip(), xs)

	tc.send(tc.req(xs, 4).PutUint(serial + 100))
	assert.Equal(t, uint32(errXdgSurfaceInvalidSerial), tc.protocolError(tc.roundtrip()))
}

func TestCommitWithoutRole(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	surf := tc.createSurface(comp)
	tc.send(tc.req(base, 2).PutNewID(tc.newID()).PutObject(surf))
	tc.commit(surf)
	assert.Equal(t, uint32(errXdgSurfaceNotConstructed), tc.protocolError(tc.roundtrip()))
}

func TestDestroyedToplevelTask(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	_, _, tl := tc.xdgToplevel(comp, base)
	tc.roundtrip()
	created := s.Tasks().Drain()
	require.Len(t, created, 1)

	tc.send(tc.req(tl, 0))
	tc.roundtrip()
	tasks := s.Tasks().Drain()
	require.Len(t, tasks, 1)
	gone, ok := tasks[0].(ToplevelDestroyedTask)
	require.True(t, ok)
	assert.Equal(t, created[0].(NewToplevelTask).Toplevel, gone.Toplevel)
	assert.Empty(t, s.Toplevels())
}

func TestPopupConfigure(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	_, parentXS, _ := tc.xdgToplevel(comp, base)

	pos := tc.newID()
	tc.send(tc.req(base, 1).PutNewID(pos))
	tc.send(tc.req(pos, 1).PutInt(100).PutInt(50))
	tc.send(tc.req(pos, 2).PutInt(10).PutInt(10).PutInt(20).PutInt(20))
	tc.send(tc.req(pos, 3).PutUint(edgeBottomRight))
	tc.send(tc.req(pos, 4).PutUint(edgeBottomRight))

	surf := tc.createSurface(comp)
	xs := tc.newID()
	tc.send(tc.req(base, 2).PutNewID(xs).PutObject(surf))
	popupID := tc.newID()
	tc.send(tc.req(xs, 2).PutNewID(popupID).PutObject(parentXS).PutObject(pos))
	events := tc.roundtrip()

	configures := only(events, popupID, opXdgPopupConfigure)
	require.Len(t, configures, 1)
	m := configures[0]
	assert.Equal(t, []int32{30, 30, 100, 50}, []int32{m.Int(), m.Int(), m.Int(), m.Int()})
	lastSerial(t, events, xs)
}

func TestPopupAndCursorGetFrames(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)
	seat := tc.bind(seatInterface)
	pointer := tc.newID()
	tc.send(tc.req(seat, 0).PutNewID(pointer))
	_, parentXS, _ := tc.xdgToplevel(comp, base)

	pos := tc.newID()
	tc.send(tc.req(base, 1).PutNewID(pos))
	tc.send(tc.req(pos, 1).PutInt(10).PutInt(10))
	tc.send(tc.req(pos, 2).PutInt(0).PutInt(0).PutInt(1).PutInt(1))
	popupSurf := tc.createSurface(comp)
	xs := tc.newID()
	tc.send(tc.req(base, 2).PutNewID(xs).PutObject(popupSurf))
	tc.send(tc.req(xs, 2).PutNewID(tc.newID()).PutObject(parentXS).PutObject(pos))
	popupCB := tc.frame(popupSurf)
	tc.commit(popupSurf)

	cursor := tc.createSurface(comp)
	tc.send(tc.req(pointer, 0).PutUint(0).PutObject(cursor).PutInt(0).PutInt(0))
	cursorCB := tc.frame(cursor)
	tc.commit(cursor)
	require.Empty(t, only(tc.roundtrip(), 1, opDisplayError))

	roots := s.FrameRoots()
	assert.Equal(t, []SurfaceID{tc.surface(popupSurf).ID, tc.surface(cursor).ID}, roots)
	for _, id := range roots {
		assert.Equal(t, 1, s.DeliverFrameCallbacks(id, 50))
	}
	events := tc.roundtrip()
	assert.Len(t, only(events, popupCB, opCallbackDone), 1)
	assert.Len(t, only(events, cursorCB, opCallbackDone), 1)
}

func TestPopupNeedsCompletePositioner(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	base := tc.bind(xdgWmBaseInterface)

	pos := tc.newID()
	tc.send(tc.req(base, 1).PutNewID(pos))
	tc.send(tc.req(pos, 1).PutInt(10).PutInt(10))
	surf := tc.createSurface(comp)
	xs := tc.newID()
	tc.send(tc.req(base, 2).PutNewID(xs).PutObject(surf))
	tc.send(tc.req(xs, 2).PutNewID(tc.newID()).PutObject(0).PutObject(pos))
	assert.Equal(t, uint32(errXdgWmBaseInvalidPositioner), tc.protocolError(tc.roundtrip()))
}

func TestPositionerPlace(t *testing.T) {
	tests := map[string]struct {
		pos  positioner
		want image.Rectangle
	}{
		"centered": {
			pos:  positioner{size: image.Pt(100, 50), anchorRect: image.Rect(10, 10, 30, 30)},
			want: image.Rect(-30, -5, 70, 45),
		},
		"below right": {
			pos: positioner{
				size:       image.Pt(100, 50),
				anchorRect: image.Rect(10, 10, 30, 30),
				anchor:     edgeBottomRight,
				gravity:    edgeBottomRight,
				offset:     image.Pt(5, -5),
			},
			want: image.Rect(35, 25, 135, 75),
		},
		"above": {
			pos: positioner{
				size:       image.Pt(100, 50),
				anchorRect: image.Rect(10, 10, 30, 30),
				anchor:     edgeTop,
				gravity:    edgeTop,
			},
			want: image.Rect(-30, -40, 70, 10),
		},
		"left of anchor": {
			pos: positioner{
				size:       image.Pt(40, 20),
				anchorRect: image.Rect(100, 0, 110, 10),
				anchor:     edgeLeft,
				gravity:    edgeLeft,
			},
			want: image.Rect(60, -5, 100, 15),
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pos.place())
		})
	}
}
