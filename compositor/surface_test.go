package compositor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitMarksDirtyOnce(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.roundtrip()

	id := tc.surface(surf).ID
	assert.False(t, s.CheckRedraw(id), "nothing committed yet")

	tc.commit(surf)
	tc.roundtrip()
	assert.True(t, s.CheckRedraw(id))
	assert.False(t, s.CheckRedraw(id), "the mark is consumed by the first check")

	tc.commit(surf)
	tc.commit(surf)
	tc.roundtrip()
	assert.True(t, s.CheckRedraw(id))
	assert.False(t, s.CheckRedraw(id))
	assert.False(t, s.CheckRedraw(SurfaceID(9999)))
}

func TestFrameCallbacksFireOnce(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	first := tc.frame(surf)
	second := tc.frame(surf)
	tc.commit(surf)
	tc.roundtrip()
	id := tc.surface(surf).ID

	assert.Equal(t, 2, s.DeliverFrameCallbacks(id, 1234))
	events := tc.roundtrip()

	var order []uint32
	for _, m := range events {
		if m.Opcode == opCallbackDone && (m.Sender == first || m.Sender == second) {
			order = append(order, m.Sender)
			assert.Equal(t, uint32(1234), m.Uint())
		}
	}
	assert.Equal(t, []uint32{first, second}, order)
	assert.Len(t, only(events, 1, opDisplayDeleteID), 2, "callbacks are destroyed after firing")

	assert.Equal(t, 0, s.DeliverFrameCallbacks(id, 1300))
}

func TestUncommittedCallbacksWait(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	cb := tc.frame(surf)
	tc.roundtrip()
	id := tc.surface(surf).ID

	assert.Equal(t, 0, s.DeliverFrameCallbacks(id, 10))

	tc.commit(surf)
	tc.roundtrip()
	assert.Equal(t, 1, s.DeliverFrameCallbacks(id, 20))
	done := only(tc.roundtrip(), cb, opCallbackDone)
	require.Len(t, done, 1)
	assert.Equal(t, uint32(20), done[0].Uint())
}

func TestFrameCallbacksChildrenFirst(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	subcomp := tc.bind(subcompositorInterface)

	parent := tc.createSurface(comp)
	child1 := tc.createSurface(comp)
	child2 := tc.createSurface(comp)
	sub1 := tc.newID()
	tc.send(tc.req(subcomp, 1).PutNewID(sub1).PutObject(child1).PutObject(parent))
	sub2 := tc.newID()
	tc.send(tc.req(subcomp, 1).PutNewID(sub2).PutObject(child2).PutObject(parent))
	// Never committed, so its callback is not due
	idle := tc.createSurface(comp)
	idleSub := tc.newID()
	tc.send(tc.req(subcomp, 1).PutNewID(idleSub).PutObject(idle).PutObject(child1))

	cbParent := tc.frame(parent)
	cb1 := tc.frame(child1)
	cb2 := tc.frame(child2)
	cbIdle := tc.frame(idle)
	tc.commit(child1)
	tc.commit(child2)
	tc.commit(parent)
	require.Empty(t, only(tc.roundtrip(), 1, opDisplayError))

	info, ok := s.Surface(tc.surface(parent).ID)
	require.True(t, ok)
	assert.Equal(t, []SurfaceID{tc.surface(child1).ID, tc.surface(child2).ID}, info.Children)

	assert.Equal(t, 3, s.DeliverFrameCallbacks(info.ID, 777))
	var order []uint32
	for _, m := range tc.roundtrip() {
		if m.Opcode == opCallbackDone && m.Sender != 1 && m.Sender != cbIdle {
			order = append(order, m.Sender)
			assert.Equal(t, uint32(777), m.Uint())
		}
	}
	assert.Equal(t, []uint32{cb1, cb2, cbParent}, order)
}

func TestPlaceAboveRestacks(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	subcomp := tc.bind(subcompositorInterface)

	parent := tc.createSurface(comp)
	child1 := tc.createSurface(comp)
	child2 := tc.createSurface(comp)
	sub1 := tc.newID()
	tc.send(tc.req(subcomp, 1).PutNewID(sub1).PutObject(child1).PutObject(parent))
	sub2 := tc.newID()
	tc.send(tc.req(subcomp, 1).PutNewID(sub2).PutObject(child2).PutObject(parent))
	tc.send(tc.req(sub1, 2).PutObject(child2))
	tc.send(tc.req(sub1, 1).PutInt(5).PutInt(6))
	tc.roundtrip()

	c1, c2 := tc.surface(child1).ID, tc.surface(child2).ID
	info, _ := s.Surface(tc.surface(parent).ID)
	assert.Equal(t, []SurfaceID{c2, c1}, info.Children)

	sub, _ := s.Surface(c1)
	assert.Equal(t, 0, sub.Offset.X, "position waits for the parent commit")
	tc.commit(parent)
	tc.roundtrip()
	sub, _ = s.Surface(c1)
	assert.Equal(t, 5, sub.Offset.X)
	assert.Equal(t, 6, sub.Offset.Y)

	// Naming the parent moves the child to the bottom
	tc.send(tc.req(sub1, 3).PutObject(parent))
	tc.roundtrip()
	info, _ = s.Surface(tc.surface(parent).ID)
	assert.Equal(t, []SurfaceID{c1, c2}, info.Children)
}

func TestSubsurfaceCannotParentItself(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	subcomp := tc.bind(subcompositorInterface)

	a := tc.createSurface(comp)
	b := tc.createSurface(comp)
	tc.send(tc.req(subcomp, 1).PutNewID(tc.newID()).PutObject(b).PutObject(a))
	tc.send(tc.req(subcomp, 1).PutNewID(tc.newID()).PutObject(a).PutObject(b))
	assert.Equal(t, uint32(errSubcompositorBadParent), tc.protocolError(tc.roundtrip()))
}

func TestInvalidBufferScale(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.send(tc.req(surf, 8).PutInt(0))
	assert.Equal(t, uint32(errSurfaceInvalidScale), tc.protocolError(tc.roundtrip()))
}

func TestDestroyedSurfaceForgotten(t *testing.T) {
	s := newTestServer(t)
	tc := connect(t, s)
	comp := tc.bind(compositorInterface)
	surf := tc.createSurface(comp)
	tc.commit(surf)
	tc.roundtrip()
	id := tc.surface(surf).ID

	tc.send(tc.req(surf, 0))
	tc.roundtrip()
	_, ok := s.Surface(id)
	assert.False(t, ok)
	assert.False(t, s.CheckRedraw(id), "destroying drops the dirty mark")
	assert.Equal(t, 0, s.DeliverFrameCallbacks(id, 1))
}
