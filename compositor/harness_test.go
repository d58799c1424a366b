package compositor

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mstarongithub/wayvr/wire"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testTimeout = 2 * time.Second

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Options{RuntimeDir: t.TempDir()})
	t.Cleanup(func() { s.Close() })
	return s
}

// pump ticks the server until done reports true.
func pump(t *testing.T, s *Server, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		require.NoError(t, s.Tick())
		time.Sleep(time.Millisecond)
	}
}

// testClient is a minimal Wayland client on one end of a socketpair. The
// test goroutine doubles as the reactor: every roundtrip ticks the server.
type testClient struct {
	t    *testing.T
	s    *Server
	c    *Client
	conn *wire.Conn

	nextID   uint32
	registry uint32
	globals  map[string]uint32
	// wl_display.sync callbacks, their delete_id is noise
	syncs  map[uint32]bool
	closed error
}

func connect(t *testing.T, s *Server) *testClient {
	return connectAs(t, s, ClientNative)
}

func connectAs(t *testing.T, s *Server, kind ClientKind) *testClient {
	t.Helper()
	ours, theirs, err := wire.SocketPair()
	require.NoError(t, err)
	tc := &testClient{
		t:       t,
		s:       s,
		c:       s.AddClient(ours, kind),
		conn:    wire.NewConn(theirs),
		nextID:  2,
		globals: make(map[string]uint32),
		syncs:   make(map[uint32]bool),
	}
	t.Cleanup(func() { tc.conn.Close() })

	tc.registry = tc.newID()
	tc.send(tc.req(1, 1).PutNewID(tc.registry))
	for _, m := range only(tc.roundtrip(), tc.registry, opRegistryGlobal) {
		name := m.Uint()
		tc.globals[m.String()] = name
	}
	return tc
}

func (tc *testClient) newID() uint32 {
	id := tc.nextID
	tc.nextID++
	return id
}

func (tc *testClient) req(object uint32, opcode uint16) *wire.Builder {
	return wire.NewBuilder(object, opcode)
}

func (tc *testClient) send(b *wire.Builder) {
	tc.t.Helper()
	require.NoError(tc.t, tc.conn.WriteMessage(b))
}

// bind binds the named global at its highest version.
func (tc *testClient) bind(iface *Interface) uint32 {
	tc.t.Helper()
	name, ok := tc.globals[iface.Name]
	require.True(tc.t, ok, "global %s not advertised", iface.Name)
	id := tc.newID()
	tc.send(tc.req(tc.registry, 0).PutUint(name).PutString(iface.Name).PutUint(iface.Version).PutNewID(id))
	return id
}

// roundtrip sends wl_display.sync and collects every event that arrives
// before its done. It stops early if the server hangs up.
func (tc *testClient) roundtrip() []*wire.Message {
	tc.t.Helper()
	cb := tc.newID()
	tc.syncs[cb] = true
	tc.send(tc.req(1, 0).PutNewID(cb))

	var got []*wire.Message
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		require.NoError(tc.t, tc.s.Tick())
		require.NoError(tc.t, tc.conn.SetReadDeadline(time.Now().Add(5*time.Millisecond)))
		for {
			m, err := tc.conn.ReadMessage()
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			if err != nil {
				tc.closed = err
				return got
			}
			if m.Sender == cb && m.Opcode == opCallbackDone {
				return got
			}
			if m.Sender == 1 && m.Opcode == opDisplayDeleteID &&
				tc.syncs[wire.NewMessage(1, opDisplayDeleteID, m.Payload).Uint()] {
				continue
			}
			got = append(got, m)
		}
	}
	tc.t.Fatal("roundtrip timed out")
	return nil
}

// protocolError finds the wl_display.error among events and returns its
// code.
func (tc *testClient) protocolError(events []*wire.Message) uint32 {
	tc.t.Helper()
	errs := only(events, 1, opDisplayError)
	require.Len(tc.t, errs, 1, "expected a protocol error")
	m := errs[0]
	m.Object()
	code := m.Uint()
	_ = m.String()
	require.NoError(tc.t, m.Err())
	return code
}

func (tc *testClient) surface(id uint32) *Surface {
	tc.t.Helper()
	r, ok := tc.c.resource(id)
	require.True(tc.t, ok, "no object %d", id)
	return r.Data.(*Surface)
}

func (tc *testClient) createSurface(compositor uint32) uint32 {
	id := tc.newID()
	tc.send(tc.req(compositor, 0).PutNewID(id))
	return id
}

func (tc *testClient) frame(surface uint32) uint32 {
	id := tc.newID()
	tc.send(tc.req(surface, 3).PutNewID(id))
	return id
}

func (tc *testClient) commit(surface uint32) {
	tc.send(tc.req(surface, 6))
}

func (tc *testClient) attach(surface, buffer uint32) {
	tc.send(tc.req(surface, 1).PutObject(buffer).PutInt(0).PutInt(0))
}

// createBuffer makes an ARGB buffer backed by a fresh memfd pool.
func (tc *testClient) createBuffer(shm uint32, width, height int32) uint32 {
	tc.t.Helper()
	size := width * height * 4
	fd, err := unix.MemfdCreate("wayvr-test", unix.MFD_CLOEXEC)
	require.NoError(tc.t, err)
	require.NoError(tc.t, unix.Ftruncate(fd, int64(size)))

	pool := tc.newID()
	tc.send(tc.req(shm, 0).PutNewID(pool).PutFD(fd).PutInt(size))
	buf := tc.newID()
	tc.send(tc.req(pool, 0).
		PutNewID(buf).
		PutInt(0).
		PutInt(width).
		PutInt(height).
		PutInt(width * 4).
		PutUint(shmFormatARGB8888))
	return buf
}

// xdgToplevel creates a surface with a toplevel role and returns the
// surface, xdg_surface and xdg_toplevel ids.
func (tc *testClient) xdgToplevel(compositor, wmBase uint32) (uint32, uint32, uint32) {
	surf := tc.createSurface(compositor)
	xs := tc.newID()
	tc.send(tc.req(wmBase, 2).PutNewID(xs).PutObject(surf))
	tl := tc.newID()
	tc.send(tc.req(xs, 1).PutNewID(tl))
	return surf, xs, tl
}

// lastSerial is the serial of the newest xdg_surface.configure for xs.
func lastSerial(t *testing.T, events []*wire.Message, xs uint32) uint32 {
	t.Helper()
	configures := only(events, xs, opXdgSurfaceConfigure)
	require.NotEmpty(t, configures, "no configure for xdg_surface@%d", xs)
	return configures[len(configures)-1].Uint()
}

// only keeps the events sent by object with opcode.
func only(events []*wire.Message, object uint32, opcode uint16) []*wire.Message {
	var out []*wire.Message
	for _, m := range events {
		if m.Sender == object && m.Opcode == opcode {
			out = append(out, m)
		}
	}
	return out
}
