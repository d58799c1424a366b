package compositor

import (
	"fmt"
	"sort"

	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
)

type ClientID uint64

type ClientKind int

const (
	// Connected through the listening socket
	ClientNative ClientKind = iota
	// Connected through the Xwayland socketpair owned by the bridge
	ClientBridged
)

func (k ClientKind) String() string {
	switch k {
	case ClientNative:
		return "native"
	case ClientBridged:
		return "bridged"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

type DisconnectReason int

const (
	ReasonConnectionClosed DisconnectReason = iota
	ReasonProtocolError
	ReasonServerShutdown
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionClosed:
		return "connection closed"
	case ReasonProtocolError:
		return "protocol error"
	case ReasonServerShutdown:
		return "server shutdown"
	default:
		return "unknown"
	}
}

// ProtocolState is the per-client state every connection has regardless
// of how it was established.
type ProtocolState struct {
	objects map[uint32]*Resource
	// Creation order, used to tear down children before parents
	seq uint64
	// Pools mapped for this client only
	pools map[*shmPool]struct{}
}

// NativeState belongs to clients that connected through the socket.
type NativeState struct {
	ProtocolState
}

// BridgedState belongs to the Xwayland connection.
type BridgedState struct {
	ProtocolState
	// X11 display number once Xwayland reported readiness
	Display int
}

// Client is one connected peer. Exactly one of native and bridged is set,
// decided when the connection was accepted.
type Client struct {
	ID   ClientID
	Kind ClientKind

	native  *NativeState
	bridged *BridgedState

	conn   *wire.Conn
	server *Server
	closed bool
}

func newClient(s *Server, id ClientID, kind ClientKind, conn *wire.Conn) *Client {
	c := &Client{ID: id, Kind: kind, conn: conn, server: s}
	state := ProtocolState{
		objects: make(map[uint32]*Resource),
		pools:   make(map[*shmPool]struct{}),
	}
	switch kind {
	case ClientBridged:
		c.bridged = &BridgedState{ProtocolState: state, Display: -1}
	default:
		c.native = &NativeState{ProtocolState: state}
	}
	return c
}

// State returns the protocol state shared by both variants.
func (c *Client) State() *ProtocolState {
	if c.bridged != nil {
		return &c.bridged.ProtocolState
	}
	return &c.native.ProtocolState
}

// Native returns the native state. Asking a bridged client for it means
// the connection classification and its callers disagree.
func (c *Client) Native() *NativeState {
	if c.native == nil {
		panic(fmt.Sprintf("client %d: expected native client data, have %s", c.ID, c.Kind))
	}
	return c.native
}

// Bridged is the counterpart of Native.
func (c *Client) Bridged() *BridgedState {
	if c.bridged == nil {
		panic(fmt.Sprintf("client %d: expected bridged client data, have %s", c.ID, c.Kind))
	}
	return c.bridged
}

func (c *Client) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"client": c.ID,
		"kind":   c.Kind,
	})
}

// requestHandler handles one request opcode of a resource.
type requestHandler func(c *Client, r *Resource, m *wire.Message) error

// Resource is one protocol object living in a client's object table.
type Resource struct {
	ID        uint32
	Interface *Interface
	Version   uint32
	Data      any

	client    *Client
	handlers  []requestHandler
	onDestroy func()
	seq       uint64
	destroyed bool
}

func (r *Resource) Client() *Client {
	return r.client
}

// Send queues an event on the owning client unless the resource is gone.
func (r *Resource) Send(b *wire.Builder) {
	if r.destroyed || r.client.closed {
		for _, fd := range b.FDs() {
			closeFD(fd)
		}
		return
	}
	r.client.conn.Queue(b)
}

func (r *Resource) event(opcode uint16) *wire.Builder {
	return wire.NewBuilder(r.ID, opcode)
}

func (r *Resource) postError(code uint32, format string, args ...any) error {
	return &ProtocolError{Object: r.ID, Interface: r.Interface.Name, Code: code, Message: fmt.Sprintf(format, args...)}
}

// newResource registers a client-chosen id. Reusing a live id is a
// protocol violation.
func (c *Client) newResource(id uint32, iface *Interface, version uint32, handlers []requestHandler, data any) (*Resource, error) {
	st := c.State()
	if id == 0 || id >= serverIDStart {
		return nil, displayError(errDisplayInvalidObject, "invalid new id %d for %s", id, iface.Name)
	}
	if _, ok := st.objects[id]; ok {
		return nil, displayError(errDisplayInvalidObject, "id %d already in use, cannot create %s", id, iface.Name)
	}
	st.seq++
	r := &Resource{
		ID:        id,
		Interface: iface,
		Version:   version,
		Data:      data,
		client:    c,
		handlers:  handlers,
		seq:       st.seq,
	}
	st.objects[id] = r
	return r, nil
}

func (c *Client) resource(id uint32) (*Resource, bool) {
	r, ok := c.State().objects[id]
	return r, ok
}

// destroyResource runs the destructor, forgets the id and acknowledges
// the deletion so the client can reuse it.
func (c *Client) destroyResource(r *Resource) {
	if r.destroyed {
		return
	}
	if r.onDestroy != nil {
		r.onDestroy()
	}
	r.destroyed = true
	delete(c.State().objects, r.ID)
	if !c.closed && r.ID < serverIDStart {
		c.conn.Queue(wire.NewBuilder(1, opDisplayDeleteID).PutUint(r.ID))
	}
}

// destroyAll tears down every resource, newest first.
func (c *Client) destroyAll() {
	objects := c.State().objects
	all := make([]*Resource, 0, len(objects))
	for _, r := range objects {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	for _, r := range all {
		c.destroyResource(r)
	}
}

// lookup resolves an object argument of the expected interface. A zero
// id yields nil when nullable is set.
func (c *Client) lookup(id uint32, iface *Interface, nullable bool) (*Resource, error) {
	if id == 0 {
		if nullable {
			return nil, nil
		}
		return nil, displayError(errDisplayInvalidObject, "null %s not allowed", iface.Name)
	}
	r, ok := c.resource(id)
	if !ok || r.Interface != iface {
		return nil, displayError(errDisplayInvalidObject, "object %d is not a %s", id, iface.Name)
	}
	return r, nil
}
