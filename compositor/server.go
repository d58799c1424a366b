// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package compositor is a small embeddable Wayland compositor core. It
// speaks the protocol to clients, tracks their surfaces and windows and
// hands lifecycle events to an external renderer through a task queue.
//
// All state is owned by a single reactor goroutine: the one calling Tick
// or Run. Other goroutines only read sockets and post events.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/mstarongithub/wayvr/common/ipc"
	"github.com/mstarongithub/wayvr/util/multiplexer"
	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	eventQueueSize      = 1024
	defaultWriteTimeout = 2 * time.Second
	maxAutoSockets      = 32
)

type Options struct {
	// Socket name inside RuntimeDir. Empty picks wayland-1 and up.
	SocketName string
	// Defaults to $XDG_RUNTIME_DIR
	RuntimeDir string
	// Xwayland binary used by StartBridge
	XWaylandPath string
	// How long a flush to a client may block before it is dropped
	WriteTimeout time.Duration
}

type Server struct {
	SessionID string

	opts    Options
	globals []*global

	clients    map[ClientID]*Client
	nextClient ClientID

	surfaces    map[SurfaceID]*Surface
	nextSurface SurfaceID
	// Surfaces committed since the renderer last looked at them
	dirty map[SurfaceID]struct{}

	shell      shellState
	seat       seatState
	dataDevice dataDeviceState
	foreign    foreignState
	bridge     *Bridge

	tasks *multiplexer.ManyToOne[Task]

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	fatal     error

	listener   *net.UnixListener
	socketName string
	socketPath string
	lockFile   *os.File

	serial  uint32
	started time.Time
}

func New(opts Options) *Server {
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.RuntimeDir == "" {
		opts.RuntimeDir = xdg.RuntimeDir
	}
	s := &Server{
		SessionID: uuid.NewString(),
		opts:      opts,
		clients:   make(map[ClientID]*Client),
		surfaces:  make(map[SurfaceID]*Surface),
		dirty:     make(map[SurfaceID]struct{}),
		tasks:     multiplexer.NewManyToOne[Task](),
		events:    make(chan event, eventQueueSize),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		started:   time.Now(),
	}
	s.shell.init()
	s.seat.init()
	s.dataDevice.init()
	s.foreign.init()

	s.addGlobal(compositorInterface, s.bindCompositor)
	s.addGlobal(subcompositorInterface, s.bindSubcompositor)
	s.addGlobal(shmInterface, s.bindShm)
	s.addGlobal(seatInterface, s.bindSeat)
	s.addGlobal(dataDeviceManagerInterface, s.bindDataDeviceManager)
	s.addGlobal(xdgWmBaseInterface, s.bindXdgWmBase)
	s.addGlobal(xdgExporterInterface, s.bindXdgExporter)
	s.addGlobal(xdgImporterInterface, s.bindXdgImporter)
	s.addGlobal(xwaylandShellInterface, s.bindXWaylandShell).visible = func(c *Client) bool {
		return c.Kind == ClientBridged
	}
	return s
}

func (s *Server) addGlobal(iface *Interface, bind func(c *Client, id, version uint32) error) *global {
	g := &global{
		name:  uint32(len(s.globals) + 1),
		iface: iface,
		bind:  bind,
	}
	s.globals = append(s.globals, g)
	return g
}

// Start opens the listening socket and begins accepting clients.
func (s *Server) Start() error {
	l, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = l
	logrus.WithFields(logrus.Fields{
		"socket":  s.socketPath,
		"session": s.SessionID,
	}).Infoln("Running Wayland compositor")
	go s.acceptLoop(l)
	return nil
}

func (s *Server) listen() (*net.UnixListener, error) {
	if s.opts.RuntimeDir == "" {
		return nil, errors.New("no runtime directory: XDG_RUNTIME_DIR is not set")
	}
	names := []string{s.opts.SocketName}
	if s.opts.SocketName == "" {
		names = names[:0]
		for i := 1; i <= maxAutoSockets; i++ {
			names = append(names, fmt.Sprintf("wayland-%d", i))
		}
	}
	for _, name := range names {
		path := filepath.Join(s.opts.RuntimeDir, name)
		lock, err := lockSocket(path)
		if err != nil {
			logrus.WithError(err).WithField("socket", path).Debugln("Socket name taken")
			continue
		}
		// The lock proves nobody is serving on a leftover socket file
		_ = os.Remove(path)
		l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
		if err != nil {
			lock.Close()
			os.Remove(lock.Name())
			return nil, fmt.Errorf("listening on %s: %w", path, err)
		}
		l.SetUnlinkOnClose(true)
		s.lockFile = lock
		s.socketName = name
		s.socketPath = path
		return l, nil
	}
	return nil, ErrNoFreeSocket
}

func lockSocket(path string) (*os.File, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0o660)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", f.Name(), err)
	}
	return f, nil
}

// SocketName is what clients put into WAYLAND_DISPLAY.
func (s *Server) SocketName() string {
	return s.socketName
}

func (s *Server) acceptLoop(l *net.UnixListener) {
	for {
		conn, err := l.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithError(err).Warnln("Accepting client failed")
			continue
		}
		if !s.post(connEvent{conn: conn}) {
			conn.Close()
			return
		}
	}
}

// post hands an event to the reactor. It fails once the server closed.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Tick dispatches what is already queued without waiting for more,
// flushes client output and reports a fatal session error if any.
func (s *Server) Tick() error {
	if s.isClosed() {
		return ErrServerClosed
	}
	for n := len(s.events); n > 0; n-- {
		s.dispatch(<-s.events)
	}
	s.flushClients()
	return s.fatal
}

// Run dispatches events until ctx ends, Stop is called or a fatal error
// happens.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case ev := <-s.events:
			s.dispatch(ev)
			if len(s.events) == 0 {
				s.flushClients()
			}
			if s.fatal != nil {
				return s.fatal
			}
		}
	}
}

// Stop asks Run to return. Safe from any goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Stopped is closed once Stop was called.
func (s *Server) Stopped() <-chan struct{} {
	return s.stop
}

// Do runs fn on the reactor goroutine and waits for it. Calling it from
// the reactor goroutine itself deadlocks.
func (s *Server) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.post(callEvent{fn: fn, done: done}) {
		return ErrServerClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrServerClosed
	}
}

func (s *Server) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close tears down every client, the bridge and the socket.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		for _, c := range s.clients {
			s.disconnect(c, ReasonServerShutdown)
		}
		if s.bridge != nil {
			s.bridge.close()
		}
		if s.listener != nil {
			err = s.listener.Close()
		}
		if s.lockFile != nil {
			os.Remove(s.lockFile.Name())
			s.lockFile.Close()
		}
		s.tasks.Close()
		logrus.WithField("session", s.SessionID).Infoln("Compositor shut down")
	})
	return err
}

func (s *Server) nextSerial() uint32 {
	s.serial++
	return s.serial
}

// now is the protocol timestamp in milliseconds.
func (s *Server) now() uint32 {
	return uint32(time.Since(s.started).Milliseconds())
}

// AddClient registers a connection and starts reading from it. It must
// run on the reactor goroutine.
func (s *Server) AddClient(conn *net.UnixConn, kind ClientKind) *Client {
	s.nextClient++
	wc := wire.NewConn(conn)
	wc.WriteTimeout = s.opts.WriteTimeout
	c := newClient(s, s.nextClient, kind, wc)

	_, _ = c.newResource(1, displayInterface, 1, []requestHandler{
		s.displaySync,
		s.displayGetRegistry,
	}, nil)

	s.clients[c.ID] = c
	c.log().Debugln("Client connected")
	go s.readLoop(c)
	return c
}

func (s *Server) readLoop(c *Client) {
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			s.post(closedEvent{client: c, err: err})
			return
		}
		if !s.post(requestEvent{client: c, msg: msg}) {
			return
		}
	}
}

// Client looks a connected client up by id.
func (s *Server) Client(id ClientID) (*Client, bool) {
	c, ok := s.clients[id]
	return c, ok
}

// disconnect is the only cancellation path: everything the client owns
// is gone when it returns.
func (s *Server) disconnect(c *Client, reason DisconnectReason) {
	if c.closed {
		return
	}
	c.closed = true
	c.destroyAll()
	delete(s.clients, c.ID)
	if s.bridge != nil && s.bridge.client == c {
		s.bridge.clientGone()
	}
	c.conn.Close()
	c.log().WithField("reason", reason).Debugln("Client disconnected")
}

// protocolError reports err to the client and drops it. The rest of the
// server carries on.
func (s *Server) protocolError(c *Client, perr *ProtocolError) {
	c.log().WithError(perr).Warnln("Client protocol error")
	c.conn.Queue(wire.NewBuilder(1, opDisplayError).
		PutObject(perr.Object).
		PutUint(perr.Code).
		PutString(perr.Message))
	if err := c.conn.Flush(); err != nil {
		c.log().WithError(err).Debugln("Failed to deliver protocol error")
	}
	s.disconnect(c, ReasonProtocolError)
}

func (s *Server) flushClients() {
	for _, c := range s.clients {
		if err := c.conn.Flush(); err != nil {
			c.log().WithError(err).Debugln("Flushing client failed")
			s.disconnect(c, ReasonConnectionClosed)
		}
	}
}

func (s *Server) dispatchRequest(c *Client, m *wire.Message) {
	if c.closed {
		return
	}
	r, ok := c.resource(m.Sender)
	if !ok {
		s.protocolError(c, displayError(errDisplayInvalidObject, "invalid object %d", m.Sender))
		return
	}
	if int(m.Opcode) >= len(r.handlers) {
		s.protocolError(c, &ProtocolError{Object: r.ID, Interface: r.Interface.Name, Code: errDisplayInvalidMethod,
			Message: fmt.Sprintf("invalid method %d, object %s@%d", m.Opcode, r.Interface.Name, r.ID)})
		return
	}
	logrus.WithFields(logrus.Fields{
		"client":  c.ID,
		"object":  r.ID,
		"request": r.Interface.Name + "." + r.Interface.Requests[m.Opcode],
	}).Traceln("Dispatching request")

	err := r.handlers[m.Opcode](c, r, m)
	if err == nil {
		return
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		perr = &ProtocolError{Object: r.ID, Interface: r.Interface.Name, Code: errDisplayInvalidMethod,
			Message: fmt.Sprintf("bad arguments for %s.%s: %s", r.Interface.Name, r.Interface.Requests[m.Opcode], err)}
	}
	s.protocolError(c, perr)
}

func (s *Server) displaySync(c *Client, _ *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	cb, err := c.newResource(id, callbackInterface, 1, nil, nil)
	if err != nil {
		return err
	}
	cb.Send(cb.event(opCallbackDone).PutUint(s.nextSerial()))
	c.destroyResource(cb)
	return nil
}

func (s *Server) displayGetRegistry(c *Client, _ *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	reg, err := c.newResource(id, registryInterface, 1, []requestHandler{s.registryBind}, nil)
	if err != nil {
		return err
	}
	for _, g := range s.globals {
		if !g.visibleTo(c) {
			continue
		}
		reg.Send(reg.event(opRegistryGlobal).
			PutUint(g.name).
			PutString(g.iface.Name).
			PutUint(g.iface.Version))
	}
	return nil
}

func (s *Server) registryBind(c *Client, _ *Resource, m *wire.Message) error {
	name := m.Uint()
	ifaceName := m.String()
	version := m.Uint()
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	for _, g := range s.globals {
		if g.name != name || !g.visibleTo(c) {
			continue
		}
		if g.iface.Name != ifaceName {
			return displayError(errDisplayInvalidObject, "invalid interface for global %d: have %s, wanted %s", name, ifaceName, g.iface.Name)
		}
		if version == 0 || version > g.iface.Version {
			return displayError(errDisplayInvalidObject, "invalid version for global %s (%d): have %d, wanted 1..%d", ifaceName, name, version, g.iface.Version)
		}
		return g.bind(c, id, version)
	}
	return displayError(errDisplayInvalidObject, "invalid global %s (%d)", ifaceName, name)
}

// Globals lists what wl_registry advertises, in name order. Globals
// only the Xwayland client sees are marked as such.
func (s *Server) Globals() []ipc.GlobalEntry {
	out := make([]ipc.GlobalEntry, 0, len(s.globals))
	for _, g := range s.globals {
		out = append(out, ipc.GlobalEntry{
			Name:        g.name,
			Interface:   g.iface.Name,
			Version:     g.iface.Version,
			BridgedOnly: g.visible != nil,
		})
	}
	return out
}
