package compositor

import (
	"errors"
	"io"
	"net"

	"github.com/mstarongithub/wayvr/wire"
	"github.com/mstarongithub/wayvr/xwm"
	"github.com/sirupsen/logrus"
)

// event is anything a producer goroutine hands to the reactor.
type event interface {
	isEvent()
}

type connEvent struct {
	conn *net.UnixConn
}

type requestEvent struct {
	client *Client
	msg    *wire.Message
}

type closedEvent struct {
	client *Client
	err    error
}

// bridgeEvent carries one event of the X11 side.
type bridgeEvent struct {
	ev xwm.Event
}

type bridgeReadyEvent struct {
	wm      *xwm.WM
	display int
	err     error
}

type callEvent struct {
	fn   func()
	done chan struct{}
}

func (connEvent) isEvent()        {}
func (requestEvent) isEvent()     {}
func (closedEvent) isEvent()      {}
func (bridgeEvent) isEvent()      {}
func (bridgeReadyEvent) isEvent() {}
func (callEvent) isEvent()        {}

func (s *Server) dispatch(ev event) {
	switch ev := ev.(type) {
	case connEvent:
		s.AddClient(ev.conn, ClientNative)
	case requestEvent:
		s.dispatchRequest(ev.client, ev.msg)
	case closedEvent:
		if ev.client.closed {
			return
		}
		if !errors.Is(ev.err, io.EOF) {
			ev.client.log().WithError(ev.err).Debugln("Reading from client failed")
		}
		if errors.Is(ev.err, wire.ErrMalformed) || errors.Is(ev.err, wire.ErrMessageTooLong) {
			s.protocolError(ev.client, displayError(errDisplayInvalidMethod, "%s", ev.err))
			return
		}
		s.disconnect(ev.client, ReasonConnectionClosed)
	case bridgeEvent:
		if s.bridge == nil {
			logrus.WithField("event", ev.ev).Warnln("Bridge event without an active bridge")
			return
		}
		s.bridge.handle(ev.ev)
	case bridgeReadyEvent:
		s.bridgeReady(ev)
	case callEvent:
		ev.fn()
		close(ev.done)
	}
}
