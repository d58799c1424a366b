package compositor

import (
	"context"
	"fmt"

	"github.com/mstarongithub/wayvr/xwm"
	"github.com/sirupsen/logrus"
)

// StartBridge launches Xwayland and connects it as the bridged client.
// Readiness is reported asynchronously: the window manager takes over
// once Xwayland printed its display number, and a failure to get there
// surfaces as the fatal error of Tick or Run.
func (s *Server) StartBridge(ctx context.Context) error {
	if s.bridge != nil {
		return ErrBridgeRunning
	}
	proc, err := xwm.Launch(s.opts.XWaylandPath)
	if err != nil {
		return fmt.Errorf("launching Xwayland: %w", err)
	}
	c := s.AddClient(proc.WaylandConn(), ClientBridged)
	s.bridge = newBridge(s, c, nil)
	s.bridge.process = proc

	go func() {
		display, err := proc.WaitReady(ctx)
		var wm *xwm.WM
		if err == nil {
			wm, err = xwm.NewWM(proc.WMConn())
		}
		if !s.post(bridgeReadyEvent{wm: wm, display: display, err: err}) && wm != nil {
			wm.Close()
		}
	}()
	return nil
}

func (s *Server) bridgeReady(ev bridgeReadyEvent) {
	if ev.err != nil {
		s.fatal = fmt.Errorf("bridge initialization failed: %w", ev.err)
		logrus.WithError(ev.err).Errorln("Xwayland did not become ready")
		return
	}
	b := s.bridge
	if b == nil {
		// Xwayland went away while starting up
		ev.wm.Close()
		return
	}
	b.wm = ev.wm
	b.display = ev.display
	b.client.Bridged().Display = ev.display
	go ev.wm.Run(func(e xwm.Event) bool {
		return s.post(bridgeEvent{ev: e})
	})
	logrus.WithField("display", fmt.Sprintf(":%d", ev.display)).Infoln("Xwayland ready")
}

// XDisplay is the DISPLAY number of a ready bridge.
func (s *Server) XDisplay() (int, bool) {
	if s.bridge == nil || s.bridge.display < 0 {
		return 0, false
	}
	return s.bridge.display, true
}
