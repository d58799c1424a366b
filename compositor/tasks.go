package compositor

import (
	"github.com/mstarongithub/wayvr/util/multiplexer"
	"github.com/mstarongithub/wayvr/xwm"
	"github.com/sirupsen/logrus"
)

// Task is a lifecycle notification for the renderer. Producers only ever
// run on the reactor; the consumer drains from wherever it likes.
type Task interface {
	isTask()
}

// NewToplevelTask announces a window created by a native client.
type NewToplevelTask struct {
	Client   ClientID
	Toplevel ToplevelID
	Surface  SurfaceID
}

type ToplevelDestroyedTask struct {
	Client   ClientID
	Toplevel ToplevelID
	Surface  SurfaceID
}

// BridgedWindowMappedTask fires once an X11 window is both mapped and
// backed by a surface of the bridged client.
type BridgedWindowMappedTask struct {
	Window   uint32
	Surface  SurfaceID
	Geometry xwm.Rect
}

type BridgedWindowUnmappedTask struct {
	Window  uint32
	Surface SurfaceID
}

func (NewToplevelTask) isTask()           {}
func (ToplevelDestroyedTask) isTask()     {}
func (BridgedWindowMappedTask) isTask()   {}
func (BridgedWindowUnmappedTask) isTask() {}

// Tasks is the queue the renderer drains.
func (s *Server) Tasks() *multiplexer.ManyToOne[Task] {
	return s.tasks
}

func (s *Server) pushTask(t Task) {
	if err := s.tasks.Send(t); err != nil {
		logrus.WithError(err).WithField("task", t).Debugln("Dropping task")
	}
}
