package compositor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrServerClosed  = errors.New("server closed")
	ErrNoFreeSocket  = errors.New("no free wayland socket name")
	ErrBridgeRunning = errors.New("bridge already started")
)

// ProtocolError is a client protocol violation. It is reported to the
// offending client through wl_display.error and ends that connection.
type ProtocolError struct {
	Object    uint32
	Interface string
	Code      uint32
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s@%d: error %d: %s", e.Interface, e.Object, e.Code, e.Message)
}

// displayError is a violation reported against wl_display itself.
func displayError(code uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{Object: 1, Interface: displayInterface.Name, Code: code, Message: fmt.Sprintf(format, args...)}
}

func closeFD(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
