package wire

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SocketPair returns both ends of a connected stream socketpair.
func SocketPair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating socketpair: %w", err)
	}
	a, err := FileConn(os.NewFile(uintptr(fds[0]), "wayland-a"))
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := FileConn(os.NewFile(uintptr(fds[1]), "wayland-b"))
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

// FileConn turns a socket file into a *net.UnixConn and closes f.
func FileConn(f *os.File) (*net.UnixConn, error) {
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("wrapping socket %s: %w", f.Name(), err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("socket %s is not a unix socket", f.Name())
	}
	return uc, nil
}
