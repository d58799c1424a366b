package xwm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const defaultXWayland = "Xwayland"

// Process is a running rootless Xwayland server.
type Process struct {
	cmd *exec.Cmd

	wayland *net.UnixConn
	wm      net.Conn
	ready   *os.File

	exited  chan struct{}
	exitErr error
}

// Launch starts Xwayland with its Wayland connection and its window
// manager connection already in place. Fd 3 is the Wayland socket, fd 4
// the window manager socket and fd 5 receives the display number.
func Launch(path string) (*Process, error) {
	if path == "" {
		path = defaultXWayland
	}
	wlOurs, wlTheirs, err := socketPair("wayland")
	if err != nil {
		return nil, err
	}
	wmOurs, wmTheirs, err := socketPair("wm")
	if err != nil {
		closeAll(wlOurs, wlTheirs)
		return nil, err
	}
	readyR, readyW, err := os.Pipe()
	if err != nil {
		closeAll(wlOurs, wlTheirs, wmOurs, wmTheirs)
		return nil, fmt.Errorf("creating displayfd pipe: %w", err)
	}

	cmd := exec.Command(path, "-rootless", "-terminate", "-wm", "4", "-displayfd", "5")
	cmd.ExtraFiles = []*os.File{wlTheirs, wmTheirs, readyW}
	cmd.Env = append(os.Environ(), "WAYLAND_SOCKET=3")
	cmd.Stderr = os.Stderr
	err = cmd.Start()
	closeAll(wlTheirs, wmTheirs, readyW)
	if err != nil {
		closeAll(wlOurs, wmOurs, readyR)
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	p := &Process{cmd: cmd, ready: readyR, exited: make(chan struct{})}
	go p.wait()

	if p.wayland, err = wire.FileConn(wlOurs); err != nil {
		p.Kill()
		return nil, err
	}
	wmConn, err := net.FileConn(wmOurs)
	wmOurs.Close()
	if err != nil {
		p.Kill()
		return nil, fmt.Errorf("wrapping window manager socket: %w", err)
	}
	p.wm = wmConn

	logrus.WithFields(logrus.Fields{
		"path": path,
		"pid":  cmd.Process.Pid,
	}).Infoln("Started Xwayland")
	return p, nil
}

func socketPair(name string) (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s socketpair: %w", name, err)
	}
	return os.NewFile(uintptr(fds[0]), name), os.NewFile(uintptr(fds[1]), name+"-xwayland"), nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	entry := logrus.WithField("pid", p.cmd.Process.Pid)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithField("code", p.cmd.ProcessState.ExitCode()).Infoln("Xwayland exited")
	p.exitErr = err
	close(p.exited)
}

// WaylandConn is the server end of the Xwayland Wayland connection.
func (p *Process) WaylandConn() *net.UnixConn {
	return p.wayland
}

// WMConn is the window manager end of the X11 connection.
func (p *Process) WMConn() net.Conn {
	return p.wm
}

// Exited is closed once the process is gone.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// WaitReady blocks until Xwayland reports its display number.
func (p *Process) WaitReady(ctx context.Context) (int, error) {
	type result struct {
		display int
		err     error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.ready).ReadString('\n')
		p.ready.Close()
		if err != nil && line == "" {
			done <- result{err: fmt.Errorf("reading display number: %w", err)}
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			err = fmt.Errorf("bad display number %q: %w", line, err)
		}
		done <- result{display: n, err: err}
	}()

	select {
	case r := <-done:
		return r.display, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.exited:
		err := p.exitErr
		if err == nil {
			err = errors.New("exit status 0")
		}
		return 0, fmt.Errorf("Xwayland exited before becoming ready: %w", err)
	}
}

// Kill stops Xwayland and closes the window manager connection.
func (p *Process) Kill() error {
	if p.wm != nil {
		p.wm.Close()
	}
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing Xwayland: %w", err)
	}
	return nil
}
