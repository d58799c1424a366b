package compositor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Spawn starts a program as a client of this server. WAYLAND_DISPLAY and,
// with a ready bridge, DISPLAY point at the compositor. The exit status
// is only logged.
func (s *Server) Spawn(command string, args []string, env []string, output io.Writer) (*exec.Cmd, error) {
	if s.socketName == "" {
		return nil, errors.New("server is not listening")
	}
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), "WAYLAND_DISPLAY="+s.socketName)
	if display, ok := s.XDisplay(); ok {
		cmd.Env = append(cmd.Env, fmt.Sprintf("DISPLAY=:%d", display))
	}
	cmd.Env = append(cmd.Env, env...)
	if output != nil {
		cmd.Stdout = output
		cmd.Stderr = output
	}
	cmdString := strings.Join(append([]string{command}, args...), " ")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}
	logrus.WithFields(logrus.Fields{
		"command": cmdString,
		"pid":     cmd.Process.Pid,
	}).Infoln("Spawned client")

	go func() {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logrus.WithError(err).WithFields(logrus.Fields{
				"exit-code": exitErr.ExitCode(),
				"command":   cmdString,
			}).Warningln("Bad command completion")
			return
		}
		logrus.WithField("command", cmdString).Debugln("Command finished")
	}()
	return cmd, nil
}
