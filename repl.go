package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mstarongithub/wayvr/common/ipc"
	"github.com/mstarongithub/wayvr/compositor"
	"github.com/mstarongithub/wayvr/headless"
	"github.com/mstarongithub/wayvr/repl"
	"github.com/mstarongithub/wayvr/util"
	"github.com/mstarongithub/wayvr/util/wrappers"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

// How long a repl command may wait for the compositor
const replTimeout = 5 * time.Second

var errStop = errors.New("normal stop")

func replRunner(server *compositor.Server, renderer *headless.Renderer) {
	// Give repl some wrappers around stdin and stdout so that it closes those instead of stdin & stdout themselves
	commandRepl := repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout))
	commandRepl.Prompt = "wayvr> "
	logrus.Debugln("Starting repl")
	err := commandRepl.Run(func(input string, r *repl.Repl) (string, error) {
		return handleCommand(server, renderer, input, r)
	})
	if err != nil && !errors.Is(err, errStop) {
		logrus.WithError(err).Warnln("Repl stopped")
	}
}

// onServer runs fn on the compositor goroutine
func onServer(server *compositor.Server, fn func()) error {
	ctx, cancel := context.WithTimeout(context.Background(), replTimeout)
	defer cancel()
	return server.Do(ctx, fn)
}

func handleCommand(server *compositor.Server, renderer *headless.Renderer, input string, r *repl.Repl) (string, error) {
	if cmdString, ok := strings.CutPrefix(input, "run "); ok {
		parts := strings.Fields(cmdString)
		if len(parts) == 0 {
			return "Nothing to run", nil
		}
		var err error
		if derr := onServer(server, func() {
			_, err = server.Spawn(parts[0], parts[1:], nil, r.Output)
		}); derr != nil {
			return "", derr
		}
		if err != nil {
			return fmt.Sprintf("Failed to run %s: %s", parts[0], err), nil
		}
		return "Running " + parts[0], nil
	} else if input == "quit" {
		server.Stop()
		return "Quitting", errStop
	} else if rawCmdString, ok := strings.CutPrefix(input, "inspect "); ok {
		// Can't unpack slices directly like in Python, so do it this roundabout way
		var target, mod string
		util.Unpack(strings.SplitN(rawCmdString, " ", 2), &target, &mod)
		logrus.WithFields(logrus.Fields{
			"cmd": target,
			"mod": mod,
			"raw": rawCmdString,
		}).Debugln("Parsed inspect command")
		var snap ipc.Snapshot
		if err := onServer(server, func() { snap = server.Snapshot() }); err != nil {
			return "", err
		}
		return formatInspect(snap, target, mod), nil
	} else if rawCmdString, ok := strings.CutPrefix(input, "pointer "); ok {
		return handlePointer(server, strings.Fields(rawCmdString))
	} else if path, ok := strings.CutPrefix(input, "snapshot "); ok {
		if err := renderer.WritePNG(strings.TrimSpace(path)); err != nil {
			return fmt.Sprintf("Snapshot failed: %s", err), nil
		}
		return "Wrote " + path, nil
	}
	return "Unknown command", nil
}

func formatInspect(snap ipc.Snapshot, target, filter string) string {
	var b strings.Builder
	switch target {
	case "status":
		st := snap.Status
		fmt.Fprintf(&b, "Session %s on %s\n", st.Session, st.Socket)
		if st.XDisplay >= 0 {
			fmt.Fprintf(&b, "Xwayland on :%d\n", st.XDisplay)
		}
		fmt.Fprintf(&b, "%d clients, %d surfaces (%d dirty), %d queued tasks",
			len(snap.Clients), st.Surfaces, st.DirtyCount, st.QueuedTasks)
	case "clients":
		clients := sliceutils.Filter(snap.Clients, func(c ipc.ClientEntry) bool {
			return filter == "" || c.Kind == filter
		})
		fmt.Fprintf(&b, "%d clients", len(clients))
		for _, c := range clients {
			fmt.Fprintf(&b, "\n\t- %d (%s): %d objects", c.ID, c.Kind, c.Objects)
		}
	case "toplevels":
		toplevels := sliceutils.Filter(snap.Toplevels, func(t ipc.ToplevelEntry) bool {
			return filter == "" || strings.Contains(t.AppID, filter) || strings.Contains(t.Title, filter)
		})
		fmt.Fprintf(&b, "%d toplevels", len(toplevels))
		for _, t := range toplevels {
			fmt.Fprintf(&b, "\n\t- %d: %q (%s) client %d surface %d activated=%v mapped=%v",
				t.ID, t.Title, t.AppID, t.Client, t.Surface, t.Activated, t.Mapped)
		}
	case "windows":
		if snap.Status.XDisplay < 0 && len(snap.Windows) == 0 {
			return "Xwayland bridge not running"
		}
		windows := sliceutils.Filter(snap.Windows, func(w ipc.WindowEntry) bool {
			return filter == "" || w.State == filter
		})
		fmt.Fprintf(&b, "%d windows", len(windows))
		for _, w := range windows {
			fmt.Fprintf(&b, "\n\t- 0x%x: %s %s override-redirect=%v surface %d",
				w.ID, w.State, w.Geometry, w.OverrideRedirect, w.Surface)
		}
	default:
		return "Inspect targets: status, clients, toplevels, windows"
	}
	return b.String()
}

func handlePointer(server *compositor.Server, args []string) (string, error) {
	var action, first, second string
	if util.Unpack(args, &action, &first, &second) == 0 {
		return "Pointer actions: move, down, up, scroll", nil
	}
	var apply func()
	switch action {
	case "move":
		x, errX := strconv.ParseFloat(first, 64)
		y, errY := strconv.ParseFloat(second, 64)
		if err := errors.Join(errX, errY); err != nil {
			return "Usage: pointer move <x> <y>", nil
		}
		apply = func() { server.PointerMotion(x, y) }
	case "down", "up":
		button, err := compositor.ParseMouseIndex(first)
		if err != nil {
			return err.Error(), nil
		}
		pressed := action == "down"
		apply = func() { server.PointerButton(button, pressed) }
	case "scroll":
		delta, err := strconv.ParseFloat(first, 64)
		if err != nil {
			return "Usage: pointer scroll <delta>", nil
		}
		apply = func() { server.PointerScroll(delta) }
	default:
		return "Pointer actions: move, down, up, scroll", nil
	}
	if err := onServer(server, apply); err != nil {
		return "", err
	}
	return "Ok", nil
}
