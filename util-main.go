package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/mstarongithub/wayvr/common/ipc"
	"github.com/mstarongithub/wayvr/compositor"
	"github.com/mstarongithub/wayvr/config"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

var (
	utilAction *string = flag.String(
		"action",
		"globals",
		"The action to perform. Can be one of:"+
			"\n\t- none: Do nothing"+
			"\n\t- globals: List the globals the compositor advertises"+
			"\n\t- config: Print the resolved config"+
			"\n\t- socket: List Wayland sockets in the runtime dir",
	)
	globalSelection *string = flag.String(
		"global",
		"",
		"Only list globals whose interface contains this. Used by -action globals",
	)
)

func utilMain(conf *config.Config) {
	if *help {
		utilHelpMessage()
		return
	}

	switch *utilAction {
	case "none":
	case "globals":
		utilListGlobals(*globalSelection)
	case "config":
		utilPrintConfig(conf)
	case "socket":
		utilListSockets()
	default:
		fmt.Printf("Unknown action %s\n", *utilAction)
	}
}

func utilHelpMessage() {
	fmt.Println("---- Help message for wayvr in tool mode ----")
	fmt.Println("\nIn tool mode, wayvr will offer various tools for figuring out configurations and similar")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Default is searching the xdg config dirs for " + config.SearchPath)
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for compositor mode if -tool is not set)")
	fmt.Println("\nTool flags:")
	fmt.Println("\t-action: The action to perform. Can be one of:")
	fmt.Println("\t\t- (default) globals: List the advertised globals. Use with -global to filter")
	fmt.Println("\t\t- config: Print the config as wayvr sees it")
	fmt.Println("\t\t- socket: List Wayland sockets in $XDG_RUNTIME_DIR")
	fmt.Println("\t-global: Interface name filter for -action globals")
}

func utilListGlobals(filter string) {
	// Building the server does no I/O, so this works without a session
	server := compositor.New(compositor.Options{})
	globals := sliceutils.Filter(server.Globals(), func(g ipc.GlobalEntry) bool {
		return strings.Contains(g.Interface, filter)
	})
	if len(globals) == 0 {
		fmt.Printf("No global matches %q\n", filter)
		return
	}
	for _, g := range globals {
		note := ""
		if g.BridgedOnly {
			note = " (Xwayland only)"
		}
		fmt.Printf("Global %d: %s v%d%s\n", g.Name, g.Interface, g.Version, note)
	}
}

func utilPrintConfig(conf *config.Config) {
	out, err := conf.Marshal()
	if err != nil {
		logrus.WithError(err).Errorln("Rendering config failed")
		return
	}
	fmt.Print(out)
}

func utilListSockets() {
	if xdg.RuntimeDir == "" {
		fmt.Println("XDG_RUNTIME_DIR is not set")
		return
	}
	matches, err := filepath.Glob(filepath.Join(xdg.RuntimeDir, "wayland-*"))
	if err != nil {
		logrus.WithError(err).Errorln("Listing sockets failed")
		return
	}
	sockets := sliceutils.Filter(matches, func(path string) bool {
		info, err := os.Stat(path)
		return err == nil && info.Mode()&os.ModeSocket != 0
	})
	fmt.Printf("Runtime dir: %s\n", xdg.RuntimeDir)
	for _, path := range sockets {
		fmt.Printf("\t- %s\n", filepath.Base(path))
	}
}
