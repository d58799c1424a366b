package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mstarongithub/wayvr/compositor"
	"github.com/mstarongithub/wayvr/config"
	"github.com/mstarongithub/wayvr/headless"
	"github.com/sirupsen/logrus"
)

func fatal(msg string, err error) {
	fmt.Printf("error %s: %s\n", msg, err)
	os.Exit(1)
}

func wlMain(conf *config.Config) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// start the server
	server := compositor.New(compositor.Options{
		SocketName:   conf.SocketName,
		XWaylandPath: conf.XWayland.Path,
	})
	if err := server.Start(); err != nil {
		fatal("starting server", err)
	}
	if conf.XWayland.Enabled {
		if err := server.StartBridge(ctx); err != nil {
			server.Close()
			fatal("starting Xwayland", err)
		}
	}

	renderer := headless.New(server, conf.Renderer.Width, conf.Renderer.Height)

	switch conf.StartType {
	case config.START_REPL:
		go replRunner(server, renderer)
	case config.START_SINGLE_COMMAND:
		// Still before the first tick, so this goroutine owns the server
		parts := strings.Fields(*conf.StartCommand)
		if _, err := server.Spawn(parts[0], parts[1:], nil, os.Stdout); err != nil {
			logrus.WithError(err).WithField("command", *conf.StartCommand).Errorln("Start command failed")
		}
	}

	// start the wayland event loop
	err := renderer.Run(ctx, conf.Renderer.FrameRate)
	if conf.Renderer.Snapshot != "" {
		if serr := renderer.WritePNG(conf.Renderer.Snapshot); serr != nil {
			logrus.WithError(serr).Errorln("Writing final snapshot failed")
		}
	}
	server.Close()
	if err != nil {
		fatal("running server", err)
	}
}
