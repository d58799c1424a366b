// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"flag"
	"fmt"

	"github.com/mstarongithub/wayvr/config"
	"github.com/sirupsen/logrus"
)

var (
	configPath *string = flag.String(
		"config",
		"",
		"Path to the config file. Searches $XDG_CONFIG_HOME/"+config.SearchPath+" if not set",
	)
	toolMode *bool   = flag.Bool("tool", false, "Start as a tool instead of a compositor")
	help     *bool   = flag.Bool("help", false, "Show the help message for the selected mode")
	logLevel *string = flag.String("log-level", "", "Log level, overrides the config. One of trace, debug, info, warn, error")
)

func main() {
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		fatal("loading config", err)
	}
	setupLogging(conf)

	if *toolMode {
		utilMain(conf)
		return
	}
	if *help {
		helpMessage()
		return
	}
	wlMain(conf)
}

func setupLogging(conf *config.Config) {
	level := conf.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	if level == "" {
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		fatal("parsing log level", err)
	}
	logrus.SetLevel(parsed)
}

func helpMessage() {
	fmt.Println("---- Help message for wayvr in compositor mode ----")
	fmt.Println("\nwayvr runs a headless Wayland compositor and, if enabled, an Xwayland bridge")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Default is searching the xdg config dirs for " + config.SearchPath)
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for tool mode if -tool is set)")
	fmt.Println("\t-log-level: Overrides log_level of the config")
	fmt.Println("\nRepl commands:")
	fmt.Println("\trun <cmd> [args]: Start a client")
	fmt.Println("\tinspect status|clients|toplevels|windows [filter]: Show compositor state")
	fmt.Println("\tpointer move <x> <y> | down <button> | up <button> | scroll <delta>: Inject input into the focused window")
	fmt.Println("\tsnapshot <path>: Write the rendered canvas as png")
	fmt.Println("\tquit: Stop the compositor")
}
