// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
)

type StartType int

const (
	// Tells wayvr to start a repl in parallel for interacting with it
	START_REPL = StartType(iota)
	// Tells wayvr to execute a specific command on startup
	START_SINGLE_COMMAND
	// Tells wayvr to start without any specific targets
	// Note: Good luck interacting with it :3
	START_NONE
)

// Where the config is looked for inside the xdg config dirs if no path is given
const SearchPath = "wayvr/config.toml"

type Config struct {
	StartType StartType `toml:"start_type,omitempty"`
	// What command to execute on start. Only matters if StartType is set to START_SINGLE_COMMAND
	StartCommand *string `toml:"start_command,omitempty"`
	// Socket name in $XDG_RUNTIME_DIR. Empty picks the first free wayland-N
	SocketName string `toml:"socket_name,omitempty"`
	// One of logrus' level names
	LogLevel string         `toml:"log_level,omitempty"`
	XWayland XWaylandConfig `toml:"xwayland"`
	Renderer RendererConfig `toml:"renderer"`
}

type XWaylandConfig struct {
	Enabled bool `toml:"enabled"`
	// Binary to launch. Searched in $PATH if not absolute
	Path string `toml:"path,omitempty"`
}

type RendererConfig struct {
	// Canvas size of the headless renderer in pixels
	Width  int `toml:"width"`
	Height int `toml:"height"`
	// Frames per second, also how often the compositor is ticked
	FrameRate int `toml:"frame_rate"`
	// If set, the canvas is written there as png on shutdown
	Snapshot string `toml:"snapshot,omitempty"`
}

func Default() Config {
	return Config{
		StartType: START_REPL,
		LogLevel:  "info",
		XWayland: XWaylandConfig{
			Path: "Xwayland",
		},
		Renderer: RendererConfig{
			Width:     1920,
			Height:    1080,
			FrameRate: 60,
		},
	}
}

// Load reads the config at path
// An empty path searches the xdg config dirs and falls back to the defaults if nothing is found there
// A given path that doesn't exist is an error
func Load(path string) (*Config, error) {
	conf := Default()
	if path == "" {
		found, err := xdg.SearchConfigFile(SearchPath)
		if err != nil {
			logrus.WithField("search", SearchPath).Debugln("No config file found, using defaults")
			return &conf, nil
		}
		path = found
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err = toml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err = conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logrus.WithField("path", path).Debugln("Loaded config")
	return &conf, nil
}

func (c *Config) Validate() error {
	switch c.StartType {
	case START_REPL, START_NONE:
	case START_SINGLE_COMMAND:
		if c.StartCommand == nil || len(strings.Fields(*c.StartCommand)) == 0 {
			return errors.New("start_type 1 needs a start_command")
		}
	default:
		return fmt.Errorf("unknown start_type %d", c.StartType)
	}
	if c.Renderer.Width <= 0 || c.Renderer.Height <= 0 {
		return fmt.Errorf("renderer size %dx%d is not positive", c.Renderer.Width, c.Renderer.Height)
	}
	if c.Renderer.FrameRate <= 0 {
		return fmt.Errorf("frame rate %d is not positive", c.Renderer.FrameRate)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Marshal renders the config back into toml, used by tool mode
func (c *Config) Marshal() (string, error) {
	data, err := toml.Marshal(*c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
