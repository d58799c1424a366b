// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package repl is a line based command loop over any reader and writer.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

type MessageHandler func(string, *Repl) (string, error)

// ReadCloser combines the Reader and Closer interfaces
type ReadCloser interface {
	io.Reader
	io.Closer
}

type Repl struct {
	Input  ReadCloser
	Output io.WriteCloser
	// Written before every line that is read. Empty means no prompt
	Prompt string

	scanner *bufio.Scanner
	writer  *bufio.Writer
}

// Creates a new repl
// If no input is given, stdin will be used
// If no output is given, stdout will be used
// Note: The given reader and writer will be closed once the repl stops
func NewRepl(in ReadCloser, out io.WriteCloser) *Repl {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Repl{
		Input:   in,
		Output:  out,
		scanner: bufio.NewScanner(in),
		writer:  bufio.NewWriter(out),
	}
}

// Starts the repl
// Blocks execution until the input ends or the handler fails
// Blank lines are skipped, everything else is passed to the handler with surrounding spaces trimmed
func (r *Repl) Run(onMessage MessageHandler) error {
	defer r.Close()
	for {
		if err := r.write(r.Prompt); err != nil {
			return err
		}
		if !r.scanner.Scan() {
			break
		}
		newMessage := strings.TrimSpace(r.scanner.Text())
		if newMessage == "" {
			continue
		}
		res, err := onMessage(newMessage, r)
		if err != nil {
			return fmt.Errorf("message handler errored out on message \"%s\": %w", newMessage, err)
		}
		if err = r.write(res + "\n"); err != nil {
			return err
		}
	}
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

func (r *Repl) write(s string) error {
	if s == "" {
		return nil
	}
	if _, err := r.writer.WriteString(s); err != nil {
		return fmt.Errorf("failed to write \"%s\": %w", s, err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Close stops the repl if it was still running
// This will also close the reader and writer
func (r *Repl) Close() {
	r.Input.Close()
	r.Output.Close()
}
