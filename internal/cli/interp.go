// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cli

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// OutputBufferSize is the fragment buffer handed to command handlers on
// each invocation.
const OutputBufferSize = 512

// HandlerFunc produces one output fragment per call into out and reports
// whether it wants to be called again for the same command string. Long
// commands stream their output across calls instead of allocating one big
// reply.
type HandlerFunc func(out []byte, cmd string) (n int, more bool)

// CommandDef is one registered CLI command.
type CommandDef struct {
	Name    string
	Help    string
	Handler HandlerFunc
}

// Interpreter holds the command registry. One interpreter services both
// transports; the console arbiter guarantees a single caller at a time.
type Interpreter struct {
	mu   sync.Mutex
	cmds map[string]CommandDef
}

// NewInterpreter creates an interpreter with the built-in help command.
func NewInterpreter() *Interpreter {
	in := &Interpreter{cmds: make(map[string]CommandDef)}
	in.Register("help", "help: lists all registered commands", in.helpHandler)
	return in
}

// Register adds or replaces a command.
func (in *Interpreter) Register(name, help string, h HandlerFunc) {
	in.mu.Lock()
	in.cmds[name] = CommandDef{Name: name, Help: help, Handler: h}
	in.mu.Unlock()
}

// Names returns the registered command names in sorted order.
func (in *Interpreter) Names() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	names := make([]string, 0, len(in.cmds))
	for n := range in.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Process interprets one command line, invoking the handler repeatedly
// until it signals completion and emitting every produced fragment.
func (in *Interpreter) Process(line string, emit func([]byte)) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	name := line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		name = line[:i]
	}

	in.mu.Lock()
	def, ok := in.cmds[name]
	in.mu.Unlock()
	if !ok {
		emit([]byte(fmt.Sprintf("Command not recognised: %s. Enter 'help' to view a list of available commands.\r\n", name)))
		return
	}

	out := make([]byte, OutputBufferSize)
	for {
		n, more := def.Handler(out, line)
		if n > 0 {
			emit(out[:n])
		}
		if !more {
			return
		}
	}
}

// Arg returns the i-th whitespace-separated argument of the command string
// (0 is the command name itself), or "" when absent.
func Arg(cmd string, i int) string {
	fields := strings.Fields(cmd)
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func (in *Interpreter) helpHandler(out []byte, _ string) (int, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	var b strings.Builder
	names := make([]string, 0, len(in.cmds))
	for n := range in.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b.WriteString(in.cmds[n].Help)
		b.WriteString("\r\n")
	}
	s := b.String()
	if len(s) > len(out) {
		// Help exceeding one fragment is truncated; individual command
		// help lines stay well under the buffer.
		s = s[:len(out)]
	}
	return copy(out, s), false
}
