// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cli

import (
	"strings"
	"testing"
)

func collect(in *Interpreter, line string) string {
	var b strings.Builder
	in.Process(line, func(fragment []byte) { b.Write(fragment) })
	return b.String()
}

// ============================================================
// Registration Tests
// ============================================================

func TestInterpreter_HelpIsBuiltIn(t *testing.T) {
	in := NewInterpreter()
	out := collect(in, "help")
	if !strings.Contains(out, "help:") {
		t.Errorf("Help output missing its own entry: %q", out)
	}
}

func TestInterpreter_NamesSorted(t *testing.T) {
	in := NewInterpreter()
	in.Register("zeta", "zeta: test", func(out []byte, _ string) (int, bool) { return 0, false })
	in.Register("alpha", "alpha: test", func(out []byte, _ string) (int, bool) { return 0, false })

	names := in.Names()
	if len(names) != 3 {
		t.Fatalf("Names = %v, expected 3 entries", names)
	}
	if names[0] != "alpha" || names[2] != "zeta" {
		t.Errorf("Names not sorted: %v", names)
	}
}

// ============================================================
// Dispatch Tests
// ============================================================

func TestInterpreter_UnknownCommand(t *testing.T) {
	in := NewInterpreter()
	out := collect(in, "bogus")
	if !strings.Contains(out, "Command not recognised: bogus") {
		t.Errorf("Unexpected reply: %q", out)
	}
}

func TestInterpreter_SingleFragment(t *testing.T) {
	in := NewInterpreter()
	in.Register("ping", "ping: replies pong", func(out []byte, _ string) (int, bool) {
		return copy(out, "pong\r\n"), false
	})
	if out := collect(in, "ping"); out != "pong\r\n" {
		t.Errorf("Reply = %q, expected pong", out)
	}
}

func TestInterpreter_MultiFragment(t *testing.T) {
	in := NewInterpreter()
	calls := 0
	in.Register("count", "count: emits three fragments", func(out []byte, _ string) (int, bool) {
		calls++
		n := copy(out, []byte{byte('0' + calls)})
		return n, calls < 3
	})
	if out := collect(in, "count"); out != "123" {
		t.Errorf("Reply = %q, expected fragments in order", out)
	}
	if calls != 3 {
		t.Errorf("Handler invoked %d times, expected 3", calls)
	}
}

func TestInterpreter_ArgumentsPassedThrough(t *testing.T) {
	in := NewInterpreter()
	var seen string
	in.Register("echo", "echo: repeats its argument", func(out []byte, cmd string) (int, bool) {
		seen = Arg(cmd, 1)
		return 0, false
	})
	collect(in, "echo  hello   world")
	if seen != "hello" {
		t.Errorf("Arg(1) = %q, expected hello", seen)
	}
}

func TestInterpreter_BlankLineIgnored(t *testing.T) {
	in := NewInterpreter()
	if out := collect(in, "   "); out != "" {
		t.Errorf("Blank input should produce no output, got %q", out)
	}
}

// ============================================================
// Argument Helper Tests
// ============================================================

func TestArg(t *testing.T) {
	tests := []struct {
		cmd  string
		i    int
		want string
	}{
		{"cmd a b", 0, "cmd"},
		{"cmd a b", 1, "a"},
		{"cmd a b", 2, "b"},
		{"cmd a b", 3, ""},
		{"cmd", 1, ""},
		{"  cmd   a  ", 1, "a"},
		{"cmd", -1, ""},
	}
	for _, tt := range tests {
		if got := Arg(tt.cmd, tt.i); got != tt.want {
			t.Errorf("Arg(%q, %d) = %q, expected %q", tt.cmd, tt.i, got, tt.want)
		}
	}
}
