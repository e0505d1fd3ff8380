package tools

import (
	"fmt"
	"strings"
)

// AgentCommand builds the shell command line that runs one agent subcommand
// on a remote host, e.g. "sudo roobench agent launch --host server-1 ...".
type AgentCommand struct {
	program    string
	sudo       bool
	subcommand string
	flags      []string
}

// NewAgentCommand creates a builder for "<program> agent <subcommand>".
func NewAgentCommand(program, subcommand string) *AgentCommand {
	return &AgentCommand{
		program:    program,
		subcommand: subcommand,
	}
}

// Sudo runs the command with sudo
func (c *AgentCommand) Sudo(enable bool) *AgentCommand {
	c.sudo = enable
	return c
}

// Flag appends "--name value". Empty values are skipped.
func (c *AgentCommand) Flag(name, value string) *AgentCommand {
	if value == "" {
		return c
	}
	c.flags = append(c.flags, "--"+name, ShellQuote(value))
	return c
}

// IntFlag appends "--name n" when n is positive.
func (c *AgentCommand) IntFlag(name string, n int) *AgentCommand {
	if n <= 0 {
		return c
	}
	c.flags = append(c.flags, "--"+name, fmt.Sprintf("%d", n))
	return c
}

// Build generates the complete command string
func (c *AgentCommand) Build() string {
	var cmd strings.Builder
	if c.sudo {
		cmd.WriteString("sudo ")
	}
	cmd.WriteString(ShellQuote(c.program))
	cmd.WriteString(" agent ")
	cmd.WriteString(c.subcommand)
	for _, f := range c.flags {
		cmd.WriteString(" ")
		cmd.WriteString(f)
	}
	return cmd.String()
}

// String returns the built command string
func (c *AgentCommand) String() string {
	return c.Build()
}

// ProvisionCommand creates dir and points <base>/latest at it.
func ProvisionCommand(dir, base string) string {
	return fmt.Sprintf("mkdir -p %s && ln -sfn %s %s", ShellQuote(dir), ShellQuote(dir), ShellQuote(base+"/latest"))
}

// ShellQuote single-quotes s for a POSIX shell. A leading "~/" stays outside
// the quotes so the remote shell still expands it.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.HasPrefix(s, "~/") {
		if len(s) == 2 {
			return "~/"
		}
		return "~/" + ShellQuote(s[2:])
	}
	if s == "~" {
		return s
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}
