package models

import (
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// RemoteCommand is a structured remote invocation. It is only turned into a shell
// string by Render, at the transport boundary.
type RemoteCommand struct {
	Engine     Engine
	Env        map[string]string
	Program    string
	Args       []string
	OutputPath string // local file receiving remote stdout; empty to capture it
}

// Render returns the command as a single POSIX shell string with every word quoted.
func (c RemoteCommand) Render() string {
	words := make([]string, 0, len(c.Env)+len(c.Args)+1)

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(shellquote.Join(c.Env[k]))
		b.WriteByte(' ')
	}

	words = append(words, c.Program)
	words = append(words, c.Args...)
	b.WriteString(shellquote.Join(words...))

	return b.String()
}

// Streamed reports whether the command's stdout goes to a local file.
func (c RemoteCommand) Streamed() bool {
	return c.OutputPath != ""
}
