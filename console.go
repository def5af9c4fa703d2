package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/soundux/soundux-routing/logging"
	"github.com/soundux/soundux-routing/pkg/format"
	"github.com/soundux/soundux-routing/pkg/pulseid"
	"github.com/soundux/soundux-routing/routershim"
)

// Routing is what the console drives
type Routing interface {
	routershim.Shim
	IsSoundInputActive() bool
}

type Console struct {
	routing Routing
	in      io.Reader
	out     io.Writer
	logger  *zerolog.Logger
}

func NewConsole(routing Routing, in io.Reader, out io.Writer) *Console {
	return &Console{
		routing: routing,
		in:      in,
		out:     out,
		logger:  logging.GetSubsystemLogger("console"),
	}
}

// Run reads commands until quit, end of input, or ctx is done
func (c *Console) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("reading commands")
		}
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.Execute(line) {
				return
			}
			c.prompt()
		}
	}
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, "> ")
}

// Execute runs a single command line and reports whether the console
// should keep reading
func (c *Console) Execute(line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "list":
		fmt.Fprint(c.out, format.Streams(routershim.Playback, c.routing.PlaybackStreams()))
		fmt.Fprint(c.out, format.Streams(routershim.Recording, c.routing.RecordingStreams()))
	case "passthrough":
		app, ok := c.lookup(routershim.Playback, arg)
		if !ok {
			return true
		}
		c.report(c.routing.PassthroughFrom(app), "passthrough from "+app.Name)
	case "stop-passthrough":
		c.report(c.routing.StopPassthrough(), "passthrough stopped")
	case "inject":
		app, ok := c.lookup(routershim.Recording, arg)
		if !ok {
			return true
		}
		c.report(c.routing.InputSoundTo(app), "sound input to "+app.Name)
	case "stop-inject":
		c.report(c.routing.StopSoundInput(), "sound input stopped")
	case "status":
		fmt.Fprintf(c.out, "passthrough: %s\n", onOff(c.routing.IsPassthroughActive()))
		fmt.Fprintf(c.out, "sound input: %s\n", onOff(c.routing.IsSoundInputActive()))
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", cmd)
		fmt.Fprintln(c.out, "commands: list, passthrough <app|#id>, stop-passthrough, inject <app|#id>, stop-inject, status, quit")
	}
	return true
}

// lookup finds a stream of kind by application name (first match) or, for
// "#<index>", by stream index as printed by list
func (c *Console) lookup(kind routershim.StreamKind, name string) (routershim.StreamRecord, bool) {
	if name == "" {
		fmt.Fprintln(c.out, "missing application name")
		return routershim.StreamRecord{}, false
	}
	var streams []routershim.StreamRecord
	if kind == routershim.Playback {
		streams = c.routing.PlaybackStreams()
	} else {
		streams = c.routing.RecordingStreams()
	}

	if strings.HasPrefix(name, "#") {
		id, err := pulseid.ParseIndex(name)
		if err != nil {
			fmt.Fprintln(c.out, err)
			return routershim.StreamRecord{}, false
		}
		for _, s := range streams {
			if s.ID == id {
				return s, true
			}
		}
		fmt.Fprintf(c.out, "no %s stream %s\n", kind, name)
		return routershim.StreamRecord{}, false
	}

	for _, s := range streams {
		if s.Name == name {
			return s, true
		}
	}
	fmt.Fprintf(c.out, "no %s stream named %q\n", kind, name)
	return routershim.StreamRecord{}, false
}

func (c *Console) report(ok bool, what string) {
	if ok {
		fmt.Fprintln(c.out, "ok:", what)
	} else {
		fmt.Fprintln(c.out, "failed:", what)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
