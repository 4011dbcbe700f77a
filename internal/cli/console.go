package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/protocol"
)

// Console is a line-oriented REPL over one authenticated session.
type Console struct {
	Dispatcher *dispatch.Dispatcher
	Server     string
	In         io.Reader
	Out        io.Writer
	// Segmented overrides the profile when non-nil.
	Segmented *bool
}

const consoleHelp = `Lines are sent to the server as commands.
  :segmented on|off   toggle multi-packet responses
  :help               show this help
  :quit               close the session`

// Run opens the session and reads commands until EOF, :quit or a
// connection error.
func (c *Console) Run(ctx context.Context) error {
	s, err := c.Dispatcher.Open(ctx, c.Server)
	if err != nil {
		return err
	}
	defer c.Dispatcher.Close(ctx, c.Server, s)

	fmt.Fprintf(c.Out, "Connected to %s. Type :help for console commands.\n", c.Server)

	scanner := bufio.NewScanner(c.In)
	scanner.Buffer(make([]byte, 4096), protocol.MaxPacketSize)

	for {
		fmt.Fprintf(c.Out, "%s> ", c.Server)
		if !scanner.Scan() {
			fmt.Fprintln(c.Out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":exit":
			return nil
		case line == ":help":
			fmt.Fprintln(c.Out, consoleHelp)
			continue
		case strings.HasPrefix(line, ":segmented"):
			c.toggleSegmented(strings.TrimSpace(strings.TrimPrefix(line, ":segmented")))
			continue
		case strings.HasPrefix(line, ":"):
			fmt.Fprintf(c.Out, "Unknown console command %q. Type :help.\n", line)
			continue
		}

		res, err := c.Dispatcher.Execute(ctx, s, c.Server, line, dispatch.RunOptions{
			Segmented: c.Segmented,
			Trigger:   events.TriggerConsole,
		})
		if err != nil {
			// Only encoding errors leave the stream in a known state.
			if protocol.KindOf(err) == protocol.KindEncoding {
				fmt.Fprintf(c.Out, "Error: %v\n", err)
				continue
			}
			return err
		}

		fmt.Fprint(c.Out, res.Response.Body)
		if !strings.HasSuffix(res.Response.Body, "\n") {
			fmt.Fprintln(c.Out)
		}
	}
}

func (c *Console) toggleSegmented(arg string) {
	switch arg {
	case "on":
		v := true
		c.Segmented = &v
	case "off":
		v := false
		c.Segmented = &v
	default:
		fmt.Fprintln(c.Out, "usage: :segmented on|off")
		return
	}
	fmt.Fprintf(c.Out, "segmented responses %s\n", arg)
}
