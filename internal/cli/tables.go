package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/health"
)

const previewLen = 60

func renderServers(w io.Writer, cfg *config.Config) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Name", "Address", "Timeout", "Segmented", "Leading Packet", "Password"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, name := range cfg.ServerNames() {
		p, err := cfg.Server(name)
		if err != nil {
			continue
		}
		tw.Append([]string{
			name,
			p.Address(),
			p.Timeout().String(),
			yesNo(p.Segmented),
			yesNo(p.SkipLeadingPacket()),
			passwordSource(p),
		})
	}

	tw.Render()
}

func renderHistory(w io.Writer, entries []db.HistoryEntry, full bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No commands recorded.")
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"When", "Server", "Trigger", "Command", "Took", "Result"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(full)

	for _, e := range entries {
		result := e.Response
		if e.Error != "" {
			result = "ERROR: " + e.Error
		}
		if !full {
			result = preview(result)
		}
		tw.Append([]string{
			e.ExecutedAt.Local().Format(time.DateTime),
			e.Server,
			e.Trigger,
			e.Command,
			e.Duration.String(),
			result,
		})
	}

	tw.Render()
}

func renderHealth(w io.Writer, statuses []health.Status) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Server", "State", "Latency", "Error"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, st := range statuses {
		tw.Append([]string{
			st.Server,
			string(st.State),
			st.Latency.Round(time.Millisecond).String(),
			preview(st.Error),
		})
	}

	tw.Render()
}

// preview flattens s to one line and truncates it.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > previewLen {
		return s[:previewLen-3] + "..."
	}
	return s
}

func passwordSource(p config.ServerProfile) string {
	switch {
	case p.PasswordEnv != "":
		return "$" + p.PasswordEnv
	case p.Password != "":
		return "inline"
	default:
		return "-"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
