package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/api"
	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/health"
	"github.com/energizer-project/rconsole/internal/scheduler"
	"github.com/energizer-project/rconsole/internal/telemetry"
)

func newExecCommand(a *app) *cobra.Command {
	var (
		segmented bool
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec <server> <command...>",
		Short: "Run one command and print its output",
		Args:  cobra.MinimumNArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			opts := dispatch.RunOptions{Trigger: events.TriggerCLI}
			if cmd.Flags().Changed("segmented") {
				opts.Segmented = &segmented
			}
			if cmd.Flags().Changed("delay") {
				opts.PreSentinelDelay = &delay
			}

			res, err := a.dispatcher.Run(cmd.Context(), args[0], strings.Join(args[1:], " "), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, res.Response.Body)
			if !strings.HasSuffix(res.Response.Body, "\n") {
				fmt.Fprintln(out)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVarP(&segmented, "segmented", "s", false, "expect a multi-packet response (overrides the profile)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause before the end-of-response marker (overrides the profile)")
	return cmd
}

func newConsoleCommand(a *app) *cobra.Command {
	var segmented bool

	cmd := &cobra.Command{
		Use:   "console <server>",
		Short: "Open an interactive console on one session",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			c := &Console{
				Dispatcher: a.dispatcher,
				Server:     args[0],
				In:         cmd.InOrStdin(),
				Out:        cmd.OutOrStdout(),
			}
			if cmd.Flags().Changed("segmented") {
				c.Segmented = &segmented
			}
			return c.Run(cmd.Context())
		}),
	}

	cmd.Flags().BoolVarP(&segmented, "segmented", "s", false, "expect multi-packet responses (overrides the profile)")
	return cmd
}

func newServersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured server profiles",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			renderServers(cmd.OutOrStdout(), a.cfg)
			return nil
		}),
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	var (
		server string
		limit  int
		full   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if a.history == nil {
				return errors.New("history is disabled in the configuration")
			}
			entries, err := a.history.Recent(cmd.Context(), server, limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), entries, full)
			return nil
		}),
	}

	cmd.Flags().StringVar(&server, "server", "", "only show this server")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&full, "full", false, "show complete responses")
	return cmd
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check [server...]",
		Short: "Log in to servers and report whether they accept the password",
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			m := health.NewManager(a.dispatcher, 0)

			var statuses []health.Status
			if len(args) == 0 {
				statuses = m.CheckAll(cmd.Context())
			} else {
				for _, name := range args {
					statuses = append(statuses, m.Check(cmd.Context(), name))
				}
			}
			renderHealth(cmd.OutOrStdout(), statuses)

			if n := countUnhealthy(statuses); n > 0 {
				return fmt.Errorf("%d of %d servers unhealthy", n, len(statuses))
			}
			return nil
		}),
	}
}

func countUnhealthy(statuses []health.Status) int {
	n := 0
	for _, st := range statuses {
		if st.State != health.StateHealthy {
			n++
		}
	}
	return n
}

func newServeCommand(a *app, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, schedules and telemetry until interrupted",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, version)
		}),
	}
}

// component is one long-running part of serve.
type component struct {
	name string
	run  func(ctx context.Context) error
}

// components builds everything serve runs without starting any of it.
func (a *app) components(version string) ([]component, error) {
	var out []component

	var probes *health.Manager
	if a.cfg.Health.IntervalSec > 0 {
		probes = health.NewManager(a.dispatcher, a.cfg.Health.Interval())
		out = append(out, component{"health", func(ctx context.Context) error {
			probes.Start(ctx)
			return nil
		}})
	}

	if a.cfg.MQTT.Enabled {
		h, err := telemetry.NewMQTTHandler(a.cfg.MQTT)
		if err != nil {
			return nil, err
		}
		out = append(out, component{"mqtt", func(ctx context.Context) error {
			return h.Start(ctx, a.bus)
		}})
	}

	if a.cfg.API.Enabled {
		api.Version = version
		var history api.HistoryReader
		if a.history != nil {
			history = a.history
		}
		srv := api.NewServer(a.cfg, a.dispatcher, history)
		if probes != nil {
			srv.SetHealth(probes)
		}
		out = append(out, component{"api", srv.Start})
	}

	if len(a.cfg.Schedules) > 0 {
		sched := scheduler.NewScheduler(a.cfg.Schedules, a.dispatcher)
		out = append(out, component{"scheduler", func(ctx context.Context) error {
			sched.Start(ctx)
			return nil
		}})
	}

	if len(out) == 0 {
		return nil, errors.New("nothing to serve: enable api, mqtt, health checks or add schedules")
	}
	return out, nil
}

// serve runs every background component until ctx is cancelled. The first
// component error cancels the rest, and serve returns only after all of
// them have stopped.
func (a *app) serve(ctx context.Context, version string) error {
	comps, err := a.components(version)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, c := range comps {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			if err := c.run(ctx); err != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", c.name, err) })
				cancel()
			}
		}(c)
	}

	log.Info().Str("version", version).Int("components", len(comps)).Msg("rconsole serving")
	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("rconsole stopped")
	return firstErr
}
