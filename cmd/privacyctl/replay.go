package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/raaihank/browser-sentinel/internal/server"
	"github.com/raaihank/browser-sentinel/internal/session"
	"github.com/raaihank/browser-sentinel/internal/websocket"
	"github.com/raaihank/browser-sentinel/pkg/agent"
	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type replayOptions struct {
	listen       string
	steps        int
	delay        time.Duration
	strict       bool
	disabled     bool
	printPrompts bool
}

func newReplayCmd(a *app) *cobra.Command {
	o := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <dir>",
		Short: "Replay recorded snapshots through the privacy interceptor",
		Long: `Replay the *.json snapshots in <dir>, in lexical order, through the
agent interceptor as if a live browser agent produced them. Each step prints
its redaction summary. With --listen the audit server and dashboard stay up
until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd, args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.listen, "listen", "", "serve the audit API and dashboard on this address (:8765 binds loopback)")
	f.IntVar(&o.steps, "steps", 0, "stop after this many steps (0 replays everything)")
	f.DurationVar(&o.delay, "delay", 0, "pause after every step (overrides ECAN_PRIVACY_STEP_DELAY_SECONDS)")
	f.BoolVar(&o.strict, "strict", false, "abort on filter failure instead of passing the snapshot through")
	f.BoolVar(&o.disabled, "disable-privacy", false, "start with filtering off")
	f.BoolVar(&o.printPrompts, "print-prompts", false, "print the state message the model would receive")
	return cmd
}

func (a *app) replay(cmd *cobra.Command, dir string, o *replayOptions) error {
	ctx := cmd.Context()
	log := a.log.WithComponent("replay")

	pcfg := a.loadPrivacy()
	filter := privacy.NewDefaultFilter(pcfg, a.log.WithComponent("filter").Logger)

	prompts := session.NewPromptBuilder()
	state := session.StaticState{Vision: true}
	src, err := session.NewDirSource(nil, dir, prompts, state, log.Logger)
	if err != nil {
		return err
	}

	opts := []agent.Option{
		agent.WithFilter(filter),
		agent.WithLogger(a.log.WithComponent("agent").Logger),
		agent.WithPrivacyEnabled(a.cfg.Privacy.Enabled && !o.disabled),
		agent.WithStrict(a.cfg.Privacy.Strict || o.strict),
	}
	// Only explicit settings override the environment.
	if a.cfg.Privacy.Debug {
		opts = append(opts, agent.WithDebug(true))
	}
	if d := a.cfg.Privacy.StepDelay(); d > 0 {
		opts = append(opts, agent.WithStepDelay(d))
	}
	if cmd.Flags().Changed("delay") {
		opts = append(opts, agent.WithStepDelay(o.delay))
	}

	var hub *websocket.Hub
	if o.listen != "" && a.cfg.WebSocket.Enabled {
		hub = websocket.NewHub(a.cfg.WebSocket, a.log.Logger)
		opts = append(opts, agent.WithObserver(hub))
	}

	icpt, err := agent.New(src, prompts, state, opts...)
	if err != nil {
		return err
	}

	if a.cfg.Privacy.Watch {
		if target := regexTarget(filter); target != nil {
			stop, err := a.watchPrivacy(ctx, target)
			if err != nil {
				log.Warn("Privacy config hot reload unavailable", zap.Error(err))
			} else {
				defer stop()
			}
		}
	}

	var srv *server.Server
	serveErr := make(chan error, 1)
	if o.listen != "" {
		cfg := *a.cfg
		host, port, err := splitListen(o.listen)
		if err != nil {
			return err
		}
		cfg.Server.Host, cfg.Server.Port = host, port
		if !cfg.Server.Auth.Enabled && !isLoopbackHost(host) {
			log.Warn("Audit server reachable from other hosts without auth; state changes are refused for them",
				zap.String("host", host))
		}
		srv = server.New(&cfg, a.log, icpt, hub, version)
		go func() { serveErr <- srv.Start() }()
	}

	out := cmd.OutOrStdout()
	n, err := session.Replay(ctx, icpt, o.steps, func(step int, s *snapshot.BrowserSnapshot) error {
		printStep(out, step, icpt)
		if o.printPrompts {
			if msg, ok := prompts.Current(); ok {
				fmt.Fprintln(out, msg.Content)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		if srv != nil {
			_ = a.stopServer(srv)
		}
		return err
	}

	total := icpt.Stats()
	fmt.Fprintf(out, "Replayed %d steps, %d redactions", n, total.Total())
	if names := total.Names(); len(names) > 0 {
		fmt.Fprintf(out, " (%s)", formatStats(total))
	}
	fmt.Fprintln(out)

	if srv == nil {
		return nil
	}

	log.Info("Audit server running, interrupt to stop", zap.String("addr", o.listen))
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("audit server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}
	return a.stopServer(srv)
}

func (a *app) stopServer(srv *server.Server) error {
	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	a.log.Info("Server shutdown complete")
	return nil
}

// watchPrivacy hot-reloads the privacy document into target.
func (a *app) watchPrivacy(ctx context.Context, target privacy.ConfigTarget) (func(), error) {
	w, err := privacy.NewWatcher(a.store(), a.privacyPath, target, a.log.WithComponent("watcher").Logger)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return func() {
		_ = w.Close()
		<-done
	}, nil
}

// regexTarget finds the regex filter whose config a reload should replace.
func regexTarget(f privacy.Filter) privacy.ConfigTarget {
	switch v := f.(type) {
	case *privacy.RegexFilter:
		return v
	case *privacy.CompositeFilter:
		for _, inner := range v.Filters() {
			if t := regexTarget(inner); t != nil {
				return t
			}
		}
	}
	return nil
}

func printStep(out io.Writer, step int, icpt *agent.Interceptor) {
	entries := icpt.Entries()
	if len(entries) == 0 || entries[len(entries)-1].Step != step {
		status := "passthrough"
		if icpt.PrivacyEnabled() {
			status = "unfiltered (filter error)"
		}
		fmt.Fprintf(out, "step %d: %s\n", step, status)
		return
	}
	r := entries[len(entries)-1].Result
	if !r.WasFiltered {
		fmt.Fprintf(out, "step %d: %s clean\n", step, r.URL)
		return
	}
	fmt.Fprintf(out, "step %d: %s redacted %s\n", step, r.URL, formatStats(r.Stats))
}

func formatStats(s privacy.Stats) string {
	parts := make([]string, 0, len(s))
	for _, name := range s.Names() {
		parts = append(parts, name+"="+strconv.Itoa(s[name]))
	}
	return strings.Join(parts, " ")
}

// splitListen parses a --listen address. A bare ":port" binds loopback;
// other interfaces must be named explicitly.
func splitListen(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid --listen port %q", portStr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
