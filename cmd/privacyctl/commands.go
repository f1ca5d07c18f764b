package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func newInitCmd(a *app) *cobra.Command {
	var example, force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a privacy config document",
		Long: `Write a privacy config document. The default document lists every
built-in pattern disabled (passthrough); --example writes the template with
the built-ins at their default enablement and two sample domain rules.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.resolvedPrivacyPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := privacy.DefaultConfig()
			if example {
				cfg = privacy.ExampleConfig()
			}
			if !a.store().Save(cfg, path) {
				return fmt.Errorf("failed to write %s", path)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote privacy config to %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&example, "example", false, "write the example template instead of the passthrough default")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing document")
	return cmd
}

func newPatternsCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the global patterns of the privacy config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.loadPrivacy()
			rows := make([][]string, 0, len(cfg.GlobalPatterns))
			for _, p := range cfg.GlobalPatterns {
				if !p.Enabled && !all {
					continue
				}
				rows = append(rows, []string{p.Name, strconv.FormatBool(p.Enabled), p.Replacement, p.Description})
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				_, err := fmt.Fprintln(out, mutedStyle.Render("No enabled patterns (use --all to list disabled ones)"))
				return err
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("NAME", "ENABLED", "REPLACEMENT", "DESCRIPTION").
				Rows(rows...)
			_, err := fmt.Fprintln(out, t.Render())
			return err
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include disabled patterns")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>",
		Short: "Show the rules, patterns and field masks that apply to a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			cfg := a.loadPrivacy()
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, headingStyle.Render("Matching domain rules"))
			rules := cfg.MatchingRules(url)
			if len(rules) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("  (none)"))
			}
			for _, r := range rules {
				fmt.Fprintf(out, "  %s  %s\n", r.DomainPattern, mutedStyle.Render(r.Description))
			}

			fmt.Fprintln(out, headingStyle.Render("Effective patterns"))
			patterns := cfg.PatternsForURL(url)
			if len(patterns) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("  (none)"))
			} else {
				rows := make([][]string, 0, len(patterns))
				for _, p := range patterns {
					rows = append(rows, []string{p.Name, p.Regex, p.Replacement})
				}
				fmt.Fprintln(out, table.New().
					Border(lipgloss.NormalBorder()).
					Headers("NAME", "PATTERN", "REPLACEMENT").
					Rows(rows...).
					Render())
			}

			masks := cfg.FieldMasksForURL(url)
			if len(masks) > 0 {
				fmt.Fprintln(out, headingStyle.Render("Field masks"))
				selectors := make([]string, 0, len(masks))
				for sel := range masks {
					selectors = append(selectors, sel)
				}
				sort.Strings(selectors)
				for _, sel := range selectors {
					fmt.Fprintf(out, "  %s -> %s\n", sel, masks[sel])
				}
			}
			return nil
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check that a privacy config document loads and every pattern compiles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.resolvedPrivacyPath()
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := a.store().LoadStrict(path)
			if err != nil {
				return err
			}

			var bad []error
			check := func(p privacy.Pattern) {
				if err := privacy.Compile(p); err != nil {
					bad = append(bad, err)
				}
			}
			for _, p := range cfg.GlobalPatterns {
				check(p)
			}
			for _, r := range cfg.DomainRules {
				for _, p := range r.AdditionalPatterns {
					check(p)
				}
			}
			if len(bad) > 0 {
				return fmt.Errorf("%s: %w", path, errors.Join(bad...))
			}
			for _, name := range cfg.DuplicatePatternNames() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: global pattern %q is defined more than once, the last definition applies\n", name)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d global patterns, %d domain rules\n",
				path, len(cfg.GlobalPatterns), len(cfg.DomainRules))
			return err
		},
	}
}

func newRedactCmd(a *app) *cobra.Command {
	var url string
	var showStats bool
	cmd := &cobra.Command{
		Use:   "redact <snapshot.json|->",
		Short: "Redact a recorded browser snapshot and print the filtered JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			snap, err := snapshot.Decode(data)
			if err != nil {
				return err
			}

			filter := privacy.NewDefaultFilter(a.loadPrivacy(), a.log.WithComponent("filter").Logger)
			result, err := filter.FilterSnapshot(cmd.Context(), snap, url)
			if err != nil {
				return fmt.Errorf("%s filter: %w", filter.Name(), err)
			}

			encoded, err := snapshot.Encode(result.FilteredData)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(encoded)); err != nil {
				return err
			}

			a.log.Info("Snapshot redacted",
				zap.String("url", result.URL),
				zap.Bool("was_filtered", result.WasFiltered),
				zap.Int("total", result.Stats.Total()),
			)
			if showStats {
				for _, name := range result.Stats.Names() {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s\t%d\n", name, result.Stats[name])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "resolve patterns for this URL instead of the snapshot's own")
	cmd.Flags().BoolVar(&showStats, "stats", false, "print per-pattern counts to stderr")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s not found", path)
	}
	return data, err
}
