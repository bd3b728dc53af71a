package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/report"
)

// opener returns the store a command works on.
type opener func(ctx context.Context, configPath string) (datastore.Store, error)

func newRootCmd(open opener) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "report",
		Short:        "Inspect executions, strategies and the engine switch",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to the configuration file")

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store datastore.Store) error) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, err := open(ctx, configPath)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(ctx, store)
	}

	root.AddCommand(
		newSummaryCmd(withStore),
		newStrategiesCmd(withStore),
		newEngineCmd(withStore),
		newStatusCmd(withStore),
	)
	return root
}

type storeRunner func(cmd *cobra.Command, fn func(ctx context.Context, store datastore.Store) error) error

func newSummaryCmd(withStore storeRunner) *cobra.Command {
	var days int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Execution quality and realized PnL over the last N days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store datastore.Store) error {
				var since time.Time
				if days > 0 {
					since = time.Now().UTC().AddDate(0, 0, -days)
				}
				r, err := report.NewService(store).Generate(ctx, since, time.Time{})
				if errors.Is(err, report.ErrNoExecutions) {
					fmt.Fprintln(cmd.OutOrStdout(), "No executions in window.")
					return nil
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), r)
				}
				return r.WriteText(cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Window length in days (0 for all history)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newStrategiesCmd(withStore storeRunner) *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List stored strategies and their latest optimizer runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store datastore.Store) error {
				list, err := store.Strategies(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SYMBOL\tACTIVE\tRUN\tPARAMS")
				for _, s := range list {
					fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", s.Symbol, s.Active, s.RunID, s.Params)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if runs <= 0 {
					return nil
				}

				history, err := store.OptimizationRuns(ctx, "", runs)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FINISHED\tSYMBOL\tOUTCOME\tTRIALS\tSCORE\tERROR")
				for _, r := range history {
					score := "-"
					if r.Score != nil {
						score = fmt.Sprintf("%.4f", *r.Score)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						r.FinishedAt.Format(time.RFC3339), r.Symbol, r.Outcome, r.Trials, score, r.Error)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "Number of recent optimizer runs to list (0 to hide)")
	return cmd
}

func newEngineCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:       "engine on|off",
		Short:     "Switch live trading on or off",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			running := args[0] == "on"
			return withStore(cmd, func(ctx context.Context, store datastore.Store) error {
				if err := store.SetEngineRunning(ctx, running); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "engine_running = %t\n", running)
				return nil
			})
		},
	}
}

func newStatusCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine switch and last cycle health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store datastore.Store) error {
				st, err := store.SystemStatus(ctx)
				if err != nil {
					return err
				}
				health := st.Health
				if health == "" {
					health = "unknown"
				}
				updated := "never"
				if !st.UpdatedAt.IsZero() {
					updated = st.UpdatedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "engine_running: %t\nhealth:         %s\nupdated_at:     %s\n",
					st.EngineRunning, health, updated)
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
