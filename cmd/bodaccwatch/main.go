package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bodaccwatch/internal/app"
	"bodaccwatch/internal/config"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "bodaccwatch",
		Short:         "Watch BODACC announcements for a list of companies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (json or yaml); empty reads the environment only")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(stateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll on schedule until interrupted (default)",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and exit",
		Long:  "Run a single cycle and exit. Per-company failures are logged, not fatal; only a state save failure exits non-zero.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rep := a.RunOnce(ctx)
			fmt.Printf("cycle %s: %d companies, %d fetched, %d new, %d sent, %d failed (%s)\n",
				rep.CycleID, rep.Entities, rep.Fetched, rep.New, rep.Sent, len(rep.Failed), rep.Took.Round(time.Millisecond))
			if rep.SaveErr != nil {
				return fmt.Errorf("save state: %w", rep.SaveErr)
			}
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print how many announcements are remembered per company",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(cfgPath)
			if err != nil {
				if errors.Is(err, config.ErrInvalid) {
					return err
				}
				return fmt.Errorf("open: %w", err)
			}
			defer a.Close()

			st := a.State(cmd.Context())
			if st.UpdatedAt == nil {
				fmt.Println("updated: never")
			} else {
				fmt.Println("updated:", st.UpdatedAt.UTC().Format(time.RFC3339))
			}
			names := make([]string, 0, len(st.Seen))
			for name := range st.Seen {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-40s %d\n", name, st.Seen[name].Len())
			}
			return nil
		},
	}
}
