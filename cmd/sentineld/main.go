package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tarekazabou/sentineld/internal/config"
	"github.com/tarekazabou/sentineld/internal/daemon"
	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/logging"
	"github.com/tarekazabou/sentineld/internal/store"
	"github.com/tarekazabou/sentineld/internal/trust"
)

var (
	version = "0.1.0"

	configDir string
	verbose   bool
	noSystray bool
	webFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "sentineld",
	Short: "Single-workstation endpoint data-loss-prevention agent",
	Long: `sentineld watches process, filesystem, network, and registry
activity on one workstation, correlates it against rules, heuristics and
an optional anomaly model, and raises ranked, rate-limited alerts.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	// Invoking the root command with no subcommand behaves like "run".
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Inspect or mutate the trust list",
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trust entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListTrustEntries()
		if err != nil {
			return fmt.Errorf("trust list: %w", err)
		}
		for _, e := range entries {
			fmt.Printf("%-30s %-40s %-10s %s\n", e.Name, e.Path, e.AddedBy, e.Reason)
		}
		return nil
	},
}

var trustAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a trusted process name/path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		hash, _ := cmd.Flags().GetString("hash")
		reason, _ := cmd.Flags().GetString("reason")

		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		registry := trust.New(st)
		if err := registry.Add(args[0], path, hash, "", events.TrustAddedByUser, reason); err != nil {
			return fmt.Errorf("trust add: %w", err)
		}
		fmt.Printf("added %s to the trust list\n", args[0])
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a trusted process name/path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")

		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		registry := trust.New(st)
		if err := registry.Remove(args[0], path); err != nil {
			return fmt.Errorf("trust remove: %w", err)
		}
		fmt.Printf("removed %s from the trust list\n", args[0])
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sentineld version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "override configuration root")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logs")
	rootCmd.PersistentFlags().BoolVar(&noSystray, "no-systray", false, "disable tray UI")
	rootCmd.PersistentFlags().BoolVar(&webFlag, "web", false, "enable dashboard")

	trustAddCmd.Flags().String("path", "", "executable path for the trust entry")
	trustAddCmd.Flags().String("hash", "", "sha256 hash for the trust entry")
	trustAddCmd.Flags().String("reason", "", "reason recorded for this trust entry")
	trustRemoveCmd.Flags().String("path", "", "executable path for the trust entry")

	trustCmd.AddCommand(trustListCmd, trustAddCmd, trustRemoveCmd)
	rootCmd.AddCommand(runCmd, trustCmd, versionCmd)
}

func runDaemon() error {
	opts, err := config.Load(configDir, verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sentineld: config error:", err)
		return err
	}
	if webFlag {
		opts.WebEnabled = true
	}
	// noSystray has no effect: this implementation never starts a tray UI.

	log, err := logging.New(opts.LogDir, opts.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sentineld: logging init error:", err)
		return err
	}

	d, err := daemon.New(opts, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.WithError(err).Error("sentineld: daemon init failed")
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("sentineld: starting")
	return d.Run(ctx)
}

func openStoreForCLI() (*store.Store, error) {
	opts, err := config.Load(configDir, verbose)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return store.Open(opts.StorePath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
