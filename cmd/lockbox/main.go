package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/clock"
	"github.com/n3tuk/time-locked-savings/internal/config"
	"github.com/n3tuk/time-locked-savings/internal/console"
	"github.com/n3tuk/time-locked-savings/internal/handlers"
	"github.com/n3tuk/time-locked-savings/internal/scheduler"
	"github.com/n3tuk/time-locked-savings/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "lockbox",
	Short:        "Time-locked savings",
	Long:         `An interactive savings ledger whose lock boxes release funds once their unlock time has passed.`,
	SilenceUsage: true,
	RunE:         runConsole,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Release every matured lock box and save the ledger",
	RunE:  runScan,
}

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "Print the release log",
	RunE:  runReleases,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit:  %s\n", commit)
		fmt.Printf("Built:   %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd, releasesCmd, versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("data-dir", "data", "Directory holding the ledger record files")
	flags.String("receipts-dir", "receipts", "Directory receiving per-user receipts and transaction logs")
	flags.String("storage-backend", config.BackendFile, "Storage backend (file, olric)")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (json, console)")
	flags.String("olric-host", "127.0.0.1", "Olric bind host")
	flags.Int("olric-port", 3320, "Olric bind port")
	flags.StringSlice("olric-join-addrs", []string{}, "Olric cluster join addresses")
	flags.String("olric-dmap-name", "lockbox-snapshots", "Olric DMap name")

	rootCmd.Flags().Duration("scan-interval", time.Second, "Background release scan interval (0 disables)")
	rootCmd.Flags().Bool("audit-async", false, "Deliver audit events on a background worker")
	rootCmd.Flags().Bool("metrics-enabled", false, "Serve metrics, health probes and reports over HTTP")
	rootCmd.Flags().String("metrics-host", "127.0.0.1", "Metrics server host")
	rootCmd.Flags().Int("metrics-port", 9090, "Metrics server port")
	rootCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout (e.g., 30s)")

	// Bind flags to viper
	_ = viper.BindPFlag("data.dir", flags.Lookup("data-dir"))
	_ = viper.BindPFlag("receipts.dir", flags.Lookup("receipts-dir"))
	_ = viper.BindPFlag("storage.backend", flags.Lookup("storage-backend"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("olric.host", flags.Lookup("olric-host"))
	_ = viper.BindPFlag("olric.port", flags.Lookup("olric-port"))
	_ = viper.BindPFlag("olric.join_addrs", flags.Lookup("olric-join-addrs"))
	_ = viper.BindPFlag("olric.dmap_name", flags.Lookup("olric-dmap-name"))
	_ = viper.BindPFlag("scan.interval", rootCmd.Flags().Lookup("scan-interval"))
	_ = viper.BindPFlag("audit.async", rootCmd.Flags().Lookup("audit-async"))
	_ = viper.BindPFlag("metrics.enabled", rootCmd.Flags().Lookup("metrics-enabled"))
	_ = viper.BindPFlag("metrics.host", rootCmd.Flags().Lookup("metrics-host"))
	_ = viper.BindPFlag("metrics.port", rootCmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("shutdown.timeout", rootCmd.Flags().Lookup("shutdown-timeout"))
}

// setup loads the configuration, builds the app and restores the ledger.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := a.load(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}

	a.log.Info("Starting time-locked savings",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("storage_backend", a.cfg.StorageBackend),
	)

	var scanner *scheduler.Scanner
	if a.cfg.ScanInterval > 0 {
		scanner = scheduler.NewScanner(a.log, a.ledger, a.metrics, a.cfg.ScanInterval)
		a.health.RegisterChecker(scanner)
		scanner.Start()
	}

	var srv *server.Server
	if a.cfg.MetricsEnabled {
		reports := handlers.NewReportHandlers(a.ledger, a.log)
		srv = server.New(server.Options{Host: a.cfg.MetricsHost, Port: a.cfg.MetricsPort}, a.log, a.metrics, a.health, reports)
		if err := srv.Start(); err != nil {
			if scanner != nil {
				scanner.Stop()
			}
			a.close(context.Background())
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- console.New(a.ledger, clock.System{}, os.Stdin, os.Stdout, a.log).Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-done:
	case sig := <-sigChan:
		a.log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		fmt.Fprintln(os.Stdout)
		cancel()
	}

	return shutdown(a, scanner, srv, runErr)
}

// shutdown stops background work, flushes the ledger and releases every
// resource. The first error encountered is returned.
func shutdown(a *app, scanner *scheduler.Scanner, srv *server.Server, runErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if scanner != nil {
		scanner.Stop()
	}
	if a.async != nil {
		a.async.Close()
		a.async = nil
	}

	saveErr := a.save(ctx)
	if saveErr != nil {
		a.log.Error("Error during shutdown", zap.Error(saveErr))
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Error("Error during shutdown", zap.Error(err))
		}
	}

	a.log.Info("Stopped gracefully")
	a.close(ctx)

	if runErr != nil {
		return runErr
	}
	return saveErr
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	scanner := scheduler.NewScanner(a.log, a.ledger, a.metrics, 0)
	released := scanner.RunOnce(ctx, "batch")

	for _, ev := range released {
		fmt.Printf("Released lock box #%d for %s: $%s\n", ev.LockBoxID, ev.Username, ev.Amount.StringFixed(2))
	}
	fmt.Printf("%d lock box(es) released.\n", len(released))

	if a.async != nil {
		a.async.Close()
		a.async = nil
	}
	return a.save(ctx)
}

func runReleases(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	log := a.ledger.ReleaseLog()
	if len(log) == 0 {
		fmt.Println("Release log is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LOCK BOX\tUSERNAME\tAMOUNT\tRELEASED")
	for _, ev := range log {
		fmt.Fprintf(w, "%d\t%s\t$%s\t%s\n", ev.LockBoxID, ev.Username, ev.Amount.StringFixed(2), ev.ReleasedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
