package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"filesafe/internal/app"
	"filesafe/internal/backup"
	"filesafe/internal/config"
	"filesafe/internal/monitor"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "filesafe",
	Short: "Transactional file operation safety tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Journal:     %s (%s)\n", cfg.Journal.Type, cfg.Journal.DataDir)
		fmt.Printf("Backup:      %s (%s)\n", cfg.Backup.Type, cfg.Backup.Dir)
		if cfg.Backup.Encryption.Type == "age" {
			fmt.Printf("Encryption:  age (%s)\n", cfg.Backup.Encryption.IdentityPath)
		}
		return nil
	},
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a backup encryption key",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		identityPath := filepath.Join(defaults["base_dir"], "identity.age")
		recipient, err := backup.GenerateIdentity(identityPath)
		if err != nil {
			return fmt.Errorf("generating identity: %w", err)
		}

		fmt.Printf("Identity written to %s\n", identityPath)
		fmt.Printf("Add to your config:\n\n")
		fmt.Printf("[backup.encryption]\n")
		fmt.Printf("type = \"age\"\n")
		fmt.Printf("recipient = %q\n", recipient)
		fmt.Printf("identity_path = %q\n", identityPath)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation journal history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, rec := range records {
			status := "ok"
			if !rec.Success {
				status = "FAILED"
			}
			if rec.Operation == nil {
				fmt.Printf("%s  %s  %-8s  commit\n",
					rec.Timestamp.Format("2006-01-02 15:04:05"),
					rec.TransactionID,
					status,
				)
				continue
			}
			fmt.Printf("%s  %s  %-8s  %-6s  %s\n",
				rec.Timestamp.Format("2006-01-02 15:04:05"),
				rec.TransactionID,
				status,
				rec.Operation.Type,
				rec.Operation.EffectivePath(),
			)
		}
		return nil
	},
}

// tx command
var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Manage transactions",
}

var txRollbackCmd = &cobra.Command{
	Use:   "rollback TRANSACTION_ID",
	Short: "Roll back a recorded transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RollbackTransaction(args[0]); err != nil {
			return err
		}

		fmt.Printf("Rolled back transaction %s\n", args[0])
		return nil
	},
}

// journal command
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Manage the operation journal",
}

var journalCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop old journal records",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CleanupJournal(olderThan); err != nil {
			return err
		}

		fmt.Printf("Dropped records older than %s\n", olderThan)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch PATH...",
	Short: "Monitor directories for changes and conflicts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		mon := a.Monitor()

		unsubChange := mon.OnFileChanged(func(path string) {
			fmt.Printf("changed  %s\n", path)
		})
		defer unsubChange()

		unsubSafety := mon.OnSafetyEvent(func(ev monitor.SafetyEvent) {
			for _, c := range ev.Conflicts {
				fmt.Printf("conflict %-25s %-8s %s\n", c.Type, c.Severity, c.ConflictingPath)
			}
		})
		defer unsubSafety()

		unsubErr := mon.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		})
		defer unsubErr()

		if err := a.Watch(args); err != nil {
			return fmt.Errorf("starting watch: %w", err)
		}

		fmt.Printf("Watching %d directories. Ctrl-C to stop.\n", len(args))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan PATH",
	Short: "Scan a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		result, err := a.Scan(absPath)
		if err != nil {
			return err
		}

		for _, f := range result.Files {
			fmt.Printf("%10d  %-24s  %s\n", f.Size, f.MIMEType, f.Path)
		}
		fmt.Printf("\n%d file(s), %d dir(s), %s total, %s\n",
			result.FileCount, result.DirectoryCount,
			formatSize(result.TotalSize), result.Duration.Truncate(time.Millisecond))
		return nil
	},
}

// formatSize renders a byte count with a binary unit suffix.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeygenCmd)

	txCmd.AddCommand(txRollbackCmd)

	journalCmd.AddCommand(journalCleanupCmd)
	journalCleanupCmd.Flags().Duration("older-than", 30*24*time.Hour, "Drop records older than this duration")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of records to show")
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scanCmd)
}
