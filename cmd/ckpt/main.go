package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"ckpt-go/internal/app"
	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
	"ckpt-go/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from the default location.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a CkptApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "CreateCheckpoint").
func newApp(cmd *cobra.Command, operation string) (*app.CkptApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewCkptApp(cmd.Context(), cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// unlock prompts for the passphrase and unlocks the signing key.
func unlock(a *app.CkptApp) error {
	if !a.SignerConfigured() {
		return fmt.Errorf("no signing key configured: run `ckpt keys init`")
	}
	passphrase, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(passphrase)
}

func formatBytes(n int64) string {
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

func printPlan(plan *ckpt.Plan) {
	for _, e := range plan.Create {
		fmt.Printf("  create     %s\n", e.Path)
	}
	for _, e := range plan.Overwrite {
		fmt.Printf("  overwrite  %s\n", e.Path)
	}
	for _, e := range plan.Delete {
		fmt.Printf("  delete     %s\n", e.Path)
	}
}

var rootCmd = &cobra.Command{
	Use:          "ckpt",
	Short:        "Signed checkpoints and restore for generated projects",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		root, _ := cmd.Flags().GetString("root")
		root, err = filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolving project root: %w", err)
		}
		projectID, _ := cmd.Flags().GetString("project")
		if projectID == "" {
			projectID = uuid.New().String()
		}

		cfg := config.NewConfig(projectID, root, defaults["base_dir"])
		cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: defaults["data_dir"]}
		cfg.Vault = config.VaultConfig{Type: "filesystem", Name: "local", FSVaultRoot: defaults["vault_dir"]}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.Init(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Project ID:   %s\n", projectID)
		fmt.Printf("Project Root: %s\n", root)
		fmt.Printf("Base Dir:     %s\n", defaults["base_dir"])
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
		fmt.Printf("Project ID:   %s\n", cfg.ProjectID)
		fmt.Printf("Project Root: %s\n", cfg.ProjectRoot)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Vault:        %s %s\n", cfg.Vault.Type, cfg.Vault.Name)
		fmt.Printf("Signing Key:  %s\n", cfg.Signing.PrivateKeyPath)
		fmt.Printf("Time Budget:  %s\n", cfg.Restore.TimeBudget)
		fmt.Printf("Workers:      %d\n", cfg.Restore.WorkerCount())
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the checkpoint signing key",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the signing key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("trusted-out")

		pub, err := app.InitKeys(cfg, passphrase, out)
		if err != nil {
			return err
		}

		fmt.Printf("Private key written to %s\n", cfg.Signing.PrivateKeyPath)
		fmt.Print(pub)
		if out != "" {
			fmt.Printf("Trusted key written to %s; rebuild ckpt to trust it.\n", out)
		}
		return nil
	},
}

// checkpoint command
var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"cp"},
	Short:   "Manage checkpoints",
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create [DESCRIPTION]",
	Short: "Capture the project into a new checkpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auto, _ := cmd.Flags().GetBool("auto")
		kind := model.KindManual
		if auto {
			kind = model.KindAuto
		}
		description := ""
		if len(args) > 0 {
			description = args[0]
		}

		a, err := newApp(cmd, "CreateCheckpoint")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}
		sum, err := a.CreateCheckpoint(cmd.Context(), description, kind)
		if err != nil {
			return fmt.Errorf("creating checkpoint: %w", err)
		}

		fmt.Printf("Created checkpoint %s (%d file(s), %s)\n", sum.ID, sum.FileCount, formatBytes(sum.FileBytes))
		return nil
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListCheckpoints")
		if err != nil {
			return err
		}
		defer a.Close()

		summaries, err := a.ListCheckpoints(cmd.Context())
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No checkpoints.")
			return nil
		}

		for _, s := range summaries {
			fmt.Printf("%s  %s  %-13s  %4d file(s)  %9s  %s\n",
				s.ID,
				s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				s.Kind,
				s.FileCount,
				formatBytes(s.FileBytes),
				s.Description,
			)
		}
		return nil
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a checkpoint and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetCheckpoint")
		if err != nil {
			return err
		}
		defer a.Close()

		cp, err := a.GetCheckpoint(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:          %s\n", cp.ID)
		fmt.Printf("Created:     %s\n", cp.CreatedAt.Local().Format(time.RFC3339))
		fmt.Printf("Kind:        %s\n", cp.Kind)
		fmt.Printf("Description: %s\n", cp.Description)
		fmt.Printf("Snapshot:    %s\n", formatBytes(int64(len(cp.SnapshotData))))
		fmt.Printf("Files:       %d (%s)\n", len(cp.Manifest), formatBytes(cp.Manifest.TotalSize()))
		for _, e := range cp.Manifest {
			fmt.Printf("  %s  %9s  %s\n", e.Digest[:12], formatBytes(e.Size), e.Path)
		}
		return nil
	},
}

var checkpointVerifyCmd = &cobra.Command{
	Use:   "verify ID",
	Short: "Check a checkpoint's signature and payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "VerifyCheckpoint")
		if err != nil {
			return err
		}
		defer a.Close()

		tables, err := a.VerifyCheckpoint(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Checkpoint %s is authentic: %d phase(s), %d feature(s), %d message(s), %d generated file(s)\n",
			args[0], len(tables.Phases), len(tables.Features), len(tables.ChatMessages), len(tables.GeneratedFiles))
		return nil
	},
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteCheckpoint")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteCheckpoint(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted checkpoint %s (run `ckpt gc` to free file content)\n", args[0])
		return nil
	},
}

var checkpointPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		a, err := newApp(cmd, "Prune")
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.Prune(cmd.Context(), keep)
		for _, id := range deleted {
			fmt.Printf("Deleted %s\n", id)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d checkpoint(s)\n", len(deleted))
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Roll the project back to a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		id := args[0]

		a, err := newApp(cmd, "RestoreCheckpoint")
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.PlanRestore(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(plan.Conflicts) > 0 {
			fmt.Fprintf(os.Stderr, "Restoring %s is blocked by files ckpt does not track:\n", id)
			for _, c := range plan.Conflicts {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", c.Path, c.Err)
			}
			return ckpt.ErrFileConflict
		}
		if !plan.Empty() {
			fmt.Printf("Restoring %s will change these files:\n", id)
			printPlan(plan)
		}
		if len(plan.Delete) > 0 && !yes {
			if !confirm(fmt.Sprintf("%d file(s) not in the checkpoint will be deleted. Continue?", len(plan.Delete))) {
				return fmt.Errorf("restore cancelled")
			}
		}

		if err := unlock(a); err != nil {
			return err
		}

		res, err := a.RestoreCheckpoint(cmd.Context(), id, ckpt.ObserverFunc(func(e ckpt.Event) {
			if !e.State.Terminal() {
				fmt.Fprintf(os.Stderr, "  %s\n", e.State)
			}
		}))
		if err != nil {
			if backupID, ok := ckpt.SafetyBackupID(err); ok && errors.Is(err, ckpt.ErrFileReconcileFailed) {
				fmt.Fprintf(os.Stderr, "Files were only partly restored. Recover with: ckpt restore %s\n", backupID)
			}
			if ckpt.Retryable(err) {
				fmt.Fprintln(os.Stderr, "Nothing was changed; the restore can be retried.")
			}
			return err
		}

		fmt.Printf("Restored checkpoint %s from %s\n", res.CheckpointID, res.Timestamp.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("  %d row(s), %d file(s) written, %d deleted, %s in %s\n",
			res.Rows, res.Files.Written, res.Files.Deleted, formatBytes(res.Files.Bytes),
			res.Elapsed.Truncate(time.Millisecond))
		fmt.Printf("  Safety backup: %s\n", res.SafetyBackupID)
		if res.OverBudget {
			fmt.Println("  Warning: restore exceeded the configured time budget")
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how the project differs from the newest checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		if st.Checkpoint == nil {
			fmt.Println("No checkpoints.")
			return nil
		}

		fmt.Printf("Newest checkpoint: %s  %s\n", st.Checkpoint.ID, st.Checkpoint.Description)
		if st.Plan.Empty() {
			fmt.Println("Project files match the checkpoint.")
			return nil
		}
		fmt.Println("Restoring it would:")
		printPlan(st.Plan)
		return nil
	},
}

// gc command
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove file content no checkpoint references",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GC")
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.GC(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d unreferenced file body(ies)\n", removed)
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log FILENAME",
	Short: "View the captured versions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetFileHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.GetFileHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Println("No checkpoint history.")
			return nil
		}

		for _, v := range versions {
			fmt.Printf("%s  %s  %-13s  %d  %s\n",
				v.Digest[:12],
				v.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				v.Kind,
				v.Size,
				v.CheckpointID,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if !op.FinishedAt.IsZero() {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-17s  %s  %-7s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.CheckpointID,
			)
			if op.Error != "" {
				fmt.Printf("      error: %s\n", op.Error)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Print log records to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("root", ".", "Project root directory")
	configInitCmd.Flags().String("project", "", "Project ID (default: a new UUID)")

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)
	keysInitCmd.Flags().String("trusted-out", "", "Also write the public key to this trusted.pub file")

	// checkpoint subcommands
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointVerifyCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	checkpointCmd.AddCommand(checkpointPruneCmd)
	checkpointCreateCmd.Flags().Bool("auto", false, "Mark the checkpoint as automatic")
	checkpointPruneCmd.Flags().IntP("keep", "k", 10, "Number of newest checkpoints to keep")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolP("yes", "y", false, "Do not ask before deleting files")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
