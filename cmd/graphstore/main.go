// Command graphstore administers a graph database's manifest chain: it lists,
// tags, diffs and prunes snapshots, runs garbage collection and moves
// snapshots to and from backup storage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/graphstore"
	"github.com/hupe1980/graphstore/manifest"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the resolved configuration into the commands.
type app struct {
	cfg Config
	log *graphstore.Logger
}

func (a *app) open() (*manifest.Store, error) {
	return manifest.OpenWithConfig(a.cfg.DB, a.cfg.Durability, manifest.WithLogger(a.log))
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "graphstore",
		Short: "Manage the manifest chain of a graph database",
		Long: `graphstore inspects and maintains the versioned snapshot chain of a
graph database directory.

Every commit of the storage engine produces an immutable manifest naming the
active node and edge segments. This tool lists and tags those snapshots,
diffs them, prunes old ones, collects unreferenced segments and exports
snapshots to local, S3 or MinIO backup storage.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			path, _ := flags.GetString("config")
			cfg, err := loadConfig(path, flags.Changed("config"))
			if err != nil {
				return err
			}
			if flags.Changed("db") {
				cfg.DB, _ = flags.GetString("db")
			}
			if flags.Changed("durability") {
				s, _ := flags.GetString("durability")
				if cfg.Durability, err = manifest.ParseDurability(s); err != nil {
					return err
				}
			}
			if flags.Changed("log-level") {
				cfg.LogLevel, _ = flags.GetString("log-level")
			}
			if flags.Changed("log-format") {
				cfg.LogFormat, _ = flags.GetString("log-format")
			}
			log, err := cfg.logger()
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "graphstore.yaml", "Path to the YAML config file")
	pf.String("db", "./graph.db", "Database directory")
	pf.String("durability", "strict", "Durability mode (strict|relaxed)")
	pf.String("log-level", "warn", "Log level (debug|info|warn|error)")
	pf.String("log-format", "text", "Log format (text|json)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graphstore v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create a new manifest chain",
		Args:  cobra.NoArgs,
		RunE:  a.runInit,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the current snapshot",
		Args:  cobra.NoArgs,
		RunE:  a.runInfo,
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE:  a.runList,
	}
	listCmd.Flags().String("tag", "", "Only list snapshots carrying this tag key")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "show <version>",
		Short: "Print a snapshot's manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runShow,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "find <key> <value>",
		Short: "Find the snapshot tagged key=value",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runFind,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tag <version> <key=value>...",
		Short: "Add tags to a snapshot",
		Args:  cobra.MinimumNArgs(2),
		RunE:  a.runTag,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Show which segments changed between two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runDiff,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete <version>",
		Short: "Delete a non-current snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runDelete,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the manifest index from the manifests directory",
		Args:  cobra.NoArgs,
		RunE:  a.runRebuildIndex,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check that every segment of the current snapshot exists",
		Args:  cobra.NoArgs,
		RunE:  a.runVerify,
	})

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Two-phase garbage collection of unreferenced segments",
		Long: `gc collect moves segment files no snapshot references into gc/.
gc purge deletes everything in gc/. gc restore moves files that are
referenced again back into segments/.

Do not run gc while a writer holds segments it has not committed yet.`,
	}
	gcCmd.AddCommand(&cobra.Command{
		Use:   "collect",
		Short: "Move unreferenced segments into gc/",
		Args:  cobra.NoArgs,
		RunE:  a.runGCCollect,
	})
	gcCmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete quarantined segments",
		Args:  cobra.NoArgs,
		RunE:  a.runGCPurge,
	})
	gcCmd.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Move quarantined segments that are referenced again back",
		Args:  cobra.NoArgs,
		RunE:  a.runGCRestore,
	})
	rootCmd.AddCommand(gcCmd)

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Export a snapshot to the configured backup store",
		Args:  cobra.NoArgs,
		RunE:  a.runBackup,
	}
	backupCmd.Flags().Uint64("version", 0, "Snapshot to export (default: current)")
	backupCmd.Flags().String("codec", "", "Segment codec (zstd|lz4|none)")
	rootCmd.AddCommand(backupCmd)

	restoreCmd := &cobra.Command{
		Use:   "restore <dir>",
		Short: "Restore a snapshot from the configured backup store into dir",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runRestore,
	}
	restoreCmd.Flags().Uint64("version", 0, "Snapshot to restore (default: latest backup)")
	rootCmd.AddCommand(restoreCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "backups",
		Short: "List snapshot versions present in the backup store",
		Args:  cobra.NoArgs,
		RunE:  a.runBackups,
	})

	return rootCmd
}
