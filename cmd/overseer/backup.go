package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmarsh/overseer/internal/backup"
	"github.com/dmarsh/overseer/internal/paths"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and manage database backups",
		Long: `Creates point-in-time snapshots of the overseer database under
$OVERSEER_HOME/backups. Safe to run while the daemon is up.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a new database snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := paths.Home()
			if err != nil {
				return err
			}
			entry, err := backup.Create(paths.DBPath(home), paths.BackupsDir(home))
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(entry)
			} else if !flagQuiet {
				fmt.Printf("✓ Backup written to %s (%d bytes)\n", entry.Path, entry.Size)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List database snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := paths.Home()
			if err != nil {
				return err
			}
			entries, err := backup.List(paths.BackupsDir(home))
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(entries)
				return nil
			}
			if len(entries) == 0 {
				fmt.Println("No backups found.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %10d bytes  %s\n",
					e.CreatedAt.Format(time.RFC3339), e.Size, e.Path)
			}
			return nil
		},
	})

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old snapshots, keeping the newest N",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := paths.Home()
			if err != nil {
				return err
			}
			removed, err := backup.Prune(paths.BackupsDir(home), keep)
			if err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Printf("✓ Removed %d backup(s), kept %d newest\n", removed, keep)
			}
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", 5, "Number of newest backups to keep")
	cmd.AddCommand(pruneCmd)

	return cmd
}
