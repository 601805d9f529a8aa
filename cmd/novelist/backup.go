package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newBackupCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage backups of the novels and the user database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			b, err := a.backups.Create(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", b.Name, b.Size)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			list, err := a.backups.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tCREATED")
			for _, b := range list {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Name, b.Size, b.Created.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.backups.Delete(cmd.Context(), args[0])
		},
	})

	var yes bool
	restore := &cobra.Command{
		Use:   "restore NAME",
		Short: "Replace the novels and the user database with a backup",
		Long: `Replace the novels and the user database with the content of a backup.

The current data is lost. Stop the server first: a running server keeps the
previous user database open.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("restoring %s overwrites the current data; pass --yes to confirm", args[0])
			}
			a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if err := a.backups.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Restored %s\n", args[0])
			return nil
		},
	}
	restore.Flags().BoolVar(&yes, "yes", false, "Confirm the restore")
	cmd.AddCommand(restore)
	return cmd
}
