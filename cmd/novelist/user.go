package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newUserCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a user; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			u, err := a.users.CreateUser(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d)\n", u.Username, u.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "passwd USERNAME",
		Short: "Reset the password of a user; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			u, err := a.users.UserByName(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := a.users.SetPassword(cmd.Context(), u.ID, pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password of %s updated\n", u.Username)
			return nil
		},
	})
	return cmd
}

// readPassword reads the first line of stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}
