// Package cli implements the lostfound command tree.
// This file contains the account commands: login, register, logout, whoami.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

func newLoginCmd(st *state) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.open(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = readSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Password"); err != nil {
					return err
				}
			}
			id, err := app.Auth.Login(cmd.Context(), args[0], password)
			if errors.Is(err, domain.ErrAuthRejected) {
				return errors.New("wrong email or password")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (#%d)\n", id.DisplayName(), id.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func newRegisterCmd(st *state) *cobra.Command {
	var reg domain.Registration
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.open(cmd)
			if err != nil {
				return err
			}
			reg.Email = args[0]
			if reg.Password == "" {
				if reg.Password, err = readSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Password"); err != nil {
					return err
				}
			}
			id, err := app.Auth.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s (#%d)\n", id.DisplayName(), id.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&reg.Name, "name", "", "first name")
	f.StringVar(&reg.Surname, "surname", "", "last name")
	f.StringVarP(&reg.Password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget local credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := st.open(cmd)
			if err != nil {
				return err
			}
			if err := app.Auth.Logout(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Signed out locally (server: %v)\n", err)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := st.session(cmd)
			if err != nil {
				return err
			}
			id, err := app.Auth.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d %s <%s>\n", id.ID, id.DisplayName(), id.Email)
			return nil
		},
	}
}
