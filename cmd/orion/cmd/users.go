package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/orion/client"
)

var (
	listLimit    int
	listOffset   int
	outputJSON   bool
	updatePasswd string
)

var usersCmd = &cobra.Command{
	Use:               "users",
	Short:             "Manage accounts",
	PersistentPreRunE: requireLogin,
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsers(w io.Writer, users []client.User) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL")
	for _, u := range users {
		fmt.Fprintln(tw, u.Email)
	}
	return tw.Flush()
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := cli.client.ListUsers(cmd.Context(), listLimit, listOffset)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), page)
		}
		if err := printUsers(cmd.OutOrStdout(), page.Users); err != nil {
			return err
		}
		if page.HasMore {
			fmt.Fprintf(cmd.ErrOrStderr(), "showing %d of %d, use --offset %d for more\n",
				len(page.Users), page.TotalCount, page.Offset+len(page.Users))
		}
		return nil
	},
}

var usersGetCmd = &cobra.Command{
	Use:   "get EMAIL",
	Short: "Show one account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := cli.client.GetUser(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), u)
		}
		return printUsers(cmd.OutOrStdout(), []client.User{u})
	},
}

var usersUpdateCmd = &cobra.Command{
	Use:   "update EMAIL",
	Short: "Change an account's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := cli.client.UpdateUser(cmd.Context(), args[0], updatePasswd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", u.Email)
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete EMAIL",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.client.DeleteUser(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	usersCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print JSON instead of a table")
	usersListCmd.Flags().IntVar(&listLimit, "limit", 0, "Page size (server default when 0)")
	usersListCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of accounts to skip")
	usersUpdateCmd.Flags().StringVarP(&updatePasswd, "password", "p", "", "New password")
	usersUpdateCmd.MarkFlagRequired("password")

	usersCmd.AddCommand(usersListCmd, usersGetCmd, usersUpdateCmd, usersDeleteCmd)
	rootCmd.AddCommand(usersCmd)
}
