package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/kartta/internal/account"
)

var (
	accountsOutput string
	accountInput   account.Input
)

// accountsCmd groups account management commands
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage registered AWS accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an AWS account",
	Long: `Register an AWS account. The credentials are verified with one live
call before anything is stored, and are encrypted at rest.

The access key and secret default to AWS_ACCESS_KEY_ID and
AWS_SECRET_ACCESS_KEY so they stay out of shell history.`,
	Example: `  kartta accounts add --name prod --default-region us-east-1 --regions us-east-1,eu-west-1 --default
  kartta accounts add --name staging --account-id 123456789012 --default-region us-west-2 --regions us-west-2`,
	RunE: runAccountsAdd,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <account-config-id>",
	Short: "Deactivate a registered account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRemove,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsRemoveCmd)

	accountsListCmd.Flags().StringVarP(&accountsOutput, "output", "o", "table", "Output format: table, json")

	f := accountsAddCmd.Flags()
	f.StringVar(&accountInput.Name, "name", "", "Account display name")
	f.StringVar(&accountInput.AccountID, "account-id", "", "12-digit AWS account id (looked up when empty)")
	f.StringVar(&accountInput.AccessKeyID, "access-key-id", "", "Access key id (default $AWS_ACCESS_KEY_ID)")
	f.StringVar(&accountInput.SecretAccessKey, "secret-access-key", "", "Secret access key (default $AWS_SECRET_ACCESS_KEY)")
	f.StringVar(&accountInput.DefaultRegion, "default-region", "", "Region used for credential verification (required)")
	f.StringSliceVar(&accountInput.Regions, "regions", nil, "Regions to discover")
	f.BoolVar(&accountInput.IsDefault, "default", false, "Mark as the default account")
	f.StringVar(&accountInput.Description, "description", "", "Free-form description")
	f.StringVar(&accountInput.OrganizationRole, "organization-role", "", "Organization role name")
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()
	return fn(ctx, a)
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		accounts, err := a.registry.List(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if accountsOutput == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(accounts)
		}

		if len(accounts) == 0 {
			_, _ = fmt.Fprintln(out, "No accounts registered.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tNAME\tACCOUNT\tREGIONS\tACTIVE\tDEFAULT\tLAST USED")
		for _, s := range accounts {
			lastUsed := "-"
			if s.LastUsedAt != nil {
				lastUsed = s.LastUsedAt.Format("2006-01-02 15:04")
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
				s.ID, s.Name, s.AccountID, strings.Join(s.Regions, ","), s.IsActive, s.IsDefault, lastUsed)
		}
		return tw.Flush()
	})
}

func runAccountsAdd(cmd *cobra.Command, _ []string) error {
	in := accountInput
	if in.AccessKeyID == "" {
		in.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if in.SecretAccessKey == "" {
		in.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		id, err := a.registry.Add(ctx, in)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %q registered: %s\n", in.Name, id)
		return nil
	})
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.registry.Remove(ctx, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s deactivated\n", args[0])
		return nil
	})
}
