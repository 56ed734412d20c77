package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nwithan8/nettools"
	"github.com/nwithan8/nettools/internal/config"
)

// RootCmd constructs the root command so tests can exercise the CLI easily.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nettools",
		Short:         "Call REST APIs with validated parameters, retries and timeouts",
		Version:       nettools.Version,
		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	config.BindFlags(root)

	for _, sub := range []*cobra.Command{RequestCommand(), VersionCommand()} {
		sub.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
			return newUsageError(fmt.Sprintf("%v\n\n%s", err, c.UsageString()))
		})
		root.AddCommand(sub)
	}

	return root
}

// VersionCommand prints the version and User-Agent.
func VersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), nettools.GetVersion())
			fmt.Fprintln(cmd.OutOrStdout(), "User-Agent:", nettools.UserAgent())
			return nil
		},
	}
}
