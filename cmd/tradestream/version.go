package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/tradestream/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tradestream", version.String())
			fmt.Fprintln(cmd.OutOrStdout(), "user agent:", version.UserAgent())
		},
	}
}
