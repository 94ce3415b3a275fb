package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basecamp/authgate/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			if version.Date != "unknown" {
				fmt.Fprintln(cmd.OutOrStdout(), "built", version.Date)
			}
		},
	}
}
