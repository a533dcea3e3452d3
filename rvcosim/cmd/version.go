package cmd

import (
	"fmt"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/spf13/cobra"
)

// version is set at link time with -ldflags "-X ...cmd.version=v1.2.3".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rvcosim %s (record schema v%d)\n",
			version, arch.SchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
