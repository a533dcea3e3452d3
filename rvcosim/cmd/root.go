// Package cmd provides the command-line interface for rvcosim.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rvcosim",
	Short: "rvcosim works with the programs and recordings of co-simulation runs.",
	Long: `rvcosim works with the programs and recordings of RISC-V ` +
		`co-simulation runs. It can inspect ELF programs, list the events of ` +
		`a recorded run, and replay a recorded run against a golden trace ` +
		`without the hardware simulator.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
