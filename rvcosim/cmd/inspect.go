package cmd

import (
	"fmt"
	"io"

	"github.com/sarchlab/rvcosim/bus"
	"github.com/sarchlab/rvcosim/loader"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show how an ELF program loads onto the default bus.",
	Long: "`inspect --elf prog.elf` loads the program onto the default bus " +
		"and prints its entry point, loaded segments and functions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("elf")
		if path == "" {
			return fmt.Errorf("--elf is required")
		}

		return inspect(cmd.OutOrStdout(), path)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("elf", "", "The ELF program to inspect")
}

func inspect(w io.Writer, path string) error {
	prog, err := loader.Load(path, bus.NewDefaultBus(io.Discard), nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "entry: %#x\n", prog.Entry)

	fmt.Fprintf(w, "segments: %d\n", len(prog.Segments))
	for _, s := range prog.Segments {
		fmt.Fprintf(w, "  vaddr=%#x offset=%#x filesz=%#x memsz=%#x\n",
			s.Vaddr, s.Offset, s.Filesz, s.Memsz)
	}

	fmt.Fprintf(w, "functions: %d\n", prog.Symbols.Len())
	for _, sym := range prog.Symbols.All() {
		fmt.Fprintf(w, "  %#x %#6x %s\n", sym.Addr, sym.Size, sym.Name)
	}

	return nil
}
