package main

import (
	"fmt"
	"os"

	"github.com/lumen-lang/lumen"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "lumen",
		Short: "Lumen is an embeddable Lua-flavored scripting runtime",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newEvalCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [script]",
		Short: "Compile and run a script file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			l := lumen.NewState()
			if rerr := l.DoString(string(src), args[0]); rerr != nil {
				fmt.Fprintln(os.Stderr, rerr.Error())
				os.Exit(1)
			}
			return nil
		},
	}
}

func newEvalCmd() *cobra.Command {
	var chunkName string
	cmd := &cobra.Command{
		Use:   "eval [code]",
		Short: "Compile and run a chunk of source given on the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := lumen.NewState()
			if rerr := l.DoString(args[0], chunkName); rerr != nil {
				fmt.Fprintln(os.Stderr, rerr.Error())
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chunkName, "chunk-name", "=(eval)", "Chunk name reported in error messages")
	return cmd
}

func newDumpCmd() *cobra.Command {
	var color bool
	cmd := &cobra.Command{
		Use:   "dump [script]",
		Short: "Compile a script and print its bytecode listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			l := lumen.NewState()
			disassemble := lumen.DisassembleSource
			if color {
				disassemble = lumen.DisassembleSourceColor
			}
			listing, rerr := disassemble(l, string(src), args[0])
			if rerr != nil {
				fmt.Fprintln(os.Stderr, rerr.Error())
				os.Exit(1)
			}
			fmt.Print(listing)
			return nil
		},
	}
	cmd.Flags().BoolVar(&color, "color", false, "Colorize the bytecode listing")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runtime version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(lumen.Version)
			return nil
		},
	}
}
