package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/celox-dev/celox/extract"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <template-file>",
		Short: "Show the attribute paths a template reads per variable",
		Long: `Inspect parses a template file and prints each context variable
with the dotted attribute paths the template accesses through it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading template: %w", err)
			}

			paths, err := extract.Extract(string(data))
			if err != nil {
				return fmt.Errorf("extracting paths: %w", err)
			}
			if len(paths) == 0 {
				color.Yellow("No variables found.")
				return nil
			}

			names := make([]string, 0, len(paths))
			for name := range paths {
				names = append(names, name)
			}
			sort.Strings(names)

			varColor := color.New(color.FgCyan, color.Bold)
			for _, name := range names {
				varColor.Print(name)
				if len(paths[name]) == 0 {
					fmt.Println("  (whole value)")
					continue
				}
				fmt.Printf("  %s\n", strings.Join(paths[name], ", "))
			}
			return nil
		},
	}
}
