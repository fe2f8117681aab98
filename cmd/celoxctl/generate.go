package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/celox-dev/celox/codegen"
)

func newGenerateCommand() *cobra.Command {
	var typeName string

	cmd := &cobra.Command{
		Use:   "generate --type TYPE path...",
		Short: "Generate serializer source for a type and path set",
		Long: `Generate prints the deterministic serializer source produced for
the given model type and attribute paths. The same type and paths
always produce identical output.

Examples:
  celoxctl generate --type BlogPost title author.name
  celoxctl generate --type Lease tenant.user.email payments.all.amount`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := codegen.Generate(typeName, args)
			if err != nil {
				return fmt.Errorf("generating serializer: %w", err)
			}

			color.New(color.FgCyan, color.Bold).Printf("// %s\n", artifact.FuncName)
			fmt.Println(artifact.Source)
			return nil
		},
	}

	cmd.Flags().StringVarP(&typeName, "type", "t", "", "Model type name (required)")
	cmd.MarkFlagRequired("type")

	return cmd
}
