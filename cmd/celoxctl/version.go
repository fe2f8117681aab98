package main

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/celox-dev/celox/pkg/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)

			titleColor.Print("Celox version: ")
			valueColor.Println(version.Version)

			titleColor.Print("Git commit:    ")
			valueColor.Println(version.GitCommit)

			titleColor.Print("Build date:    ")
			valueColor.Println(version.BuildDate)

			titleColor.Print("Go version:    ")
			valueColor.Println(runtime.Version())
		},
	}
}
