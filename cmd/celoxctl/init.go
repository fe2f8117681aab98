package main

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a celox.yaml configuration interactively",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat("celox.yaml"); err == nil {
		overwrite := false
		prompt := &survey.Confirm{
			Message: "celox.yaml already exists. Overwrite?",
		}
		if err := survey.AskOne(prompt, &overwrite); err != nil {
			return err
		}
		if !overwrite {
			color.Yellow("Aborted.")
			return nil
		}
	}

	var backend string
	backendPrompt := &survey.Select{
		Message: "Cache backend:",
		Options: []string{"filesystem", "redis", "sqlite"},
		Default: "filesystem",
	}
	if err := survey.AskOne(backendPrompt, &backend); err != nil {
		return err
	}

	v := viper.New()
	v.Set("cache_backend", backend)

	switch backend {
	case "filesystem":
		var dir string
		prompt := &survey.Input{
			Message: "Cache directory:",
			Default: ".celox/cache",
		}
		if err := survey.AskOne(prompt, &dir, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
		v.Set("cache_dir", dir)
	case "redis":
		var url string
		prompt := &survey.Input{
			Message: "Redis URL:",
			Default: "redis://localhost:6379/0",
		}
		if err := survey.AskOne(prompt, &url, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
		v.Set("redis_url", url)
	case "sqlite":
		var path string
		prompt := &survey.Input{
			Message: "SQLite database path:",
			Default: ".celox/serializers.db",
		}
		if err := survey.AskOne(prompt, &path, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
		v.Set("sqlite_path", path)
	}

	jitDebug := false
	debugPrompt := &survey.Confirm{
		Message: "Enable JIT debug logging?",
	}
	if err := survey.AskOne(debugPrompt, &jitDebug); err != nil {
		return err
	}
	v.Set("jit_debug", jitDebug)

	if err := v.WriteConfigAs("celox.yaml"); err != nil {
		return fmt.Errorf("writing celox.yaml: %w", err)
	}

	color.New(color.FgGreen, color.Bold).Println("Wrote celox.yaml")
	return nil
}
