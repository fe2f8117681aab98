package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	celox "github.com/celox-dev/celox"
	"github.com/celox-dev/celox/cache"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the serializer cache",
	}
	cmd.AddCommand(newCacheStatsCommand())
	cmd.AddCommand(newCacheClearCommand())
	return cmd
}

// openCache builds the serializer cache from the resolved
// configuration.
func openCache() (*cache.SerializerCache, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	cfg, err := celox.LoadConfig("")
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved cache configuration",
		zap.String("backend", cfg.CacheBackend),
		zap.String("dir", cfg.CacheDir))

	c, err := cache.New(cache.Config{
		Backend:     cfg.CacheBackend,
		Dir:         cfg.CacheDir,
		RedisURL:    cfg.RedisURL,
		RedisPrefix: cfg.RedisPrefix,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return c, nil
}

func newCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show serializer cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading cache stats: %w", err)
			}

			titleColor := color.New(color.FgCyan, color.Bold)
			titleColor.Print("Backend:            ")
			fmt.Println(stats.Backend)
			titleColor.Print("Memory entries:     ")
			fmt.Println(stats.MemoryEntries)
			titleColor.Print("Persistent entries: ")
			fmt.Println(stats.PersistentEntries)
			return nil
		},
	}
}

func newCacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached serializers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			color.Green("Serializer cache cleared.")
			return nil
		},
	}
}
