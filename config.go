package celox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the engine's runtime settings.
type Config struct {
	CacheBackend string `mapstructure:"cache_backend"`
	CacheDir     string `mapstructure:"cache_dir"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisPrefix  string `mapstructure:"redis_prefix"`
	SQLitePath   string `mapstructure:"sqlite_path"`

	// MaxExtractorCache bounds the template path cache; when an insert
	// would exceed it the cache is cleared wholesale.
	MaxExtractorCache int `mapstructure:"max_extractor_cache"`

	// MaxDepth bounds nested model recursion in the fallback encoder.
	MaxDepth int `mapstructure:"max_depth"`

	// JITDebug enables a development logger when none is injected.
	JITDebug bool `mapstructure:"jit_debug"`

	// AnnotationPrefix namespaces aggregate annotation columns.
	AnnotationPrefix string `mapstructure:"annotation_prefix"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		CacheBackend:      "filesystem",
		CacheDir:          ".celox/cache",
		MaxExtractorCache: 128,
		MaxDepth:          3,
		AnnotationPrefix:  "jit_",
	}
}

// LoadConfig reads configuration from celox.yaml in path (or the
// working directory when path is empty) and CELOX_* environment
// variables. A missing config file is fine; a malformed one is an
// error. Environment overrides win over file values.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("cache_backend", "filesystem")
	v.SetDefault("cache_dir", ".celox/cache")
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_prefix", "")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("max_extractor_cache", 128)
	v.SetDefault("max_depth", 3)
	v.SetDefault("jit_debug", false)
	v.SetDefault("annotation_prefix", "jit_")

	v.SetConfigName("celox")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CELOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// withDefaults fills zero values so a hand-built Config behaves like a
// loaded one.
func (c Config) withDefaults() Config {
	if c.CacheBackend == "" {
		c.CacheBackend = "filesystem"
	}
	if c.CacheDir == "" {
		c.CacheDir = ".celox/cache"
	}
	if c.MaxExtractorCache <= 0 {
		c.MaxExtractorCache = 128
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.AnnotationPrefix == "" {
		c.AnnotationPrefix = "jit_"
	}
	return c
}
