package celox

import (
	"go.uber.org/zap"

	"github.com/celox-dev/celox/cache"
	"github.com/celox-dev/celox/schema"
)

// Extractor resolves a template into the dotted attribute paths each
// context variable is accessed through. The extract package ships the
// reference implementation.
type Extractor interface {
	Extract(template string) (map[string][]string, error)
}

// NativeSerializer is an optional fast path tried before the compiled
// serializer. Its output is validated for key completeness and
// discarded when any requested top-level attribute is missing.
type NativeSerializer interface {
	SerializeCollection(objs []any, paths []string) ([]map[string]any, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithExtractor replaces the built-in template path extractor.
func WithExtractor(extractor Extractor) Option {
	return func(e *Engine) { e.extractor = extractor }
}

// WithNativeSerializer installs an optional fast serializer.
func WithNativeSerializer(native NativeSerializer) Option {
	return func(e *Engine) { e.native = native }
}

// WithRegistry sets the model schema registry.
func WithRegistry(registry *schema.Registry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithSerializerCache replaces the cache built from the configuration.
func WithSerializerCache(c *cache.SerializerCache) Option {
	return func(e *Engine) { e.cache = c }
}
