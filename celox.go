// Package celox compiles template-driven serializers just in time.
// An Engine inspects which attribute paths a template reads from each
// context variable, optimizes the backing queries to match, and
// serializes model instances through cached compiled serializer
// programs, falling back to a generic encoder whenever the fast path
// cannot apply.
package celox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/celox-dev/celox/cache"
	"github.com/celox-dev/celox/codegen"
	"github.com/celox-dev/celox/compiler"
	"github.com/celox-dev/celox/extract"
	"github.com/celox-dev/celox/pathtree"
	"github.com/celox-dev/celox/query"
	"github.com/celox-dev/celox/schema"
	"github.com/celox-dev/celox/serializer"
)

// Engine orchestrates extraction, query optimization, serializer
// compilation, and caching for template render contexts.
type Engine struct {
	cfg       Config
	logger    *zap.Logger
	registry  *schema.Registry
	cache     *cache.SerializerCache
	encoder   *serializer.Encoder
	extractor Extractor
	native    NativeSerializer
	analyzer  *query.Analyzer

	// pathMu guards the bounded template path cache, keyed by the
	// sha256 of the template text.
	pathMu     sync.Mutex
	pathCache  map[string]map[string][]string
	ownedCache bool

	counters counters
}

// New creates an Engine. The serializer cache is built from cfg unless
// one is injected with WithSerializerCache.
func New(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		pathCache: make(map[string]map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		if e.cfg.JITDebug {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return nil, fmt.Errorf("creating logger: %w", err)
			}
			e.logger = logger
		} else {
			e.logger = zap.NewNop()
		}
	}
	if e.registry == nil {
		e.registry = schema.NewRegistry()
	}
	if e.extractor == nil {
		e.extractor = extract.New()
	}
	if e.cache == nil {
		c, err := cache.New(cache.Config{
			Backend:     e.cfg.CacheBackend,
			Dir:         e.cfg.CacheDir,
			RedisURL:    e.cfg.RedisURL,
			RedisPrefix: e.cfg.RedisPrefix,
			SQLitePath:  e.cfg.SQLitePath,
		})
		if err != nil {
			return nil, fmt.Errorf("creating serializer cache: %w", err)
		}
		e.cache = c
		e.ownedCache = true
	}
	e.analyzer = query.NewAnalyzer(e.registry, e.cfg.AnnotationPrefix)
	e.encoder = serializer.NewEncoder(e.registry,
		serializer.WithMaxDepth(e.cfg.MaxDepth),
		serializer.WithLogger(e.logger))
	return e, nil
}

// Registry exposes the engine's schema registry for model declaration.
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Close releases the serializer cache if the engine created it.
func (e *Engine) Close() error {
	if e.ownedCache {
		return e.cache.Close()
	}
	return nil
}

// RenderContext serializes every variable in vars according to the
// paths the template reads from it. Serialized collections and plain
// slices additionally contribute a <name>_count entry unless the
// context already carries one.
func (e *Engine) RenderContext(ctx context.Context, template string, vars map[string]any) (map[string]any, error) {
	e.counters.renders.Add(1)
	traceID := uuid.NewString()

	templateHash, paths := e.templatePaths(template, traceID)

	out := make(map[string]any, len(vars))
	counts := make(map[string]int)
	for name, value := range vars {
		encoded, n, err := e.serializeVariable(ctx, traceID, templateHash, name, value, paths[name])
		if err != nil {
			return nil, fmt.Errorf("serializing %q: %w", name, err)
		}
		out[name] = encoded
		if n >= 0 {
			counts[name] = n
		}
	}

	for name, n := range counts {
		countKey := name + "_count"
		if _, exists := out[countKey]; exists {
			continue
		}
		if _, exists := vars[countKey]; exists {
			continue
		}
		out[countKey] = n
	}
	return out, nil
}

// SerializeValue serializes one context variable as RenderContext
// would.
func (e *Engine) SerializeValue(ctx context.Context, template, varName string, value any) (any, error) {
	e.counters.renders.Add(1)
	traceID := uuid.NewString()
	templateHash, paths := e.templatePaths(template, traceID)
	encoded, _, err := e.serializeVariable(ctx, traceID, templateHash, varName, value, paths[varName])
	return encoded, err
}

// Serialize runs value through a compiled serializer for the given
// paths directly, bypassing template extraction. The cache key is
// derived from the value's type and the normalized path set.
func (e *Engine) Serialize(ctx context.Context, value any, paths []string) (map[string]any, error) {
	typeName := e.typeName(value)
	if typeName == "" {
		return nil, fmt.Errorf("cannot serialize %T: not a model instance", value)
	}
	normalized := pathtree.Normalize(paths)
	key := cache.Key(typeName, strings.Join(normalized, "\n"))
	prog, err := e.program(ctx, key, typeName, normalized)
	if err != nil {
		return nil, err
	}
	return prog.Run(value), nil
}

// templatePaths resolves the extraction result for a template through
// the bounded path cache.
func (e *Engine) templatePaths(template, traceID string) (string, map[string][]string) {
	sum := sha256.Sum256([]byte(template))
	templateHash := hex.EncodeToString(sum[:])

	e.pathMu.Lock()
	if cached, ok := e.pathCache[templateHash]; ok {
		e.pathMu.Unlock()
		return templateHash, cached
	}
	e.pathMu.Unlock()

	paths, err := e.extractor.Extract(template)
	if err != nil {
		e.logger.Debug("template extraction failed, falling back",
			zap.String("trace_id", traceID),
			zap.Error(err))
		return templateHash, nil
	}

	e.pathMu.Lock()
	if len(e.pathCache) >= e.cfg.MaxExtractorCache {
		// Bounded by wholesale clear, not LRU.
		e.pathCache = make(map[string]map[string][]string)
	}
	e.pathCache[templateHash] = paths
	e.pathMu.Unlock()
	return templateHash, paths
}

// serializeVariable applies the per-variable state machine: precheck,
// optimize, serialize through a cached program, or fall back to the
// generic encoder. The int result is the collection length, or -1 for
// scalar values.
func (e *Engine) serializeVariable(ctx context.Context, traceID, templateHash, varName string, value any, varPaths []string) (any, int, error) {
	if q, ok := value.(*query.Query); ok {
		if q.IsMaterialized() {
			rows := q.Rows()
			return e.fallback(rows, traceID, varName, "materialized query"), len(rows), nil
		}
		return e.serializeQuery(ctx, traceID, templateHash, varName, q, varPaths)
	}

	if objs, ok := collectionOf(value); ok {
		if len(objs) == 0 {
			return []any{}, 0, nil
		}
		elemPaths := elementPaths(varPaths)
		if s, ok := e.registry.Lookup(objs[0]); ok && len(elemPaths) > 0 {
			out, err := e.serializeObjects(ctx, traceID, templateHash, varName, s, objs, elemPaths)
			if err != nil {
				return nil, 0, err
			}
			return out, len(objs), nil
		}
		return e.fallback(value, traceID, varName, "non-model collection"), len(objs), nil
	}

	if s, ok := e.registry.Lookup(value); ok && len(varPaths) > 0 {
		prog, err := e.variableProgram(ctx, templateHash, varName, s, varPaths)
		if err != nil {
			return nil, 0, err
		}
		return prog.Run(value), -1, nil
	}

	return e.fallback(value, traceID, varName, "precheck"), -1, nil
}

func (e *Engine) serializeQuery(ctx context.Context, traceID, templateHash, varName string, q *query.Query, varPaths []string) (any, int, error) {
	s := q.Schema()
	elemPaths := elementPaths(varPaths)
	if len(elemPaths) > 0 {
		opt := e.analyzer.Analyze(s, elemPaths)
		q = query.Apply(q, opt)
	}
	rows, err := q.All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("materializing query: %w", err)
	}
	objs := make([]any, len(rows))
	for i, row := range rows {
		objs[i] = row
	}
	if len(elemPaths) == 0 {
		return e.fallback(objs, traceID, varName, "no paths for variable"), len(rows), nil
	}
	out, err := e.serializeObjects(ctx, traceID, templateHash, varName, s, objs, elemPaths)
	if err != nil {
		return nil, 0, err
	}
	return out, len(rows), nil
}

// serializeObjects serializes a homogeneous collection, preferring the
// native serializer when its output covers every requested attribute.
func (e *Engine) serializeObjects(ctx context.Context, traceID, templateHash, varName string, s *schema.Schema, objs []any, varPaths []string) ([]map[string]any, error) {
	if e.native != nil {
		rows, err := e.native.SerializeCollection(objs, varPaths)
		if err == nil && nativeComplete(rows, objs, varPaths) {
			e.counters.nativeUses.Add(1)
			return rows, nil
		}
		e.counters.nativeRejections.Add(1)
		e.logger.Debug("native serializer output rejected",
			zap.String("trace_id", traceID),
			zap.String("variable", varName),
			zap.Error(err))
	}

	prog, err := e.variableProgram(ctx, templateHash, varName, s, varPaths)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(objs))
	for i, obj := range objs {
		out[i] = prog.Run(obj)
	}
	return out, nil
}

// variableProgram resolves the compiled serializer for one template
// variable and model shape.
func (e *Engine) variableProgram(ctx context.Context, templateHash, varName string, s *schema.Schema, varPaths []string) (*compiler.Program, error) {
	e.noteUnknownSegments(s, varPaths)
	key := cache.Key(templateHash, varName, s.StructureHash())
	return e.program(ctx, key, s.Name, varPaths)
}

// program looks up a compiled serializer, generating, compiling, and
// caching it on a miss.
func (e *Engine) program(ctx context.Context, key, typeName string, paths []string) (*compiler.Program, error) {
	entry, err := e.cache.Get(ctx, key)
	if err == nil {
		e.counters.cacheHits.Add(1)
		return entry.Program, nil
	}
	if !cache.IsCacheMiss(err) {
		return nil, err
	}
	e.counters.cacheMisses.Add(1)

	artifact, err := codegen.Generate(typeName, paths)
	if err != nil {
		return nil, fmt.Errorf("generating serializer: %w", err)
	}
	prog, err := compiler.Compile(artifact.Source, artifact.FuncName)
	if err != nil {
		return nil, fmt.Errorf("compiling serializer: %w", err)
	}

	entry = &cache.Entry{
		TypeName:  typeName,
		FuncName:  artifact.FuncName,
		Paths:     artifact.Paths,
		Source:    artifact.Source,
		CreatedAt: time.Now().UTC(),
		Program:   prog,
	}
	if err := e.cache.Set(ctx, key, entry); err != nil {
		// A failed cache write only costs a recompile next time.
		e.logger.Debug("caching serializer failed",
			zap.String("key", key),
			zap.Error(err))
	}
	return prog, nil
}

// fallback routes a value through the generic encoder, recording the
// decision.
func (e *Engine) fallback(value any, traceID, varName, reason string) any {
	e.counters.fallbacks.Add(1)
	e.logger.Debug("generic encoder fallback",
		zap.String("trace_id", traceID),
		zap.String("variable", varName),
		zap.String("reason", reason))
	return e.encoder.Encode(value)
}

// noteUnknownSegments counts requested path roots the schema does not
// declare; serialization still proceeds, the counter surfaces template
// and model drift.
func (e *Engine) noteUnknownSegments(s *schema.Schema, paths []string) {
	for _, path := range paths {
		root, _, _ := strings.Cut(path, pathtree.Separator)
		if root == s.PrimaryKey || root == "id" || root == "pk" {
			continue
		}
		if _, ok := s.Fields[root]; ok {
			continue
		}
		if _, ok := s.Relations[root]; ok {
			continue
		}
		if _, ok := s.Aggregates[root]; ok {
			continue
		}
		if _, ok := s.Computed[root]; ok {
			continue
		}
		e.counters.unknownPathSegments.Add(1)
		e.logger.Debug("path segment not declared on model",
			zap.String("model", s.Name),
			zap.String("segment", root))
	}
}

// typeName resolves the cache-keying name for a value: the registered
// schema name, or the Go type name for unregistered structs.
func (e *Engine) typeName(value any) string {
	if s, ok := e.registry.Lookup(value); ok {
		return s.Name
	}
	t := reflect.TypeOf(value)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return ""
	}
	return t.Name()
}

// elementPaths rewrites collection-variable paths to per-element form
// by dropping the iteration hop: "all.email" becomes "email", a bare
// "all" disappears.
func elementPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "all" {
			continue
		}
		if rest, ok := strings.CutPrefix(path, "all"+pathtree.Separator); ok {
			path = rest
		}
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// collectionOf reports value as a slice of elements when it is a plain
// slice or array.
func collectionOf(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if objs, ok := value.([]any); ok {
		return objs, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// nativeComplete checks that native output covers every requested
// top-level attribute before it is trusted over the compiled program.
func nativeComplete(rows []map[string]any, objs []any, paths []string) bool {
	if len(rows) != len(objs) {
		return false
	}
	if len(rows) == 0 {
		return true
	}
	first := rows[0]
	for _, path := range paths {
		root, _, _ := strings.Cut(path, pathtree.Separator)
		if _, ok := first[root]; !ok {
			return false
		}
	}
	return true
}
