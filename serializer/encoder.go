// Package serializer provides the generic model fallback encoder used
// when no compiled serializer exists for a type/path combination, plus
// a general value normalizer for context passthrough. Computed
// attribute values are memoized per instance in an identity-keyed side
// table; a recursion depth guard bounds nested model traversal.
package serializer

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/celox-dev/celox/access"
	"github.com/celox-dev/celox/schema"
)

// DefaultMaxDepth bounds nested model recursion.
const DefaultMaxDepth = 3

// Encoder serializes model instances and arbitrary context values into
// JSON-ready forms.
type Encoder struct {
	registry *schema.Registry
	maxDepth int
	logger   *zap.Logger

	// propCache memoizes computed-attribute values per instance. Keys
	// are the instances themselves (pointer identity); values are
	// map[string]any. A benign race recomputes a pure value.
	propCache sync.Map
}

// NewEncoder creates an encoder over the given registry.
func NewEncoder(registry *schema.Registry, opts ...Option) *Encoder {
	e := &Encoder{
		registry: registry,
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithMaxDepth overrides the nested model recursion bound.
func WithMaxDepth(depth int) Option {
	return func(e *Encoder) { e.maxDepth = depth }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Encoder) { e.logger = logger }
}

// EncodeModel serializes one model instance through its schema.
func (e *Encoder) EncodeModel(obj any) map[string]any {
	return e.encodeModel(obj, 0)
}

func (e *Encoder) encodeModel(obj any, depth int) map[string]any {
	s, _ := e.registry.Lookup(obj)
	pk := primaryKey(obj, s)

	result := map[string]any{
		"id": pkString(pk),
		"pk": e.Encode(pk),
	}
	result["__str__"] = stringForm(obj, pk)
	if s == nil {
		return result
	}
	result["__model__"] = s.Name

	if depth >= e.maxDepth {
		// At the bound nested models degrade to the minimal form.
		return result
	}

	for name := range s.Fields {
		if v, ok := access.TryGet(obj, name); ok {
			result[name] = e.Encode(v)
		}
	}

	for name, rel := range s.Relations {
		if rel.Kind.ToMany() {
			continue
		}
		related, ok := access.TryGet(obj, name)
		if ok && related != nil {
			result[name] = e.encodeModel(related, depth+1)
			continue
		}
		// Unloaded relation: expose the FK value without a fetch.
		if fk, ok := access.TryGet(obj, name+"_id"); ok && fk != nil {
			result[name+"_id"] = e.Encode(fk)
		}
	}

	for name, value := range e.computedValues(obj, s) {
		if _, taken := result[name]; !taken {
			result[name] = value
		}
	}

	return result
}

// computedValues evaluates the schema's computed attributes, keeping
// only scalar results, and memoizes them on the instance.
func (e *Encoder) computedValues(obj any, s *schema.Schema) map[string]any {
	if len(s.Computed) == 0 {
		return nil
	}
	if !isIdentity(obj) {
		// Non-pointer instances have no stable identity to cache on.
		return e.evaluateComputed(obj, s)
	}
	if cached, ok := e.propCache.Load(obj); ok {
		return cached.(map[string]any)
	}
	values := e.evaluateComputed(obj, s)
	e.propCache.Store(obj, values)
	return values
}

func (e *Encoder) evaluateComputed(obj any, s *schema.Schema) map[string]any {
	values := make(map[string]any, len(s.Computed))
	for name, fn := range s.Computed {
		v, err := safeComputed(fn, obj)
		if err != nil {
			// A failing computed attribute is skipped, never raised.
			e.logger.Debug("computed attribute failed",
				zap.String("model", s.Name),
				zap.String("attribute", name),
				zap.Error(err))
			continue
		}
		if isScalar(v) {
			values[name] = v
		}
	}
	return values
}

func safeComputed(fn schema.ComputedFunc, obj any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(obj)
}

// Encode normalizes an arbitrary value into JSON-ready form: scalars
// pass through, times and UUIDs become strings, containers recurse,
// and model instances route through EncodeModel before any duck-typed
// heuristic can misclassify them.
func (e *Encoder) Encode(v any) any {
	return e.encode(v, 0)
}

func (e *Encoder) encode(v any, depth int) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.Format(time.RFC3339)
	case time.Duration:
		return val.String()
	case uuid.UUID:
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = e.encode(item, depth+1)
		}
		return out
	}

	// Model instances come before the file-like duck-typing heuristic:
	// a model with url and name fields is still a model.
	if _, ok := e.registry.Lookup(v); ok {
		return e.encodeModel(v, depth)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = e.encode(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprint(key.Interface())] = e.encode(rv.MapIndex(key).Interface(), depth+1)
		}
		return out
	}

	// File-like duck typing: url plus name means "serialize as URL".
	if url, ok := fileURL(v); ok {
		return url
	}

	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

// fileURL recognizes file-field-shaped values carrying url and name.
func fileURL(v any) (string, bool) {
	urlVal, hasURL := access.TryGet(v, "url")
	_, hasName := access.TryGet(v, "name")
	if !hasURL || !hasName {
		return "", false
	}
	if s, ok := urlVal.(string); ok {
		return s, true
	}
	return "", false
}

// primaryKey reads the instance's primary key, preferring the Model
// interface over schema-driven reflection.
func primaryKey(obj any, s *schema.Schema) any {
	if m, ok := obj.(schema.Model); ok {
		return m.PrimaryKey()
	}
	column := "id"
	if s != nil {
		column = s.PrimaryKey
	}
	if v, ok := access.TryGet(obj, column); ok {
		return v
	}
	return nil
}

func pkString(pk any) any {
	if pk == nil {
		return nil
	}
	return fmt.Sprint(pk)
}

func stringForm(obj any, pk any) string {
	if s, ok := obj.(fmt.Stringer); ok {
		return s.String()
	}
	t := reflect.TypeOf(obj)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := "object"
	if t != nil {
		name = t.Name()
	}
	return fmt.Sprintf("%s(%v)", name, pk)
}

func isIdentity(obj any) bool {
	return reflect.ValueOf(obj).Kind() == reflect.Pointer
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
