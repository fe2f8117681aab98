package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry manages all model schemas in the application. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	byType  map[reflect.Type]*Schema
}

// NewRegistry creates a new schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		byType:  make(map[reflect.Type]*Schema),
	}
}

// Register registers a model schema. Duplicate names and structurally
// invalid schemas are rejected.
func (r *Registry) Register(s *Schema) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", s.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Name]; exists {
		return fmt.Errorf("model %s is already registered", s.Name)
	}
	r.schemas[s.Name] = s
	if s.Type != nil {
		r.byType[s.Type] = s
	}
	return nil
}

// Get retrieves a schema by model name.
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.schemas[name]
	return s, exists
}

// Lookup resolves the schema for a live model instance through its Go
// type. Pointer indirection is ignored.
func (r *Registry) Lookup(value any) (*Schema, bool) {
	if value == nil {
		return nil, false
	}
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.byType[t]
	return s, exists
}

// All returns a copy of all registered schemas.
func (r *Registry) All() map[string]*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Schema, len(r.schemas))
	for k, v := range r.schemas {
		result[k] = v
	}
	return result
}

// List returns the registered model names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}
