// Package schema provides model metadata for the query optimizer and
// the serializer runtime: declared fields, relationships with
// cardinality, aggregate annotation declarations, and computed
// attributes, plus a concurrency-safe registry keyed by model name and
// Go type.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// RelationKind classifies a declared relationship.
type RelationKind int

const (
	BelongsTo RelationKind = iota
	HasOne
	HasMany
	ManyToMany
)

// String returns the string representation of the relation kind
func (k RelationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// ToMany reports whether the relation loads multiple rows: those are
// prefetched in a secondary query instead of joined.
func (k RelationKind) ToMany() bool {
	return k == HasMany || k == ManyToMany
}

// Field describes a plain column on a model.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// Relation describes a declared relationship to another model.
type Relation struct {
	Name   string
	Target string
	Kind   RelationKind

	// ForeignKey is the column carrying the reference: on this model's
	// table for to-one relations, on the target's table for to-many.
	// Empty means the conventional <name>_id / <owner>_id.
	ForeignKey string
}

// Aggregate declares a named aggregate expression a template path may
// request, e.g. posts_count counting the posts relation.
type Aggregate struct {
	Name     string
	Relation string
	// Filter is an optional SQL predicate applied inside the aggregate.
	Filter string
}

// ComputedFunc evaluates a computed (property-like) attribute on a
// model instance. An error skips the attribute, it never propagates.
type ComputedFunc func(obj any) (any, error)

// Schema describes one model.
type Schema struct {
	Name       string
	Table      string
	PrimaryKey string

	Fields     map[string]*Field
	Relations  map[string]*Relation
	Aggregates map[string]*Aggregate
	Computed   map[string]ComputedFunc

	// Type is the Go type instances of this model carry; it links live
	// values back to their schema in the registry.
	Type reflect.Type
}

// NewSchema creates a schema with the conventional defaults: table name
// derived from the model name, id as the primary key.
func NewSchema(name string) *Schema {
	return &Schema{
		Name:       name,
		Table:      ToTableName(name),
		PrimaryKey: "id",
		Fields:     make(map[string]*Field),
		Relations:  make(map[string]*Relation),
		Aggregates: make(map[string]*Aggregate),
		Computed:   make(map[string]ComputedFunc),
	}
}

// AddField declares a plain column.
func (s *Schema) AddField(name, typ string) *Schema {
	s.Fields[name] = &Field{Name: name, Type: typ}
	return s
}

// AddRelation declares a relationship.
func (s *Schema) AddRelation(name, target string, kind RelationKind) *Schema {
	s.Relations[name] = &Relation{Name: name, Target: target, Kind: kind}
	return s
}

// AddAggregate declares an aggregate annotation over a relation.
func (s *Schema) AddAggregate(name, relation string) *Schema {
	s.Aggregates[name] = &Aggregate{Name: name, Relation: relation}
	return s
}

// AddComputed declares a computed attribute.
func (s *Schema) AddComputed(name string, fn ComputedFunc) *Schema {
	s.Computed[name] = fn
	return s
}

// WithType binds the schema to a Go type for instance lookup.
func (s *Schema) WithType(example any) *Schema {
	t := reflect.TypeOf(example)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s.Type = t
	return s
}

// ForeignKeyColumn resolves the reference column for a relation,
// falling back to the naming convention when none was declared.
func (s *Schema) ForeignKeyColumn(rel *Relation) string {
	if rel.ForeignKey != "" {
		return rel.ForeignKey
	}
	if rel.Kind.ToMany() {
		return toSnakeCase(s.Name) + "_id"
	}
	return rel.Name + "_id"
}

// Model is optionally implemented by instances to expose their primary
// key without reflection.
type Model interface {
	PrimaryKey() any
}

// ToTableName converts a model name to its conventional table name:
// BlogPost -> blog_posts.
func ToTableName(name string) string {
	snake := toSnakeCase(name)
	if strings.HasSuffix(snake, "s") {
		return snake + "es"
	}
	if strings.HasSuffix(snake, "y") {
		return snake[:len(snake)-1] + "ies"
	}
	return snake + "s"
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate checks structural consistency: non-empty name, aggregate
// relations that exist, relation targets named.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	for _, rel := range s.Relations {
		if rel.Target == "" {
			return fmt.Errorf("relation %s on %s has no target", rel.Name, s.Name)
		}
	}
	for _, agg := range s.Aggregates {
		if _, ok := s.Relations[agg.Relation]; !ok {
			return fmt.Errorf("aggregate %s on %s references unknown relation %s",
				agg.Name, s.Name, agg.Relation)
		}
	}
	return nil
}
