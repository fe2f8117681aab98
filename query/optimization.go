package query

import (
	"sort"
	"strings"

	"github.com/celox-dev/celox/schema"
)

// AnnotationPrefix namespaces synthesized annotation columns so they
// never collide with real fields.
const AnnotationPrefix = "jit_"

// Optimization is the result of analyzing a path set against a model:
// to-one chains for same-query eager loading, to-many chains for a
// secondary prefetch, and requested aggregate annotations.
type Optimization struct {
	SelectRelated   []string
	PrefetchRelated []string
	Annotations     map[string]*schema.Aggregate
}

// Empty reports whether the analysis found nothing to optimize.
func (o *Optimization) Empty() bool {
	return len(o.SelectRelated) == 0 && len(o.PrefetchRelated) == 0 && len(o.Annotations) == 0
}

// Analyzer resolves path sets against model metadata. The annotation
// prefix is configurable so deployments can namespace synthesized
// columns their own way.
type Analyzer struct {
	registry *schema.Registry
	prefix   string
}

// NewAnalyzer creates an Analyzer; an empty prefix falls back to the
// package default.
func NewAnalyzer(registry *schema.Registry, prefix string) *Analyzer {
	if prefix == "" {
		prefix = AnnotationPrefix
	}
	return &Analyzer{registry: registry, prefix: prefix}
}

// Analyze resolves each path's segments against the model's declared
// relationships and aggregates. Plain fields, computed attributes,
// method accesses, and unknown segments contribute nothing; the
// serializer handles them at runtime, so they are skipped silently.
func (a *Analyzer) Analyze(s *schema.Schema, paths []string) *Optimization {
	opt := &Optimization{Annotations: make(map[string]*schema.Aggregate)}
	selectSet := make(map[string]bool)
	prefetchSet := make(map[string]bool)

	for _, path := range paths {
		a.analyzePath(s, path, "", opt, selectSet, prefetchSet)
	}

	opt.SelectRelated = sortedKeys(selectSet)
	opt.PrefetchRelated = sortedKeys(prefetchSet)
	return opt
}

// Analyze is the package-level form using the default annotation
// prefix.
func Analyze(registry *schema.Registry, s *schema.Schema, paths []string) *Optimization {
	return NewAnalyzer(registry, AnnotationPrefix).Analyze(s, paths)
}

func (a *Analyzer) analyzePath(s *schema.Schema, path, prefix string,
	opt *Optimization, selectSet, prefetchSet map[string]bool) {
	if path == "" || s == nil {
		return
	}

	segment, remaining, _ := strings.Cut(path, ".")

	// A requested path naming a declared aggregate becomes an
	// annotation on the root query.
	if prefix == "" {
		if agg, ok := s.Aggregates[segment]; ok {
			opt.Annotations[a.prefix+segment] = agg
			return
		}
	}

	rel, ok := s.Relations[segment]
	if !ok {
		// Plain field, computed attribute, method, or typo: nothing to
		// optimize here.
		return
	}

	chain := segment
	if prefix != "" {
		chain = prefix + ChainSeparator + segment
	}

	if rel.Kind.ToMany() {
		// Prefetch loads the whole related set; deeper segments are
		// resolved at serialization time, so analysis stops here.
		prefetchSet[chain] = true
		return
	}

	selectSet[chain] = true
	if remaining != "" {
		target, ok := a.registry.Get(rel.Target)
		if !ok {
			return
		}
		a.analyzePath(target, remaining, chain, opt, selectSet, prefetchSet)
	}
}

// Apply merges optimization hints onto a clone of the query, leaving
// existing conditions, ordering, and limits untouched. An empty
// optimization returns an equivalent clone.
func Apply(q *Query, opt *Optimization) *Query {
	clone := q.Clone()
	if opt == nil || opt.Empty() {
		return clone
	}
	clone.SelectRelated(opt.SelectRelated...)
	clone.PrefetchRelated(opt.PrefetchRelated...)
	for name, agg := range opt.Annotations {
		clone.Annotate(name, agg)
	}
	return clone
}

// AutoOptimize analyzes the given field accesses and applies the
// resulting hints in one step.
func AutoOptimize(q *Query, fields ...string) *Query {
	opt := Analyze(q.registry, q.schema, fields)
	return Apply(q, opt)
}

// AnnotateCounts declares and applies a <relation>_count aggregate for
// each named to-many relation.
func AnnotateCounts(q *Query, relations ...string) *Query {
	clone := q.Clone()
	for _, rel := range relations {
		clone.Annotate(rel+"_count", &schema.Aggregate{Name: rel + "_count", Relation: rel})
	}
	return clone
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
