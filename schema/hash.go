package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// StructureHash fingerprints a schema's shape: field names and types,
// relation targets and cardinality, aggregates, and computed attribute
// names. Serializer cache keys include it so a model change invalidates
// entries compiled against the old shape.
func (s *Schema) StructureHash() string {
	parts := make([]string, 0, len(s.Fields)+len(s.Relations)+len(s.Aggregates)+len(s.Computed))
	for name, f := range s.Fields {
		parts = append(parts, "field:"+name+":"+f.Type)
	}
	for name, rel := range s.Relations {
		parts = append(parts, "relation:"+name+":"+rel.Kind.String()+":"+rel.Target)
	}
	for name, agg := range s.Aggregates {
		parts = append(parts, "aggregate:"+name+":"+agg.Relation)
	}
	for name := range s.Computed {
		parts = append(parts, "computed:"+name)
	}
	sort.Strings(parts)

	structure := s.Name + "|" + strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(structure))
	return hex.EncodeToString(sum[:])
}
