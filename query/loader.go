package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/celox-dev/celox/schema"
)

// runPrefetch loads to-many relations for materialized rows: one
// secondary query per chain, grouped onto parents in iteration order.
// Only the first hop of a chain is prefetched; deeper segments are
// resolved at serialization time against the loaded rows.
func (q *Query) runPrefetch(ctx context.Context, parents []map[string]any) error {
	for _, chain := range q.prefetchRelated {
		hop := chain
		if idx := strings.Index(chain, ChainSeparator); idx >= 0 {
			hop = chain[:idx]
		}
		if err := q.prefetchOne(ctx, parents, hop); err != nil {
			return err
		}
	}
	return nil
}

func (q *Query) prefetchOne(ctx context.Context, parents []map[string]any, relName string) error {
	rel, ok := q.schema.Relations[relName]
	if !ok {
		return fmt.Errorf("unknown relation %s on %s", relName, q.schema.Name)
	}
	target, ok := q.registry.Get(rel.Target)
	if !ok {
		return fmt.Errorf("unknown model %s", rel.Target)
	}

	ids := make([]any, 0, len(parents))
	seen := make(map[any]bool)
	for _, p := range parents {
		id := p[q.schema.PrimaryKey]
		if id == nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	var (
		children []map[string]any
		groupKey string
		err      error
	)
	if rel.Kind == schema.ManyToMany {
		children, groupKey, err = q.prefetchManyToMany(ctx, target, rel.Name, ids)
	} else {
		groupKey = q.schema.ForeignKeyColumn(rel)
		children, err = q.fetchChildren(ctx, target.Table, groupKey, ids)
	}
	if err != nil {
		return err
	}

	grouped := make(map[any][]map[string]any)
	for _, child := range children {
		key := child[groupKey]
		grouped[key] = append(grouped[key], child)
	}

	for _, p := range parents {
		rows := grouped[p[q.schema.PrimaryKey]]
		if rows == nil {
			rows = []map[string]any{}
		}
		p[relName] = rows
	}
	return nil
}

// fetchChildren selects child rows referencing the given parent ids.
func (q *Query) fetchChildren(ctx context.Context, table, fkColumn string, ids []any) ([]map[string]any, error) {
	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s) ORDER BY %s",
		table, fkColumn, strings.Join(placeholders, ", "), fkColumn)

	rows, err := q.db.QueryContext(ctx, sqlStr, ids...)
	if err != nil {
		return nil, fmt.Errorf("prefetch query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// prefetchManyToMany loads rows through the conventional join table
// <owner_table>_<relation>, tagging each child with the owning id.
func (q *Query) prefetchManyToMany(ctx context.Context, target *schema.Schema, relName string, ids []any) ([]map[string]any, string, error) {
	joinTable := q.schema.Table + "_" + relName
	ownerFK := toSnakeCase(q.schema.Name) + "_id"
	targetFK := toSnakeCase(target.Name) + "_id"

	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sqlStr := fmt.Sprintf(
		"SELECT %s.*, %s.%s AS %q FROM %s JOIN %s ON %s.%s = %s.%s WHERE %s.%s IN (%s)",
		target.Table, joinTable, ownerFK, ownerFK,
		target.Table, joinTable,
		joinTable, targetFK, target.Table, target.PrimaryKey,
		joinTable, ownerFK, strings.Join(placeholders, ", "))

	rows, err := q.db.QueryContext(ctx, sqlStr, ids...)
	if err != nil {
		return nil, "", fmt.Errorf("many-to-many prefetch failed: %w", err)
	}
	defer rows.Close()
	children, err := scanRows(rows)
	if err != nil {
		return nil, "", err
	}
	sortChildren(children, target.PrimaryKey)
	return children, ownerFK, nil
}

func sortChildren(children []map[string]any, key string) {
	sort.SliceStable(children, func(i, j int) bool {
		return fmt.Sprint(children[i][key]) < fmt.Sprint(children[j][key])
	})
}
