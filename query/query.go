package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/celox-dev/celox/schema"
)

// ChainSeparator joins relationship hops in eager-load and prefetch
// chains: "tenant__user".
const ChainSeparator = "__"

// Query provides a fluent API for building and executing SQL over one
// model. A Query is lazy until All, First, or Count runs; applying
// optimization hints before materialization never disturbs filters or
// ordering already present.
type Query struct {
	schema   *schema.Schema
	db       *sql.DB
	registry *schema.Registry

	conditions []*Condition
	orderBy    []string
	limit      *int
	offset     *int

	selectRelated   []string
	prefetchRelated []string
	annotations     map[string]*schema.Aggregate

	materialized bool
	rows         []map[string]any
}

// NewQuery creates a query for the given model.
func NewQuery(s *schema.Schema, db *sql.DB, registry *schema.Registry) *Query {
	return &Query{
		schema:      s,
		db:          db,
		registry:    registry,
		annotations: make(map[string]*schema.Aggregate),
	}
}

// Schema returns the model the query selects from.
func (q *Query) Schema() *schema.Schema {
	return q.schema
}

// Where adds a WHERE condition. An unknown field is a programmer
// error and panics.
func (q *Query) Where(field string, op Operator, value any) *Query {
	q.validateField(field)
	q.conditions = append(q.conditions, &Condition{Field: field, Operator: op, Value: value})
	return q
}

// OrWhere adds an OR WHERE condition.
func (q *Query) OrWhere(field string, op Operator, value any) *Query {
	q.validateField(field)
	q.conditions = append(q.conditions, &Condition{Field: field, Operator: op, Value: value, Or: true})
	return q
}

// WhereIn adds a WHERE IN condition.
func (q *Query) WhereIn(field string, values []any) *Query {
	return q.Where(field, OpIn, values)
}

// WhereNull adds a WHERE IS NULL condition.
func (q *Query) WhereNull(field string) *Query {
	return q.Where(field, OpIsNull, nil)
}

// OrderBy adds an ORDER BY clause.
func (q *Query) OrderBy(field string, direction string) *Query {
	q.validateField(field)
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	q.orderBy = append(q.orderBy, fmt.Sprintf("%s.%s %s", q.schema.Table, field, dir))
	return q
}

// Limit sets the LIMIT clause.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset sets the OFFSET clause.
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// SelectRelated adds to-one chains to load in the same query via
// LEFT JOINs. Duplicate chains collapse.
func (q *Query) SelectRelated(chains ...string) *Query {
	q.selectRelated = appendUnique(q.selectRelated, chains)
	return q
}

// PrefetchRelated adds to-many chains to load in a secondary query.
func (q *Query) PrefetchRelated(chains ...string) *Query {
	q.prefetchRelated = appendUnique(q.prefetchRelated, chains)
	return q
}

// Annotate adds an aggregate column under the given name.
func (q *Query) Annotate(name string, agg *schema.Aggregate) *Query {
	q.annotations[name] = agg
	return q
}

// Clone returns an independent copy of the query. Materialized rows
// are not carried over.
func (q *Query) Clone() *Query {
	clone := &Query{
		schema:          q.schema,
		db:              q.db,
		registry:        q.registry,
		conditions:      append([]*Condition(nil), q.conditions...),
		orderBy:         append([]string(nil), q.orderBy...),
		selectRelated:   append([]string(nil), q.selectRelated...),
		prefetchRelated: append([]string(nil), q.prefetchRelated...),
		annotations:     make(map[string]*schema.Aggregate, len(q.annotations)),
	}
	for k, v := range q.annotations {
		clone.annotations[k] = v
	}
	if q.limit != nil {
		n := *q.limit
		clone.limit = &n
	}
	if q.offset != nil {
		n := *q.offset
		clone.offset = &n
	}
	return clone
}

// IsMaterialized reports whether the query has already executed.
func (q *Query) IsMaterialized() bool {
	return q.materialized
}

// Rows returns the materialized rows; nil before execution.
func (q *Query) Rows() []map[string]any {
	return q.rows
}

// ToSQL generates the SQL statement and parameter bindings.
func (q *Query) ToSQL() (string, []any, error) {
	var b strings.Builder
	args := make([]any, 0)
	paramCounter := 1
	table := q.schema.Table

	b.WriteString("SELECT " + table + ".*")

	joins, err := q.buildJoins()
	if err != nil {
		return "", nil, err
	}
	for _, j := range joins {
		for _, col := range j.columns {
			b.WriteString(", " + col)
		}
	}

	annotationNames := make([]string, 0, len(q.annotations))
	for name := range q.annotations {
		annotationNames = append(annotationNames, name)
	}
	sort.Strings(annotationNames)
	for _, name := range annotationNames {
		col, err := q.annotationColumn(name, q.annotations[name])
		if err != nil {
			return "", nil, err
		}
		b.WriteString(", " + col)
	}

	b.WriteString(" FROM " + table)

	for _, j := range joins {
		b.WriteString(" LEFT JOIN " + j.clause)
	}

	if len(q.conditions) > 0 {
		b.WriteString(" WHERE ")
		for i, cond := range q.conditions {
			if i > 0 {
				if cond.Or {
					b.WriteString(" OR ")
				} else {
					b.WriteString(" AND ")
				}
			}
			condSQL, err := cond.toSQL(table, &paramCounter, &args)
			if err != nil {
				return "", nil, fmt.Errorf("failed to build condition: %w", err)
			}
			b.WriteString(condSQL)
		}
	}

	if len(q.orderBy) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(q.orderBy, ", "))
	}

	if q.limit != nil {
		b.WriteString(fmt.Sprintf(" LIMIT $%d", paramCounter))
		args = append(args, *q.limit)
		paramCounter++
	}
	if q.offset != nil {
		b.WriteString(fmt.Sprintf(" OFFSET $%d", paramCounter))
		args = append(args, *q.offset)
		paramCounter++
	}

	return b.String(), args, nil
}

// join is one resolved select-related hop.
type join struct {
	clause  string
	columns []string
}

// buildJoins resolves each select-related chain into LEFT JOIN clauses
// and aliased column lists. The alias of a hop is its chain prefix, so
// "tenant__user" scans into nested maps without ambiguity.
func (q *Query) buildJoins() ([]join, error) {
	var joins []join
	seen := make(map[string]bool)

	for _, chain := range q.selectRelated {
		parent := q.schema
		parentAlias := q.schema.Table
		alias := ""

		for _, hop := range strings.Split(chain, ChainSeparator) {
			rel, ok := parent.Relations[hop]
			if !ok {
				return nil, fmt.Errorf("unknown relation %s on %s", hop, parent.Name)
			}
			if rel.Kind.ToMany() {
				return nil, fmt.Errorf("cannot select-related to-many relation %s on %s", hop, parent.Name)
			}
			target, ok := q.registry.Get(rel.Target)
			if !ok {
				return nil, fmt.Errorf("unknown model %s", rel.Target)
			}

			if alias == "" {
				alias = hop
			} else {
				alias = alias + ChainSeparator + hop
			}

			if !seen[alias] {
				seen[alias] = true
				var clause string
				if rel.Kind == schema.BelongsTo {
					clause = fmt.Sprintf("%s AS %s ON %s.%s = %s.%s",
						target.Table, alias, alias, target.PrimaryKey,
						parentAlias, parent.ForeignKeyColumn(rel))
				} else {
					// has_one: the foreign key lives on the target table.
					clause = fmt.Sprintf("%s AS %s ON %s.%s = %s.%s",
						target.Table, alias, alias,
						toSnakeCase(parent.Name)+"_id",
						parentAlias, parent.PrimaryKey)
				}
				joins = append(joins, join{
					clause:  clause,
					columns: aliasedColumns(target, alias),
				})
			}

			parent = target
			parentAlias = alias
		}
	}
	return joins, nil
}

// aliasedColumns lists the target's columns with chain-prefixed output
// names so the scanner can regroup them into nested maps.
func aliasedColumns(s *schema.Schema, alias string) []string {
	names := make([]string, 0, len(s.Fields)+1)
	if _, ok := s.Fields[s.PrimaryKey]; !ok {
		names = append(names, s.PrimaryKey)
	}
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]string, len(names))
	for i, name := range names {
		cols[i] = fmt.Sprintf(`%s.%s AS "%s%s%s"`, alias, name, alias, ChainSeparator, name)
	}
	return cols
}

// annotationColumn renders an aggregate as a correlated COUNT subquery.
func (q *Query) annotationColumn(name string, agg *schema.Aggregate) (string, error) {
	rel, ok := q.schema.Relations[agg.Relation]
	if !ok {
		return "", fmt.Errorf("aggregate %s references unknown relation %s", name, agg.Relation)
	}
	target, ok := q.registry.Get(rel.Target)
	if !ok {
		return "", fmt.Errorf("unknown model %s", rel.Target)
	}

	where := fmt.Sprintf("%s.%s = %s.%s",
		target.Table, q.schema.ForeignKeyColumn(rel),
		q.schema.Table, q.schema.PrimaryKey)
	if agg.Filter != "" {
		where += " AND " + agg.Filter
	}
	return fmt.Sprintf(`(SELECT COUNT(*) FROM %s WHERE %s) AS "%s"`,
		target.Table, where, name), nil
}

// All executes the query, nests joined columns, runs the prefetch
// loader, and caches the materialized rows on the query.
func (q *Query) All(ctx context.Context) ([]map[string]any, error) {
	if q.materialized {
		return q.rows, nil
	}

	sqlStr, args, err := q.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}

	for i, row := range results {
		results[i] = nestRow(row)
	}

	if len(q.prefetchRelated) > 0 && len(results) > 0 {
		if err := q.runPrefetch(ctx, results); err != nil {
			return nil, fmt.Errorf("failed to prefetch relations: %w", err)
		}
	}

	q.rows = results
	q.materialized = true
	return results, nil
}

// First executes the query with LIMIT 1 and returns the first row.
func (q *Query) First(ctx context.Context) (map[string]any, error) {
	results, err := q.Clone().Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, sql.ErrNoRows
	}
	return results[0], nil
}

// Count executes a COUNT(*) with the query's conditions.
func (q *Query) Count(ctx context.Context) (int, error) {
	var b strings.Builder
	args := make([]any, 0)
	paramCounter := 1
	table := q.schema.Table

	b.WriteString("SELECT COUNT(*) FROM " + table)
	if len(q.conditions) > 0 {
		b.WriteString(" WHERE ")
		for i, cond := range q.conditions {
			if i > 0 {
				if cond.Or {
					b.WriteString(" OR ")
				} else {
					b.WriteString(" AND ")
				}
			}
			condSQL, err := cond.toSQL(table, &paramCounter, &args)
			if err != nil {
				return 0, fmt.Errorf("failed to build condition: %w", err)
			}
			b.WriteString(condSQL)
		}
	}

	var count int
	if err := q.db.QueryRowContext(ctx, b.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to execute count query: %w", err)
	}
	return count, nil
}

func (q *Query) validateField(field string) {
	if q.schema == nil {
		return
	}
	if _, exists := q.schema.Fields[field]; !exists {
		panic(fmt.Sprintf("field %s does not exist on model %s", field, q.schema.Name))
	}
}

// scanRows scans all result rows into generic maps.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// nestRow regroups chain-prefixed columns ("tenant__user__email") into
// nested maps. A joined relation whose primary key scanned as NULL was
// a LEFT JOIN miss and collapses to nil.
func nestRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	nested := make(map[string]map[string]any)

	for col, val := range row {
		idx := strings.LastIndex(col, ChainSeparator)
		if idx < 0 {
			out[col] = val
			continue
		}
		chain, field := col[:idx], col[idx+1:]
		if nested[chain] == nil {
			nested[chain] = make(map[string]any)
		}
		nested[chain][field] = val
	}

	// Longest chains first so children attach before parents.
	chains := make([]string, 0, len(nested))
	for chain := range nested {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		return strings.Count(chains[i], ChainSeparator) > strings.Count(chains[j], ChainSeparator)
	})

	for _, chain := range chains {
		m := nested[chain]
		if allNil(m) {
			attachChain(out, nested, chain, nil)
		} else {
			attachChain(out, nested, chain, m)
		}
	}
	return out
}

func attachChain(out map[string]any, nested map[string]map[string]any, chain string, value any) {
	idx := strings.LastIndex(chain, ChainSeparator)
	if idx < 0 {
		out[chain] = value
		return
	}
	parent, key := chain[:idx], chain[idx+1:]
	if nested[parent] == nil {
		nested[parent] = make(map[string]any)
	}
	nested[parent][key] = value
}

func allNil(m map[string]any) bool {
	for _, v := range m {
		if v != nil {
			return false
		}
	}
	return true
}

func appendUnique(existing []string, additions []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range additions {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		existing = append(existing, s)
	}
	return existing
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
