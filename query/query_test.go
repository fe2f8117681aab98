package query

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSQL_Basic(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg)

	sqlStr, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT leases.* FROM leases", sqlStr)
	assert.Empty(t, args)
}

func TestToSQL_ConditionsOrderLimit(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg).
		Where("rent", OpGreaterThanOrEqual, 500).
		OrWhere("rent", OpIsNull, nil).
		OrderBy("start_date", "desc").
		Limit(5).
		Offset(10)

	sqlStr, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT leases.* FROM leases WHERE leases.rent >= $1 OR leases.rent IS NULL"+
			" ORDER BY leases.start_date DESC LIMIT $2 OFFSET $3",
		sqlStr)
	assert.Equal(t, []any{500, 5, 10}, args)
}

func TestToSQL_WhereIn(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg).
		WhereIn("rent", []any{100, 200})

	sqlStr, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "leases.rent IN ($1, $2)")
	assert.Equal(t, []any{100, 200}, args)
}

func TestToSQL_EmptyWhereIn(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg).WhereIn("rent", []any{})

	sqlStr, _, err := q.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "WHERE FALSE")
}

func TestToSQL_SelectRelatedJoins(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg).
		SelectRelated("tenant__user")

	sqlStr, _, err := q.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "LEFT JOIN tenants AS tenant ON tenant.id = leases.tenant_id")
	assert.Contains(t, sqlStr,
		"LEFT JOIN users AS tenant__user ON tenant__user.id = tenant.user_id")
	assert.Contains(t, sqlStr, `tenant__user.email AS "tenant__user__email"`)
}

func TestToSQL_SelectRelatedUnknownRelation(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg).SelectRelated("bogus")

	_, _, err := q.ToSQL()
	assert.Error(t, err)
}

func TestWhere_UnknownFieldPanics(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg)

	assert.Panics(t, func() { q.Where("bogus", OpEqual, 1) })
}

func TestAll_MaterializesAndCaches(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT leases.* FROM leases")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rent"}).
			AddRow(int64(1), int64(1200)).
			AddRow(int64(2), int64(900)))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg)
	assert.False(t, q.IsMaterialized())

	rows, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1200), rows[0]["rent"])
	assert.True(t, q.IsMaterialized())

	// Second call serves the cached rows without touching the database.
	again, err := q.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rows, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAll_NestsJoinedColumns(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT leases").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "rent", "tenant__id", "tenant__user__id", "tenant__user__email", "tenant__user__first_name"}).
			AddRow(int64(1), int64(1200), int64(7), int64(9), "john@example.com", "John"))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg).SelectRelated("tenant", "tenant__user")
	rows, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	tenant, ok := rows[0]["tenant"].(map[string]any)
	require.True(t, ok)
	user, ok := tenant["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "john@example.com", user["email"])
	assert.Equal(t, int64(7), tenant["id"])
}

func TestAll_LeftJoinMissCollapsesToNil(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT leases").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant__id"}).
			AddRow(int64(1), nil))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg).SelectRelated("tenant")
	rows, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["tenant"])
}

func TestAll_PrefetchesToMany(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT leases.* FROM leases")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).
			AddRow(int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM payments WHERE lease_id IN ($1, $2)")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lease_id", "amount"}).
			AddRow(int64(10), int64(1), int64(1200)).
			AddRow(int64(11), int64(1), int64(1200)).
			AddRow(int64(12), int64(2), int64(900)))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg).PrefetchRelated("payments")
	rows, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first, ok := rows[0]["payments"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, first, 2)
	second := rows[1]["payments"].([]map[string]any)
	assert.Len(t, second, 1)
	assert.Equal(t, int64(900), second[0]["amount"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAll_PrefetchEmptyRelationIsEmptySlice(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT leases.* FROM leases")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT \\* FROM payments").
		WillReturnRows(sqlmock.NewRows([]string{"id", "lease_id"}))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg).PrefetchRelated("payments")
	rows, err := q.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{}, rows[0]["payments"])
}

func TestFirst(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT leases.* FROM leases LIMIT $1")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg)
	row, err := q.First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["id"])
}

func TestFirst_NoRows(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT leases").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg)
	_, err = q.First(context.Background())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCount(t *testing.T) {
	reg := testRegistry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leases WHERE leases.rent > $1")).
		WithArgs(1000).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	q := NewQuery(mustGet(t, reg, "Lease"), db, reg).Where("rent", OpGreaterThan, 1000)
	count, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClone_Independent(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(mustGet(t, reg, "Lease"), nil, reg).Where("rent", OpGreaterThan, 100)

	clone := q.Clone().Where("rent", OpLessThan, 500)

	assert.Len(t, q.conditions, 1)
	assert.Len(t, clone.conditions, 2)
}
