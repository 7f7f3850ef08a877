// Package postgres is a reference adapter.Adapter backed by jackc/pgx/v5,
// pooled through pgxpool. Each collection maps to one table; the primary
// key is a BIGSERIAL column, which gives this adapter the monotonic ids the
// lock manager requires of whatever backs its reserved collection.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/logger"
)

// Config carries the connection parameters for Open.
type Config struct {
	Host              string
	Port              int
	Database          string
	User              string
	Password          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// Adapter is a postgres-backed adapter.Adapter. Construct with Open.
type Adapter struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// Open connects to postgres per cfg and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("postgres: database name is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("postgres: host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("postgres: user is required")
	}

	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("postgres: connection config: %w", err)
	}
	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout
	if cfg.SSLMode == "disable" {
		poolConfig.ConnConfig.TLSConfig = nil
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, adapter.WrapError("postgres", "ping", err)
	}

	return &Adapter{pool: pool, log: logger.New("postgres")}, nil
}

// Identity returns "postgres".
func (a *Adapter) Identity() string { return "postgres" }

// Teardown closes the connection pool.
func (a *Adapter) Teardown(ctx context.Context) error {
	a.pool.Close()
	return nil
}

// AssignsMonotonicIDs reports true: every collection's primary key is a
// BIGSERIAL column.
func (a *Adapter) AssignsMonotonicIDs() bool { return true }

// --- Describable ---

// Define creates collection's table from attrs.
func (a *Adapter) Define(ctx context.Context, collection string, attrs []adapter.Attribute) error {
	cols := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		cols = append(cols, columnDefinition(attr))
	}
	stmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(collection), strings.Join(cols, ", "))
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: define %q: %w", collection, err)
	}
	return a.createUniqueIndexes(ctx, collection, attrs)
}

func (a *Adapter) createUniqueIndexes(ctx context.Context, collection string, attrs []adapter.Attribute) error {
	for _, attr := range attrs {
		if !attr.Unique || attr.PrimaryKey {
			continue
		}
		idxName := fmt.Sprintf("idx_%s_%s_unique", collection, attr.Name)
		stmt := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`,
			quoteIdent(idxName), quoteIdent(collection), quoteIdent(attr.Name))
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: unique index on %s.%s: %w", collection, attr.Name, err)
		}
	}
	return nil
}

func columnDefinition(attr adapter.Attribute) string {
	var b strings.Builder
	b.WriteString(quoteIdent(attr.Name))
	b.WriteByte(' ')
	b.WriteString(sqlType(attr))
	if attr.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if attr.Required {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

func sqlType(attr adapter.Attribute) string {
	if attr.PrimaryKey && attr.AutoIncrement {
		return "BIGSERIAL"
	}
	switch attr.Type {
	case adapter.TypeNumber:
		return "DOUBLE PRECISION"
	case adapter.TypeBoolean:
		return "BOOLEAN"
	case adapter.TypeDate:
		return "TIMESTAMPTZ"
	case adapter.TypeJSON:
		return "JSONB"
	case adapter.TypeRef:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// Describe returns collection's current attribute set, or (nil, nil) if the
// table does not exist.
func (a *Adapter) Describe(ctx context.Context, collection string) ([]adapter.Attribute, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`, collection)
	if err != nil {
		return nil, fmt.Errorf("postgres: describe %q: %w", collection, err)
	}
	defer rows.Close()

	pkCols, err := a.primaryKeyColumns(ctx, collection)
	if err != nil {
		return nil, err
	}
	uniqueCols, err := a.singleColumnUniqueIndexes(ctx, collection)
	if err != nil {
		return nil, err
	}

	var attrs []adapter.Attribute
	for rows.Next() {
		var name, dataType, isNullable string
		if err := rows.Scan(&name, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("postgres: describe %q: %w", collection, err)
		}
		_, isPK := pkCols[name]
		attrs = append(attrs, adapter.Attribute{
			Name:          name,
			Type:          attributeType(dataType),
			Required:      isNullable == "NO",
			PrimaryKey:    isPK,
			AutoIncrement: isPK && strings.Contains(dataType, "int"),
			Unique:        uniqueCols[name],
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

func (a *Adapter) primaryKeyColumns(ctx context.Context, collection string) (map[string]struct{}, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary`, collection)
	if err != nil {
		// table may not exist yet; treat as no primary key rather than failing.
		return map[string]struct{}{}, nil
	}
	defer rows.Close()

	cols := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

func (a *Adapter) singleColumnUniqueIndexes(ctx context.Context, collection string) (map[string]bool, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisunique AND NOT i.indisprimary
		  AND array_length(i.indkey, 1) = 1`, collection)
	if err != nil {
		return map[string]bool{}, nil
	}
	defer rows.Close()

	result := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = true
	}
	return result, rows.Err()
}

func attributeType(dataType string) adapter.AttributeType {
	switch {
	case strings.Contains(dataType, "double"), strings.Contains(dataType, "numeric"), strings.Contains(dataType, "int"):
		return adapter.TypeNumber
	case dataType == "boolean":
		return adapter.TypeBoolean
	case strings.Contains(dataType, "timestamp"), dataType == "date":
		return adapter.TypeDate
	case dataType == "jsonb", dataType == "json":
		return adapter.TypeJSON
	default:
		return adapter.TypeString
	}
}

// --- AddRemoveAttributer ---

// AddAttribute adds attr to collection's table.
func (a *Adapter) AddAttribute(ctx context.Context, collection string, attr adapter.Attribute) error {
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, quoteIdent(collection), columnDefinition(attr))
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: add attribute %s.%s: %w", collection, attr.Name, err)
	}
	if attr.Unique {
		return a.createUniqueIndexes(ctx, collection, []adapter.Attribute{attr})
	}
	return nil
}

// RemoveAttribute drops attr from collection's table.
func (a *Adapter) RemoveAttribute(ctx context.Context, collection string, attr adapter.Attribute) error {
	stmt := fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`, quoteIdent(collection), quoteIdent(attr.Name))
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: remove attribute %s.%s: %w", collection, attr.Name, err)
	}
	return nil
}

// --- Countable ---

// Count returns the number of rows in collection matching criteria.
func (a *Adapter) Count(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	where, args := whereClause(criteria.Where, 1)
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, quoteIdent(collection), where)
	var count int64
	if err := a.pool.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count %q: %w", collection, err)
	}
	return count, nil
}

// --- Adapter base ---

// Create inserts values into collection and returns the inserted row,
// including the adapter-assigned id.
func (a *Adapter) Create(ctx context.Context, collection string, values adapter.Record) (adapter.Record, error) {
	cols := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	i := 1
	for name, v := range values {
		cols = append(cols, quoteIdent(name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		args = append(args, encodeValue(v))
		i++
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES RETURNING *`, quoteIdent(collection))
	} else {
		stmt = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
			quoteIdent(collection), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}

	rows, err := a.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: create %q: %w", collection, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: create %q: %w", collection, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("postgres: create %q: no row returned", collection)
	}
	return records[0], nil
}

// Find returns every row in collection matching criteria.
func (a *Adapter) Find(ctx context.Context, collection string, criteria adapter.Criterion) ([]adapter.Record, error) {
	where, args := whereClause(criteria.Where, 1)

	stmt := fmt.Sprintf(`SELECT * FROM %s%s`, quoteIdent(collection), where)
	if criteria.Comparator == nil {
		stmt += orderClause(criteria.Order)
	}
	stmt += limitOffsetClause(criteria.Limit, criteria.Skip, criteria.Offset)

	rows, err := a.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find %q: %w", collection, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: find %q: %w", collection, err)
	}

	if criteria.Comparator != nil {
		sort.SliceStable(records, func(i, j int) bool {
			return criteria.Comparator(records[i], records[j])
		})
	}
	return records, nil
}

// Update applies values to every row in collection matching criteria and
// returns the number of rows modified.
func (a *Adapter) Update(ctx context.Context, collection string, criteria adapter.Criterion, values adapter.Record) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	setCols := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	i := 1
	for name, v := range values {
		setCols = append(setCols, fmt.Sprintf("%s = $%d", quoteIdent(name), i))
		args = append(args, encodeValue(v))
		i++
	}

	where, whereArgs := whereClause(criteria.Where, i)
	args = append(args, whereArgs...)

	stmt := fmt.Sprintf(`UPDATE %s SET %s%s`, quoteIdent(collection), strings.Join(setCols, ", "), where)
	tag, err := a.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: update %q: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

// Destroy deletes every row in collection matching criteria and returns the
// number of rows deleted.
func (a *Adapter) Destroy(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	where, args := whereClause(criteria.Where, 1)
	stmt := fmt.Sprintf(`DELETE FROM %s%s`, quoteIdent(collection), where)
	tag, err := a.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: destroy %q: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

// Drop drops collection's table entirely.
func (a *Adapter) Drop(ctx context.Context, collection string) error {
	stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(collection))
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: drop %q: %w", collection, err)
	}
	return nil
}

func whereClause(where map[string]any, startAt int) (string, []any) {
	if len(where) == 0 {
		return "", nil
	}
	conditions := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	i := startAt
	for col, v := range where {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", quoteIdent(col), i))
		args = append(args, encodeValue(v))
		i++
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func orderClause(order []adapter.SortClause) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(order))
	for _, clause := range order {
		dir := "ASC"
		if clause.Direction < 0 {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", quoteIdent(clause.Attribute), dir))
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func limitOffsetClause(limit, skip, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	o := skip + offset
	if o > 0 {
		fmt.Fprintf(&b, " OFFSET %d", o)
	}
	return b.String()
}

func scanRecords(rows pgx.Rows) ([]adapter.Record, error) {
	fields := rows.FieldDescriptions()
	var records []adapter.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := adapter.Record{}
		for i, f := range fields {
			rec[string(f.Name)] = values[i]
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return v
		}
		return string(b)
	default:
		return v
	}
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
