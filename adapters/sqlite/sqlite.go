// Package sqlite is a reference adapter.Adapter backed by mattn/go-sqlite3.
// Each collection maps to one table; schema evolves through ALTER TABLE
// ADD/DROP COLUMN, and the integer primary key is SQLite's native
// AUTOINCREMENT, which gives this adapter the monotonic ids the lock
// manager requires of whatever backs its reserved collection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/logger"
)

// Adapter is a sqlite-backed adapter.Adapter. Construct with Open.
type Adapter struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens or creates a SQLite database at path, applying the pragmas
// appropriate for a single-process embedded store: WAL journaling for
// concurrent readers, a busy timeout to absorb short write contention, and
// foreign key enforcement.
func Open(path string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, adapter.WrapError("sqlite", fmt.Sprintf("connect %s", path), err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Adapter{db: db, log: logger.New("sqlite")}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite: apply %q: %w", p, err)
		}
	}
	return nil
}

// Identity returns "sqlite".
func (a *Adapter) Identity() string { return "sqlite" }

// Teardown closes the underlying database connection.
func (a *Adapter) Teardown(ctx context.Context) error {
	return a.db.Close()
}

// AssignsMonotonicIDs reports true: every collection's primary key is an
// AUTOINCREMENT INTEGER column.
func (a *Adapter) AssignsMonotonicIDs() bool { return true }

// --- Describable ---

// Define creates collection's table from attrs.
func (a *Adapter) Define(ctx context.Context, collection string, attrs []adapter.Attribute) error {
	var cols []string
	for _, attr := range attrs {
		cols = append(cols, columnDefinition(attr))
	}
	stmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(collection), strings.Join(cols, ", "))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: define %q: %w", collection, err)
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
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: unique index on %s.%s: %w", collection, attr.Name, err)
		}
	}
	return nil
}

func columnDefinition(attr adapter.Attribute) string {
	var b strings.Builder
	b.WriteString(quoteIdent(attr.Name))
	b.WriteByte(' ')
	if attr.PrimaryKey && attr.AutoIncrement {
		// SQLite accepts AUTOINCREMENT only on an INTEGER PRIMARY KEY column.
		b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
		return b.String()
	}
	b.WriteString(sqlType(attr.Type))
	if attr.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if attr.Required {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

func sqlType(t adapter.AttributeType) string {
	switch t {
	case adapter.TypeNumber:
		return "REAL"
	case adapter.TypeBoolean:
		return "INTEGER"
	case adapter.TypeDate:
		return "TEXT"
	case adapter.TypeJSON:
		return "TEXT"
	case adapter.TypeRef:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// Describe returns collection's current attribute set, or (nil, nil) if the
// table does not exist.
func (a *Adapter) Describe(ctx context.Context, collection string) ([]adapter.Attribute, error) {
	exists, err := a.tableExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(collection)))
	if err != nil {
		return nil, fmt.Errorf("sqlite: describe %q: %w", collection, err)
	}
	defer rows.Close()

	uniques, err := a.singleColumnUniqueIndexes(ctx, collection)
	if err != nil {
		return nil, err
	}

	var attrs []adapter.Attribute
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("sqlite: describe %q: %w", collection, err)
		}
		attrs = append(attrs, adapter.Attribute{
			Name:          name,
			Type:          attributeType(colType),
			Required:      notNull == 1,
			PrimaryKey:    pk > 0,
			AutoIncrement: pk > 0 && strings.EqualFold(colType, "INTEGER"),
			Unique:        uniques[name],
		})
	}
	return attrs, rows.Err()
}

func (a *Adapter) singleColumnUniqueIndexes(ctx context.Context, collection string) (map[string]bool, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list(%s)`, quoteIdent(collection)))
	if err != nil {
		return nil, fmt.Errorf("sqlite: index_list %q: %w", collection, err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	var indexNames []string
	for rows.Next() {
		var seq int
		var name string
		var unique int
		var origin, partial string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("sqlite: index_list %q: %w", collection, err)
		}
		if unique == 1 {
			indexNames = append(indexNames, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, idx := range indexNames {
		colRows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_info(%s)`, quoteIdent(idx)))
		if err != nil {
			return nil, fmt.Errorf("sqlite: index_info %q: %w", idx, err)
		}
		var cols []string
		for colRows.Next() {
			var seqno, cid int
			var name string
			if err := colRows.Scan(&seqno, &cid, &name); err != nil {
				colRows.Close()
				return nil, err
			}
			cols = append(cols, name)
		}
		colRows.Close()
		if len(cols) == 1 {
			result[cols[0]] = true
		}
	}
	return result, nil
}

func attributeType(sqlType string) adapter.AttributeType {
	switch strings.ToUpper(sqlType) {
	case "REAL", "INTEGER", "NUMERIC":
		return adapter.TypeNumber
	default:
		return adapter.TypeString
	}
}

func (a *Adapter) tableExists(ctx context.Context, collection string) (bool, error) {
	var name string
	err := a.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, collection).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: check table %q: %w", collection, err)
	}
	return true, nil
}

// --- AddRemoveAttributer ---

// AddAttribute adds attr to collection's table.
func (a *Adapter) AddAttribute(ctx context.Context, collection string, attr adapter.Attribute) error {
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, quoteIdent(collection), columnDefinition(attr))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: add attribute %s.%s: %w", collection, attr.Name, err)
	}
	if attr.Unique {
		return a.createUniqueIndexes(ctx, collection, []adapter.Attribute{attr})
	}
	return nil
}

// RemoveAttribute drops attr from collection's table.
func (a *Adapter) RemoveAttribute(ctx context.Context, collection string, attr adapter.Attribute) error {
	stmt := fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`, quoteIdent(collection), quoteIdent(attr.Name))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: remove attribute %s.%s: %w", collection, attr.Name, err)
	}
	return nil
}

// --- Countable ---

// Count returns the number of rows in collection matching criteria.
func (a *Adapter) Count(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	where, args, err := whereClause(criteria.Where)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, quoteIdent(collection), where)
	var count int64
	if err := a.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count %q: %w", collection, err)
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
	for name, v := range values {
		cols = append(cols, quoteIdent(name))
		placeholders = append(placeholders, "?")
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		args = append(args, encoded)
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES`, quoteIdent(collection))
	} else {
		stmt = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			quoteIdent(collection), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}

	result, err := a.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create %q: %w", collection, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: create %q: %w", collection, err)
	}

	created := adapter.Record{}
	for k, v := range values {
		created[k] = v
	}
	created["id"] = id
	return created, nil
}

// Find returns every row in collection matching criteria.
func (a *Adapter) Find(ctx context.Context, collection string, criteria adapter.Criterion) ([]adapter.Record, error) {
	where, args, err := whereClause(criteria.Where)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT * FROM %s%s`, quoteIdent(collection), where)
	if criteria.Comparator == nil {
		stmt += orderClause(criteria.Order)
	}
	stmt += limitOffsetClause(criteria.Limit, criteria.Skip, criteria.Offset)

	rows, err := a.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find %q: %w", collection, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
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
	for name, v := range values {
		setCols = append(setCols, fmt.Sprintf("%s = ?", quoteIdent(name)))
		encoded, err := encodeValue(v)
		if err != nil {
			return 0, err
		}
		args = append(args, encoded)
	}

	where, whereArgs, err := whereClause(criteria.Where)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	stmt := fmt.Sprintf(`UPDATE %s SET %s%s`, quoteIdent(collection), strings.Join(setCols, ", "), where)
	result, err := a.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: update %q: %w", collection, err)
	}
	return result.RowsAffected()
}

// Destroy deletes every row in collection matching criteria and returns the
// number of rows deleted.
func (a *Adapter) Destroy(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	where, args, err := whereClause(criteria.Where)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf(`DELETE FROM %s%s`, quoteIdent(collection), where)
	result, err := a.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: destroy %q: %w", collection, err)
	}
	return result.RowsAffected()
}

// Drop drops collection's table entirely.
func (a *Adapter) Drop(ctx context.Context, collection string) error {
	stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(collection))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: drop %q: %w", collection, err)
	}
	return nil
}

func whereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	conditions := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	for col, v := range where {
		encoded, err := encodeValue(v)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fmt.Sprintf("%s = ?", quoteIdent(col)))
		args = append(args, encoded)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
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
		if limit <= 0 {
			b.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&b, " OFFSET %d", o)
	}
	return b.String()
}

func scanRecords(rows *sql.Rows) ([]adapter.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []adapter.Record
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := adapter.Record{}
		for i, col := range cols {
			rec[col] = decodeValue(raw[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("sqlite: encode value: %w", err)
		}
		return string(b), nil
	default:
		return v, nil
	}
}

func decodeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
