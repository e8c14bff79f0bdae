package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/storage"
)

var _ storage.DataStore = (*Store)(nil)
var _ storage.Inspector = (*Store)(nil)

// --- DataStore --------------------------------------------------------------

func (s *Store) CreateDynamicTable(ctx context.Context, physicalName string, fields []module.Field, foreignKeys []module.ForeignKey) error {
	table, err := s.safeTableName(physicalName)
	if err != nil {
		return err
	}

	defs := []string{"id BIGSERIAL PRIMARY KEY"}
	for _, f := range fields {
		if strings.EqualFold(f.Name, "id") {
			continue
		}
		col, err := s.safeColumnName(f.Name)
		if err != nil {
			return err
		}
		defs = append(defs, col+" "+columnType(f.Type))
	}
	for _, fk := range foreignKeys {
		col, err := s.safeColumnName(fk.Field)
		if err != nil {
			return err
		}
		ref, err := s.safeTableName(fk.References)
		if err != nil {
			return err
		}
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id)", col, ref))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	s.log.WithField("table", table).Info("created dynamic table")
	return nil
}

func (s *Store) DropDynamicTable(ctx context.Context, physicalName string) error {
	table, err := s.safeTableName(physicalName)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	s.log.WithField("table", table).Info("dropped dynamic table")
	return nil
}

func (s *Store) InsertRow(ctx context.Context, physicalName string, data map[string]interface{}) (int64, error) {
	table, err := s.safeTableName(physicalName)
	if err != nil {
		return 0, err
	}

	columns, err := s.tableColumns(ctx, table)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("no columns found for table %s", table)
	}

	insertable := make([]string, 0, len(columns))
	for _, col := range columns {
		if col != "id" {
			insertable = append(insertable, col)
		}
	}

	// Keep the keys that name real columns; when nothing matches, map the
	// values positionally over the schema so loosely keyed payloads still land.
	valid := make(map[string]interface{})
	for col, val := range data {
		if containsString(insertable, col) {
			valid[col] = val
		}
	}
	if len(valid) == 0 && len(data) <= len(insertable) {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			valid[insertable[i]] = data[k]
		}
	}
	if len(valid) == 0 {
		return 0, fmt.Errorf("no valid column mapping for table %s", table)
	}

	cols := make([]string, 0, len(valid))
	for col := range valid {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	values := make([]interface{}, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		values[i] = valid[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var id int64
	if err := s.db.QueryRowContext(ctx, query, values...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return id, nil
}

func (s *Store) QueryRows(ctx context.Context, physicalName string, q storage.RowQuery) ([]map[string]interface{}, error) {
	table, err := s.safeTableName(physicalName)
	if err != nil {
		return nil, err
	}

	columnsStr := "*"
	if len(q.Columns) > 0 {
		safe := make([]string, 0, len(q.Columns))
		for _, col := range q.Columns {
			name, err := s.safeColumnName(col)
			if err != nil {
				return nil, err
			}
			safe = append(safe, name)
		}
		columnsStr = strings.Join(safe, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", columnsStr, table)
	if q.Where != "" {
		query += " WHERE " + q.Where
	}
	if q.OrderBy != "" {
		orderBy, err := s.safeOrderBy(q.OrderBy)
		if err != nil {
			return nil, err
		}
		query += " ORDER BY " + orderBy
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), q.Params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var result []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		result = append(result, normalizeRow(row))
	}
	return result, rows.Err()
}

func (s *Store) UpdateRows(ctx context.Context, physicalName string, data map[string]interface{}, where string, params []interface{}) (int64, error) {
	table, err := s.safeTableName(physicalName)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(where) == "" {
		return 0, fmt.Errorf("update on %s requires a where clause", table)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("update on %s requires at least one column", table)
	}

	cols := make([]string, 0, len(data))
	for col := range data {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	setClauses := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols)+len(params))
	for _, col := range cols {
		name, err := s.safeColumnName(col)
		if err != nil {
			return 0, err
		}
		setClauses = append(setClauses, name+" = ?")
		args = append(args, data[col])
	}
	args = append(args, params...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(setClauses, ", "), where)

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return result.RowsAffected()
}

func (s *Store) DeleteRows(ctx context.Context, physicalName string, where string, params []interface{}) (int64, error) {
	table, err := s.safeTableName(physicalName)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(where) == "" {
		return 0, fmt.Errorf("delete on %s requires a where clause", table)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), params...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return result.RowsAffected()
}

// --- Inspector --------------------------------------------------------------

func (s *Store) ListPhysicalTables(ctx context.Context) ([]storage.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]storage.TableInfo, 0, len(names))
	for _, name := range names {
		columns, err := s.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}

		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(name)).Scan(&count); err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", name, err)
		}
		result = append(result, storage.TableInfo{Name: name, Columns: columns, RowCount: count})
	}
	return result, nil
}

// WriteCheck inserts into a scratch table inside a transaction that is always
// rolled back, proving the database accepts writes without leaving a trace.
func (s *Store) WriteCheck(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write check: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE diagnostics_write_check (
			id BIGSERIAL PRIMARY KEY,
			checked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ON COMMIT DROP
	`); err != nil {
		return fmt.Errorf("create scratch table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO diagnostics_write_check DEFAULT VALUES`); err != nil {
		return fmt.Errorf("scratch insert: %w", err)
	}
	return nil
}

// tableColumns returns the column names of a table in ordinal order.
func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// --- identifier handling ----------------------------------------------------

func (s *Store) safeTableName(name string) (string, error) {
	safe := sanitizeIdentifier(name)
	if safe == "" || (safe[0] >= '0' && safe[0] <= '9') {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	if safe != name {
		s.log.WithField("from", name).WithField("to", safe).Warn("sanitized table name")
	}
	return safe, nil
}

func (s *Store) safeColumnName(name string) (string, error) {
	safe := sanitizeIdentifier(name)
	if safe == "" || (safe[0] >= '0' && safe[0] <= '9') {
		return "", fmt.Errorf("invalid column name %q", name)
	}
	if safe != name {
		s.log.WithField("from", name).WithField("to", safe).Warn("sanitized column name")
	}
	return safe, nil
}

// sanitizeIdentifier lowercases name and strips every character outside
// [a-z0-9_], so the result can stand unquoted in SQL text.
func sanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// safeOrderBy accepts "column" with an optional ASC or DESC suffix and
// rebuilds the clause from sanitized parts.
func (s *Store) safeOrderBy(orderBy string) (string, error) {
	parts := strings.Fields(orderBy)
	if len(parts) == 0 || len(parts) > 2 {
		return "", fmt.Errorf("unsupported order_by clause %q", orderBy)
	}
	col, err := s.safeColumnName(parts[0])
	if err != nil {
		return "", err
	}
	if len(parts) == 1 {
		return col, nil
	}
	switch strings.ToUpper(parts[1]) {
	case "ASC":
		return col + " ASC", nil
	case "DESC":
		return col + " DESC", nil
	}
	return "", fmt.Errorf("unsupported order_by clause %q", orderBy)
}

// columnType maps a declared field type onto the PostgreSQL type used for the
// physical column. Unknown types fall back to TEXT so a creative schema still
// yields a usable table.
func columnType(declared string) string {
	typ := strings.ToUpper(strings.TrimSpace(declared))

	var pg string
	switch {
	case strings.Contains(typ, "BOOL"):
		pg = "BOOLEAN"
	case strings.Contains(typ, "INT"):
		pg = "BIGINT"
	case strings.Contains(typ, "REAL"), strings.Contains(typ, "FLOAT"),
		strings.Contains(typ, "DOUBLE"), strings.Contains(typ, "DECIMAL"),
		strings.Contains(typ, "NUMERIC"):
		pg = "DOUBLE PRECISION"
	case strings.Contains(typ, "TIMESTAMP"), strings.Contains(typ, "DATETIME"):
		pg = "TIMESTAMPTZ"
		if strings.Contains(typ, "CURRENT_TIMESTAMP") {
			pg += " DEFAULT now()"
		}
	case typ == "DATE":
		pg = "DATE"
	case strings.Contains(typ, "JSON"):
		pg = "JSONB"
	default:
		pg = "TEXT"
	}

	if strings.Contains(typ, "NOT NULL") {
		pg += " NOT NULL"
	}
	return pg
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// normalizeRow converts []byte column values to string so rows marshal as
// readable JSON.
func normalizeRow(row map[string]interface{}) map[string]interface{} {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}
