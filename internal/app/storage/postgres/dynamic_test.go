package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), nil), mock
}

func TestCreateDynamicTableRendersDefinition(t *testing.T) {
	store, mock := newMockStore(t)

	fields := []module.Field{
		{Name: "id", Type: "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{Name: "name", Type: "TEXT NOT NULL"},
		{Name: "customer_id", Type: "INTEGER"},
		{Name: "created_at", Type: "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"},
	}
	fks := []module.ForeignKey{{Field: "customer_id", References: "mod_ab12cd34ef56_customers"}}

	expected := "CREATE TABLE IF NOT EXISTS mod_ab12cd34ef56_orders (" +
		"id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL, customer_id BIGINT, " +
		"created_at TIMESTAMPTZ DEFAULT now(), " +
		"FOREIGN KEY (customer_id) REFERENCES mod_ab12cd34ef56_customers(id))"
	mock.ExpectExec(regexp.QuoteMeta(expected)).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.CreateDynamicTable(context.Background(), "mod_ab12cd34ef56_orders", fields, fks); err != nil {
		t.Fatalf("create dynamic table: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateDynamicTableRejectsBadName(t *testing.T) {
	store, _ := newMockStore(t)

	if err := store.CreateDynamicTable(context.Background(), "1orders", nil, nil); err == nil {
		t.Fatal("expected error for table name starting with a digit")
	}
}

func TestInsertRowMatchesSchemaColumns(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("information_schema.columns").
		WithArgs("mod_ab12cd34ef56_items").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("id").AddRow("name").AddRow("amount"))

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO mod_ab12cd34ef56_items (amount, name) VALUES ($1, $2) RETURNING id")).
		WithArgs(9.5, "Widget").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := store.InsertRow(context.Background(), "mod_ab12cd34ef56_items", map[string]interface{}{
		"name":    "Widget",
		"amount":  9.5,
		"ignored": true,
	})
	if err != nil {
		t.Fatalf("insert row: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertRowPositionalFallback(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("information_schema.columns").
		WithArgs("mod_ab12cd34ef56_items").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("id").AddRow("name").AddRow("amount"))

	// No key matches the schema, so sorted values map onto name then amount.
	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO mod_ab12cd34ef56_items (amount, name) VALUES ($1, $2) RETURNING id")).
		WithArgs(12.5, "Gadget").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

	id, err := store.InsertRow(context.Background(), "mod_ab12cd34ef56_items", map[string]interface{}{
		"a_title": "Gadget",
		"b_price": 12.5,
	})
	if err != nil {
		t.Fatalf("insert row: %v", err)
	}
	if id != 8 {
		t.Fatalf("expected id 8, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertRowNoColumnMapping(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("information_schema.columns").
		WithArgs("mod_ab12cd34ef56_items").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("id").AddRow("name"))

	_, err := store.InsertRow(context.Background(), "mod_ab12cd34ef56_items", map[string]interface{}{
		"x": 1, "y": 2, "z": 3,
	})
	if err == nil {
		t.Fatal("expected mapping error")
	}
}

func TestQueryRowsBuildsSelect(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT name, total FROM mod_ab12cd34ef56_orders WHERE total > $1 ORDER BY name DESC LIMIT 5")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"name", "total"}).
			AddRow("zeta", 99.0).
			AddRow("alpha", 12.5))

	rows, err := store.QueryRows(context.Background(), "mod_ab12cd34ef56_orders", storage.RowQuery{
		Columns: []string{"name", "total"},
		Where:   "total > ?",
		Params:  []interface{}{10},
		OrderBy: "name desc",
		Limit:   5,
	})
	if err != nil {
		t.Fatalf("query rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "zeta" || rows[1]["name"] != "alpha" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryRowsDecodesByteValues(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM mod_ab12cd34ef56_orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("Widget")))

	rows, err := store.QueryRows(context.Background(), "mod_ab12cd34ef56_orders", storage.RowQuery{})
	if err != nil {
		t.Fatalf("query rows: %v", err)
	}
	if rows[0]["name"] != "Widget" {
		t.Fatalf("expected byte value decoded to string, got %T", rows[0]["name"])
	}
}

func TestUpdateRowsRendersSet(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE mod_ab12cd34ef56_orders SET amount = $1, name = $2 WHERE id = $3")).
		WithArgs(20.0, "Renamed", 4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := store.UpdateRows(context.Background(), "mod_ab12cd34ef56_orders",
		map[string]interface{}{"name": "Renamed", "amount": 20.0}, "id = ?", []interface{}{4})
	if err != nil {
		t.Fatalf("update rows: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 row affected, got %d", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateRowsRequiresWhere(t *testing.T) {
	store, _ := newMockStore(t)

	if _, err := store.UpdateRows(context.Background(), "mod_ab12cd34ef56_orders",
		map[string]interface{}{"name": "x"}, "  ", nil); err == nil {
		t.Fatal("expected error for missing where clause")
	}
}

func TestDeleteRowsRendersDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mod_ab12cd34ef56_orders WHERE id = $1")).
		WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := store.DeleteRows(context.Background(), "mod_ab12cd34ef56_orders", "id = ?", []interface{}{4})
	if err != nil {
		t.Fatalf("delete rows: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 row affected, got %d", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRowsRequiresWhere(t *testing.T) {
	store, _ := newMockStore(t)

	if _, err := store.DeleteRows(context.Background(), "mod_ab12cd34ef56_orders", "", nil); err == nil {
		t.Fatal("expected error for missing where clause")
	}
}

func TestSafeTableNameSanitizes(t *testing.T) {
	store, _ := newMockStore(t)

	got, err := store.safeTableName("Mod_1f; DROP TABLE users--")
	if err != nil {
		t.Fatalf("safe table name: %v", err)
	}
	if got != "mod_1fdroptableusers" {
		t.Fatalf("unexpected sanitized name %q", got)
	}

	if _, err := store.safeTableName("123abc"); err == nil {
		t.Fatal("expected error for leading digit")
	}
	if _, err := store.safeTableName("!!!"); err == nil {
		t.Fatal("expected error for empty result")
	}
}

func TestSafeOrderBy(t *testing.T) {
	store, _ := newMockStore(t)

	got, err := store.safeOrderBy("created_at desc")
	if err != nil {
		t.Fatalf("safe order by: %v", err)
	}
	if got != "created_at DESC" {
		t.Fatalf("unexpected clause %q", got)
	}

	if _, err := store.safeOrderBy("name; DROP TABLE users"); err == nil {
		t.Fatal("expected error for extra tokens")
	}
}

func TestColumnType(t *testing.T) {
	cases := map[string]string{
		"INTEGER":                             "BIGINT",
		"integer not null":                    "BIGINT NOT NULL",
		"REAL":                                "DOUBLE PRECISION",
		"BOOLEAN":                             "BOOLEAN",
		"TEXT":                                "TEXT",
		"VARCHAR(255)":                        "TEXT",
		"TIMESTAMP":                           "TIMESTAMPTZ",
		"TIMESTAMP DEFAULT CURRENT_TIMESTAMP": "TIMESTAMPTZ DEFAULT now()",
		"DATE":                                "DATE",
		"JSON":                                "JSONB",
		"mystery":                             "TEXT",
	}
	for declared, want := range cases {
		if got := columnType(declared); got != want {
			t.Fatalf("columnType(%q) = %q, want %q", declared, got, want)
		}
	}
}
