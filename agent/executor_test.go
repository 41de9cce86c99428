package agent

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"datachat/dbpool"
)

// TestBindParams 验证 :name 占位符按方言改写及绑定顺序
func TestBindParams(t *testing.T) {
	values := map[string]string{"region": "East", "year": "2024"}

	testCases := []struct {
		name     string
		sql      string
		dialect  string
		params   []string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "mysql question marks",
			sql:      "SELECT * FROM orders WHERE region = :region AND year = :year",
			dialect:  dbpool.DialectMySQL,
			params:   []string{"region", "year"},
			wantSQL:  "SELECT * FROM orders WHERE region = ? AND year = ?",
			wantArgs: []any{"East", "2024"},
		},
		{
			name:     "postgres positional with reuse",
			sql:      "SELECT * FROM orders WHERE region = :region OR ship_region = :region",
			dialect:  dbpool.DialectPostgres,
			params:   []string{"region", "region"},
			wantSQL:  "SELECT * FROM orders WHERE region = $1 OR ship_region = $1",
			wantArgs: []any{"East"},
		},
		{
			name:     "sqlserver named form",
			sql:      "SELECT * FROM orders WHERE region = :region",
			dialect:  dbpool.DialectSQLServer,
			params:   []string{"region"},
			wantSQL:  "SELECT * FROM orders WHERE region = @p1",
			wantArgs: []any{"East"},
		},
		{
			name:     "postgres cast untouched",
			sql:      "SELECT created_at::date FROM orders WHERE region = :region",
			dialect:  dbpool.DialectPostgres,
			params:   []string{"region"},
			wantSQL:  "SELECT created_at::date FROM orders WHERE region = $1",
			wantArgs: []any{"East"},
		},
		{
			name:     "placeholder inside string literal untouched",
			sql:      "SELECT ':region' AS tag FROM orders WHERE region = :region",
			dialect:  dbpool.DialectMySQL,
			params:   []string{"region"},
			wantSQL:  "SELECT ':region' AS tag FROM orders WHERE region = ?",
			wantArgs: []any{"East"},
		},
		{
			name:     "unbound name becomes null",
			sql:      "SELECT * FROM orders WHERE status = :status",
			dialect:  dbpool.DialectMySQL,
			params:   []string{"status"},
			wantSQL:  "SELECT * FROM orders WHERE status = ?",
			wantArgs: []any{nil},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gotSQL, gotArgs, err := BindParams(tc.sql, tc.dialect, tc.params, values)
			if err != nil {
				t.Fatalf("BindParams failed: %v", err)
			}
			if gotSQL != tc.wantSQL {
				t.Errorf("SQL mismatch:\n got  %s\n want %s", gotSQL, tc.wantSQL)
			}
			if !reflect.DeepEqual(gotArgs, tc.wantArgs) {
				t.Errorf("args mismatch: got %v, want %v", gotArgs, tc.wantArgs)
			}
		})
	}
}

func TestBindParamsOracleNamed(t *testing.T) {
	gotSQL, args, err := BindParams(
		"SELECT * FROM orders WHERE region = :region",
		dbpool.DialectOracle,
		[]string{"region"},
		map[string]string{"region": "East"},
	)
	if err != nil {
		t.Fatalf("BindParams failed: %v", err)
	}
	if gotSQL != "SELECT * FROM orders WHERE region = :p1" {
		t.Errorf("unexpected SQL: %s", gotSQL)
	}
	if len(args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(args))
	}
	named, ok := args[0].(sql.NamedArg)
	if !ok {
		t.Fatalf("expected sql.NamedArg, got %T", args[0])
	}
	if named.Name != "p1" || named.Value != "East" {
		t.Errorf("unexpected named arg: %+v", named)
	}
}

func TestBindParamsNoParams(t *testing.T) {
	gotSQL, args, err := BindParams("SELECT 1", dbpool.DialectMySQL, nil, nil)
	if err != nil {
		t.Fatalf("BindParams failed: %v", err)
	}
	if gotSQL != "SELECT 1" || args != nil {
		t.Errorf("expected statement passthrough, got %q / %v", gotSQL, args)
	}
}

func mockExec(t *testing.T) (*sql.DB, sqlmock.Sqlmock, dbpool.Dialect) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	d, err := dbpool.Lookup(dbpool.DialectMySQL)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	return db, mock, d
}

func TestExecuteScansAndConverts(t *testing.T) {
	db, mock, d := mockExec(t)
	exec := NewExecutor(100, time.Second)

	rows := sqlmock.NewRows([]string{"region", "total"}).
		AddRow([]byte("East"), 42).
		AddRow([]byte("West"), 17)
	mock.ExpectQuery("SELECT region, total FROM sales").WillReturnRows(rows)

	preview, err := exec.Execute(context.Background(), db, d, "SELECT region, total FROM sales", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !reflect.DeepEqual(preview.Columns, []string{"region", "total"}) {
		t.Errorf("unexpected columns: %v", preview.Columns)
	}
	if len(preview.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(preview.Rows))
	}
	if preview.Rows[0][0] != "East" {
		t.Errorf("expected []byte converted to string, got %T %v", preview.Rows[0][0], preview.Rows[0][0])
	}
	if preview.Truncated {
		t.Error("unexpected truncation")
	}
	if preview.TotalRows != 2 {
		t.Errorf("expected TotalRows 2, got %d", preview.TotalRows)
	}
}

func TestExecuteTruncatesAtRowLimit(t *testing.T) {
	db, mock, d := mockExec(t)
	exec := NewExecutor(2, time.Second)

	rows := sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3)
	mock.ExpectQuery("SELECT n FROM seq").WillReturnRows(rows)

	preview, err := exec.Execute(context.Background(), db, d, "SELECT n FROM seq", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(preview.Rows) != 2 {
		t.Errorf("expected 2 rows after cap, got %d", len(preview.Rows))
	}
	if !preview.Truncated {
		t.Error("expected Truncated to be set")
	}
}

func TestExecuteClassifiesCancellation(t *testing.T) {
	db, mock, d := mockExec(t)
	exec := NewExecutor(100, time.Second)

	mock.ExpectQuery("SELECT pg_sleep").WillReturnError(context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, db, d, "SELECT pg_sleep(10)", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != KindCancelled {
		t.Errorf("expected KindCancelled, got %s", got)
	}
}

func TestCount(t *testing.T) {
	db, mock, d := mockExec(t)
	exec := NewExecutor(100, time.Second)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM`).
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(57))

	total, err := exec.Count(context.Background(), db, d, "SELECT * FROM orders", nil)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if total != 57 {
		t.Errorf("expected 57, got %d", total)
	}
}
