package agent

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "type", "nullable", "comment"}).
		AddRow("id", "int", 0, "primary key").
		AddRow("amount", "decimal(10,2)", 1, "")
}

// TestSchemaLoaderLoad 验证表结构加载与缓存
func TestSchemaLoaderLoad(t *testing.T) {
	db, mock, d := mockExec(t)
	loader := NewSchemaLoader(time.Minute, time.Second)

	mock.ExpectQuery("information_schema.COLUMNS").
		WithArgs("orders").
		WillReturnRows(columnRows())

	tables, err := loader.Load(context.Background(), "ds-1", db, d, []string{"orders"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
	ts := tables[0]
	if !ts.Found {
		t.Error("expected Found for an existing table")
	}
	if len(ts.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(ts.Columns))
	}
	if ts.Columns[0].Nullable {
		t.Error("id must not be nullable")
	}
	if !ts.Columns[1].Nullable {
		t.Error("amount must be nullable")
	}

	// second load hits the cache, no further catalog query expected
	if _, err := loader.Load(context.Background(), "ds-1", db, d, []string{"orders"}); err != nil {
		t.Fatalf("cached Load failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSchemaLoaderMissingTable(t *testing.T) {
	db, mock, d := mockExec(t)
	loader := NewSchemaLoader(time.Minute, time.Second)

	mock.ExpectQuery("information_schema.COLUMNS").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "comment"}))

	tables, err := loader.Load(context.Background(), "ds-1", db, d, []string{"ghost"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if tables[0].Found {
		t.Error("a table without columns must be reported as not found")
	}
}

func TestSchemaLoaderInvalidate(t *testing.T) {
	db, mock, d := mockExec(t)
	loader := NewSchemaLoader(time.Minute, time.Second)

	mock.ExpectQuery("information_schema.COLUMNS").WithArgs("orders").WillReturnRows(columnRows())
	if _, err := loader.Load(context.Background(), "ds-1", db, d, []string{"orders"}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	loader.Invalidate("ds-1")

	mock.ExpectQuery("information_schema.COLUMNS").WithArgs("orders").WillReturnRows(columnRows())
	if _, err := loader.Load(context.Background(), "ds-1", db, d, []string{"orders"}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("invalidate must force a reload: %v", err)
	}
}

func TestSchemaLoaderTables(t *testing.T) {
	db, mock, d := mockExec(t)
	loader := NewSchemaLoader(time.Minute, time.Second)

	mock.ExpectQuery("information_schema.TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"name", "comment"}).
			AddRow("orders", "sales orders").
			AddRow("customers", ""))

	infos, err := loader.Tables(context.Background(), db, d)
	if err != nil {
		t.Fatalf("Tables failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(infos))
	}
	if infos[0].Name != "orders" || infos[0].Comment != "sales orders" {
		t.Errorf("unexpected first entry: %+v", infos[0])
	}
}
