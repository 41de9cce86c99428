package agent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"datachat/dbpool"
)

// Column is one column of a loaded table description.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Comment  string `json:"comment,omitempty"`
}

// TableSchema describes one selected table. Found is false when the table no
// longer exists in the data source; the prompt renders the marker instead of
// failing the turn.
type TableSchema struct {
	Name    string   `json:"name"`
	Comment string   `json:"comment,omitempty"`
	Found   bool     `json:"found"`
	Columns []Column `json:"columns,omitempty"`
}

// TableInfo is one catalog entry, for the table picker at session creation.
type TableInfo struct {
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

type schemaEntry struct {
	table    TableSchema
	loadedAt time.Time
}

// SchemaLoader materializes table descriptions through the dialect's catalog
// queries, cached per (data source, table) with a short TTL. Concurrent cold
// loads of the same selection share one catalog round trip.
type SchemaLoader struct {
	ttl     time.Duration
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]schemaEntry // key: dsID + "\x00" + table
	group singleflight.Group
}

// NewSchemaLoader creates a loader; ttl bounds staleness, timeout bounds one
// catalog load.
func NewSchemaLoader(ttl, timeout time.Duration) *SchemaLoader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SchemaLoader{ttl: ttl, timeout: timeout, cache: make(map[string]schemaEntry)}
}

// Load returns descriptions for the selected tables, in selection order. A
// missing table yields a Found=false marker rather than an error.
func (l *SchemaLoader) Load(ctx context.Context, dsID string, db *sql.DB, d dbpool.Dialect, tables []string) ([]TableSchema, error) {
	flightKey := dsID + "\x00" + strings.Join(tables, ",")
	v, err, _ := l.group.Do(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		out := make([]TableSchema, 0, len(tables))
		for _, table := range tables {
			key := dsID + "\x00" + table
			if entry, ok := l.lookup(key); ok {
				out = append(out, entry)
				continue
			}
			ts, err := l.loadTable(loadCtx, db, d, table)
			if err != nil {
				return nil, err
			}
			l.store(key, ts)
			out = append(out, ts)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]TableSchema), nil
}

// Tables lists the data source's catalog, for session creation.
func (l *SchemaLoader) Tables(ctx context.Context, db *sql.DB, d dbpool.Dialect) ([]TableInfo, error) {
	loadCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	query, args := d.TablesQuery()
	rows, err := db.QueryContext(loadCtx, query, args...)
	if err != nil {
		return nil, Fail("schema", KindDataSourceUnreachable, err)
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Name, &t.Comment); err != nil {
			return nil, Fail("schema", KindInternal, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, Fail("schema", KindInternal, err)
	}
	return out, nil
}

// Invalidate drops every cached table of a data source. Called when its
// config changes; catalog drift inside the TTL is accepted.
func (l *SchemaLoader) Invalidate(dsID string) {
	prefix := dsID + "\x00"
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.cache {
		if strings.HasPrefix(key, prefix) {
			delete(l.cache, key)
		}
	}
}

func (l *SchemaLoader) lookup(key string) (TableSchema, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.cache[key]
	if !ok || time.Since(entry.loadedAt) > l.ttl {
		return TableSchema{}, false
	}
	return entry.table, true
}

func (l *SchemaLoader) store(key string, ts TableSchema) {
	l.mu.Lock()
	l.cache[key] = schemaEntry{table: ts, loadedAt: time.Now()}
	l.mu.Unlock()
}

func (l *SchemaLoader) loadTable(ctx context.Context, db *sql.DB, d dbpool.Dialect, table string) (TableSchema, error) {
	query, args := d.ColumnsQuery(table)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return TableSchema{}, Fail("schema", kindFromErrClass(d.ClassifyError(err)), err)
	}
	defer rows.Close()

	ts := TableSchema{Name: table}
	for rows.Next() {
		var col Column
		var nullable int
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Comment); err != nil {
			return TableSchema{}, Fail("schema", KindInternal, err)
		}
		col.Nullable = nullable != 0
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return TableSchema{}, Fail("schema", KindInternal, err)
	}

	ts.Found = len(ts.Columns) > 0
	return ts, nil
}

// RenderSchema formats loaded tables as the prompt's schema block.
func RenderSchema(tables []TableSchema, d dbpool.Dialect) string {
	var b strings.Builder
	for _, t := range tables {
		if !t.Found {
			fmt.Fprintf(&b, "-- table %s: not found in the data source\n", t.Name)
			continue
		}
		fmt.Fprintf(&b, "TABLE %s", d.QuoteIdent(t.Name))
		if t.Comment != "" {
			fmt.Fprintf(&b, " -- %s", t.Comment)
		}
		b.WriteString("\n")
		for _, c := range t.Columns {
			null := "NOT NULL"
			if c.Nullable {
				null = "NULL"
			}
			fmt.Fprintf(&b, "  %s %s %s", c.Name, c.Type, null)
			if c.Comment != "" {
				fmt.Fprintf(&b, " -- %s", c.Comment)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
