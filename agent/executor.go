package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"datachat/database"
	"datachat/dbpool"
)

// Executor runs validated statements against user data sources. It is the
// only path to a data source connection; everything it submits carries bound
// parameters and a deadline.
type Executor struct {
	RowLimit int           // Result cap; rows past it set Truncated
	Timeout  time.Duration // Per-statement deadline
}

// NewExecutor creates an executor with the configured caps.
func NewExecutor(rowLimit int, timeout time.Duration) *Executor {
	if rowLimit <= 0 {
		rowLimit = 1000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{RowLimit: rowLimit, Timeout: timeout}
}

// BindParams 将 :name 占位符改写为目标方言的参数形式，并按出现顺序排出绑定值。
// Named parameters the model emitted but never supplied a value for bind as
// NULL; nothing is ever spliced into the statement text.
func BindParams(sqlText, dialect string, names []string, values map[string]string) (string, []any, error) {
	if len(names) == 0 {
		return sqlText, nil, nil
	}
	d, err := dbpool.Lookup(dialect)
	if err != nil {
		return "", nil, Fail("execute", KindInvalidRequest, err)
	}

	position := map[string]int{}
	args := make([]any, 0, len(names))
	for _, name := range names {
		if _, ok := position[name]; ok {
			continue
		}
		idx := len(args) + 1
		position[name] = idx
		var val any
		if v, ok := values[name]; ok {
			val = v
		}
		if d.Name() == dbpool.DialectOracle {
			args = append(args, sql.Named(fmt.Sprintf("p%d", idx), val))
		} else {
			args = append(args, val)
		}
	}

	rewritten := rewritePlaceholders(sqlText, dialect, func(name string) string {
		idx, ok := position[name]
		if !ok {
			return ":" + name
		}
		return d.ParamForm(idx)
	})
	return rewritten, args, nil
}

// rewritePlaceholders rescans the statement with the validator's quote and
// comment rules and maps each :name token through form.
func rewritePlaceholders(src, dialect string, form func(string) string) string {
	runes := []rune(src)
	n := len(runes)
	var out strings.Builder
	out.Grow(n)

	mysqlish := dialect == dbpool.DialectMySQL || dialect == dbpool.DialectSQLite

	copyRange := func(from, to int) {
		out.WriteString(string(runes[from:to]))
	}

	i := 0
	for i < n {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			end := skipQuoted(runes, i, r)
			copyRange(i, end)
			i = end
		case r == '`' && mysqlish:
			end := skipQuoted(runes, i, '`')
			copyRange(i, end)
			i = end
		case r == '[' && dialect == dbpool.DialectSQLServer:
			end := skipBracketQuoted(runes, i)
			copyRange(i, end)
			i = end
		case r == '-' && i+1 < n && runes[i+1] == '-':
			end := i
			for end < n && runes[end] != '\n' {
				end++
			}
			copyRange(i, end)
			i = end
		case r == '/' && i+1 < n && runes[i+1] == '*':
			end := i + 2
			for end < n {
				if runes[end] == '*' && end+1 < n && runes[end+1] == '/' {
					end += 2
					break
				}
				end++
			}
			copyRange(i, end)
			i = end
		case r == ':' && i+1 < n && runes[i+1] == ':':
			out.WriteString("::")
			i += 2
		case r == ':' && i+1 < n && isWordStart(runes[i+1]):
			j := i + 1
			for j < n && isWordPart(runes[j]) {
				j++
			}
			out.WriteString(form(string(runes[i+1 : j])))
			i = j
		default:
			out.WriteRune(r)
			i++
		}
	}
	return out.String()
}

// Execute runs one validated statement and returns the capped result set.
// The statement is cancelled through the driver when ctx is done or the
// executor's timeout elapses.
func (e *Executor) Execute(ctx context.Context, db *sql.DB, d dbpool.Dialect, sqlText string, args []any) (*database.ResultPreview, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, sqlText, args...)
	if err != nil {
		return nil, e.classify(ctx, queryCtx, d, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, e.classify(ctx, queryCtx, d, err)
	}

	preview := &database.ResultPreview{Columns: cols, Rows: [][]any{}}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(preview.Rows) >= e.RowLimit {
			// the cap is hit and at least one more row exists
			preview.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.classify(ctx, queryCtx, d, err)
		}
		row := make([]any, len(cols))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		preview.Rows = append(preview.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.classify(ctx, queryCtx, d, err)
	}
	preview.TotalRows = int64(len(preview.Rows))
	return preview, nil
}

// Count wraps the statement in the dialect's COUNT(*) form and returns the
// full cardinality, for pagination metadata.
func (e *Executor) Count(ctx context.Context, db *sql.DB, d dbpool.Dialect, sqlText string, args []any) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var total int64
	if err := db.QueryRowContext(queryCtx, d.CountWrapper(sqlText), args...).Scan(&total); err != nil {
		return 0, e.classify(ctx, queryCtx, d, err)
	}
	return total, nil
}

// classify maps a driver failure onto a pipeline error kind, giving the
// caller's cancellation precedence over the per-statement deadline.
func (e *Executor) classify(ctx, queryCtx context.Context, d dbpool.Dialect, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return Fail("execute", KindCancelled, err)
	case errors.Is(queryCtx.Err(), context.DeadlineExceeded):
		return Fail("execute", KindQueryTimeout, err)
	}
	return Fail("execute", kindFromErrClass(d.ClassifyError(err)), err)
}
