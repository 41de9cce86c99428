package dbpool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	go_ora "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"
)

// Canonical dialect names. Stored on data sources and used for adapter lookup.
const (
	DialectMySQL     = "mysql"
	DialectPostgres  = "postgres"
	DialectSQLite    = "sqlite"
	DialectSQLServer = "sqlserver"
	DialectOracle    = "oracle"
)

// ErrClass is the dialect-neutral classification of an execution error.
type ErrClass int

const (
	ClassOther ErrClass = iota
	ClassSyntax
	ClassPermission
	ClassUnknownIdent
	ClassTimeout
	ClassConnLost
)

// ConnConfig describes how to reach one data source. PasswordCipher holds
// the enciphered password; it is deciphered just in time inside this package
// and the clear form never leaves it.
type ConnConfig struct {
	Dialect        string
	Host           string
	Port           int
	Database       string // file path for sqlite, service name for oracle
	Username       string
	PasswordCipher string
	Charset        string
	Params         map[string]string
}

// Dialect provides the engine-specific SQL fragments and error knowledge so
// callers never branch on the engine themselves.
type Dialect interface {
	Name() string
	DriverName() string
	DSN(cfg ConnConfig, password string) string

	// QuoteIdent returns a properly quoted identifier; embedded quote
	// characters are escaped by doubling.
	QuoteIdent(name string) string
	// ParamForm returns the placeholder for the i-th bound parameter (1-based).
	ParamForm(i int) string
	// WrapPagination appends the dialect-correct pagination clause.
	WrapPagination(sqlText string, offset, limit int) string
	// CountWrapper turns an arbitrary SELECT into a single-column COUNT(*).
	CountWrapper(sqlText string) string
	// TablesQuery lists user tables as (name, comment) rows.
	TablesQuery() (string, []any)
	// ColumnsQuery lists a table's columns as (name, type, nullable, comment)
	// rows in ordinal order.
	ColumnsQuery(table string) (string, []any)
	// ClassifyError maps a driver error onto the shared error classes.
	ClassifyError(err error) ErrClass
}

var dialects = map[string]Dialect{
	DialectMySQL:     mysqlDialect{},
	DialectPostgres:  postgresDialect{},
	DialectSQLite:    sqliteDialect{},
	DialectSQLServer: sqlserverDialect{},
	DialectOracle:    oracleDialect{},
}

// Lookup returns the Dialect for name, accepting the common aliases
// ("postgresql", "pg", "mssql").
func Lookup(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "postgresql", "pg":
		key = DialectPostgres
	case "mssql", "sql server":
		key = DialectSQLServer
	case "sqlite3":
		key = DialectSQLite
	}
	d, ok := dialects[key]
	if !ok {
		return nil, fmt.Errorf("dbpool: unsupported dialect %q", name)
	}
	return d, nil
}

// Names returns the canonical dialect names, for input validation.
func Names() []string {
	return []string{DialectMySQL, DialectPostgres, DialectSQLite, DialectSQLServer, DialectOracle}
}

// classifyCommon handles the failure shapes every driver produces the same
// way: deadline, cancellation, and dead connections.
func classifyCommon(err error) (ErrClass, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout, true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ClassConnLost, true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "invalid connection", "bad connection", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return ClassConnLost, true
		}
	}
	return ClassOther, false
}

// ---- MySQL ----

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return DialectMySQL }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) DSN(cfg ConnConfig, password string) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Params = map[string]string{}
	if cfg.Charset != "" {
		mc.Params["charset"] = cfg.Charset
	}
	for k, v := range cfg.Params {
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

func (mysqlDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) ParamForm(int) string { return "?" }

func (mysqlDialect) WrapPagination(sqlText string, offset, limit int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", sqlText, limit, offset)
}

func (mysqlDialect) CountWrapper(sqlText string) string {
	return "SELECT COUNT(*) FROM (" + sqlText + ") t"
}

func (mysqlDialect) TablesQuery() (string, []any) {
	return "SELECT TABLE_NAME, IFNULL(TABLE_COMMENT, '') FROM information_schema.TABLES " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME", nil
}

func (mysqlDialect) ColumnsQuery(table string) (string, []any) {
	return "SELECT COLUMN_NAME, COLUMN_TYPE, IF(IS_NULLABLE = 'YES', 1, 0), IFNULL(COLUMN_COMMENT, '') " +
		"FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? " +
		"ORDER BY ORDINAL_POSITION", []any{table}
}

func (mysqlDialect) ClassifyError(err error) ErrClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1064, 1065:
			return ClassSyntax
		case 1044, 1045, 1142, 1143, 1227, 1370:
			return ClassPermission
		case 1054, 1109, 1146:
			return ClassUnknownIdent
		case 1205, 3024:
			return ClassTimeout
		case 2006, 2013:
			return ClassConnLost
		}
	}
	return ClassOther
}

// ---- PostgreSQL ----

type postgresDialect struct{}

func (postgresDialect) Name() string       { return DialectPostgres }
func (postgresDialect) DriverName() string { return "postgres" }

func (postgresDialect) DSN(cfg ConnConfig, password string) string {
	q := url.Values{}
	if _, ok := cfg.Params["sslmode"]; !ok {
		q.Set("sslmode", "disable")
	}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	if cfg.Charset != "" {
		q.Set("client_encoding", cfg.Charset)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (postgresDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgresDialect) ParamForm(i int) string { return fmt.Sprintf("$%d", i) }

func (postgresDialect) WrapPagination(sqlText string, offset, limit int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", sqlText, limit, offset)
}

func (postgresDialect) CountWrapper(sqlText string) string {
	return "SELECT COUNT(*) FROM (" + sqlText + ") t"
}

func (postgresDialect) TablesQuery() (string, []any) {
	return "SELECT t.table_name, COALESCE(pd.description, '') " +
		"FROM information_schema.tables t " +
		"LEFT JOIN pg_catalog.pg_class pc ON pc.relname = t.table_name AND pc.relkind = 'r' " +
		"LEFT JOIN pg_catalog.pg_description pd ON pd.objoid = pc.oid AND pd.objsubid = 0 " +
		"WHERE t.table_schema = 'public' AND t.table_type = 'BASE TABLE' ORDER BY t.table_name", nil
}

func (postgresDialect) ColumnsQuery(table string) (string, []any) {
	return "SELECT c.column_name, c.data_type, CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END, " +
		"COALESCE(pd.description, '') " +
		"FROM information_schema.columns c " +
		"LEFT JOIN pg_catalog.pg_class pc ON pc.relname = c.table_name AND pc.relkind = 'r' " +
		"LEFT JOIN pg_catalog.pg_description pd ON pd.objoid = pc.oid AND pd.objsubid = c.ordinal_position " +
		"WHERE c.table_schema = 'public' AND c.table_name = $1 ORDER BY c.ordinal_position", []any{table}
}

func (postgresDialect) ClassifyError(err error) ErrClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch {
		case pe.Code == "42601":
			return ClassSyntax
		case pe.Code == "42501" || pe.Code.Class() == "28":
			return ClassPermission
		case pe.Code == "42703" || pe.Code == "42P01" || pe.Code == "42883":
			return ClassUnknownIdent
		case pe.Code == "57014":
			return ClassTimeout
		case pe.Code.Class() == "08":
			return ClassConnLost
		}
	}
	return ClassOther
}

// ---- SQLite ----

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return DialectSQLite }
func (sqliteDialect) DriverName() string { return "sqlite" }

// DSN for sqlite is the database file path; host/credentials do not apply.
func (sqliteDialect) DSN(cfg ConnConfig, _ string) string {
	return cfg.Database
}

func (sqliteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqliteDialect) ParamForm(int) string { return "?" }

func (sqliteDialect) WrapPagination(sqlText string, offset, limit int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", sqlText, limit, offset)
}

func (sqliteDialect) CountWrapper(sqlText string) string {
	return "SELECT COUNT(*) FROM (" + sqlText + ") t"
}

func (sqliteDialect) TablesQuery() (string, []any) {
	return "SELECT name, '' FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name", nil
}

func (sqliteDialect) ColumnsQuery(table string) (string, []any) {
	return "SELECT name, type, CASE WHEN \"notnull\" = 0 THEN 1 ELSE 0 END, '' " +
		"FROM pragma_table_info(?) ORDER BY cid", []any{table}
}

func (sqliteDialect) ClassifyError(err error) ErrClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"):
		return ClassSyntax
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"), strings.Contains(msg, "no such function"):
		return ClassUnknownIdent
	case strings.Contains(msg, "interrupted"):
		return ClassTimeout
	case strings.Contains(msg, "readonly database"), strings.Contains(msg, "attempt to write"):
		return ClassPermission
	}
	return ClassOther
}

// ---- SQL Server ----

type sqlserverDialect struct{}

func (sqlserverDialect) Name() string       { return DialectSQLServer }
func (sqlserverDialect) DriverName() string { return "sqlserver" }

func (sqlserverDialect) DSN(cfg ConnConfig, password string) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (sqlserverDialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (sqlserverDialect) ParamForm(i int) string { return fmt.Sprintf("@p%d", i) }

func (sqlserverDialect) WrapPagination(sqlText string, offset, limit int) string {
	return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", sqlText, offset, limit)
}

func (sqlserverDialect) CountWrapper(sqlText string) string {
	return "SELECT COUNT(*) FROM (" + sqlText + ") t"
}

func (sqlserverDialect) TablesQuery() (string, []any) {
	return "SELECT t.name, ISNULL(CAST(ep.value AS NVARCHAR(4000)), '') " +
		"FROM sys.tables t " +
		"LEFT JOIN sys.extended_properties ep ON ep.major_id = t.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description' " +
		"ORDER BY t.name", nil
}

func (sqlserverDialect) ColumnsQuery(table string) (string, []any) {
	return "SELECT c.name, ty.name, CAST(c.is_nullable AS INT), ISNULL(CAST(ep.value AS NVARCHAR(4000)), '') " +
		"FROM sys.columns c " +
		"JOIN sys.tables t ON t.object_id = c.object_id " +
		"JOIN sys.types ty ON ty.user_type_id = c.user_type_id " +
		"LEFT JOIN sys.extended_properties ep ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = 'MS_Description' " +
		"WHERE t.name = @p1 ORDER BY c.column_id", []any{table}
}

func (sqlserverDialect) ClassifyError(err error) ErrClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	var se mssql.Error
	if errors.As(err, &se) {
		switch se.Number {
		case 102, 105, 156:
			return ClassSyntax
		case 229, 230, 262, 297, 18456:
			return ClassPermission
		case 207, 208, 4104:
			return ClassUnknownIdent
		case 1222:
			return ClassTimeout
		}
	}
	return ClassOther
}

// ---- Oracle ----

type oracleDialect struct{}

func (oracleDialect) Name() string       { return DialectOracle }
func (oracleDialect) DriverName() string { return "oracle" }

func (oracleDialect) DSN(cfg ConnConfig, password string) string {
	opts := map[string]string{}
	for k, v := range cfg.Params {
		opts[k] = v
	}
	return go_ora.BuildUrl(cfg.Host, cfg.Port, cfg.Database, cfg.Username, password, opts)
}

func (oracleDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (oracleDialect) ParamForm(i int) string { return fmt.Sprintf(":p%d", i) }

func (oracleDialect) WrapPagination(sqlText string, offset, limit int) string {
	return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", sqlText, offset, limit)
}

func (oracleDialect) CountWrapper(sqlText string) string {
	return "SELECT COUNT(*) FROM (" + sqlText + ") t"
}

func (oracleDialect) TablesQuery() (string, []any) {
	return "SELECT t.table_name, NVL(c.comments, '') FROM user_tables t " +
		"LEFT JOIN user_tab_comments c ON c.table_name = t.table_name ORDER BY t.table_name", nil
}

func (oracleDialect) ColumnsQuery(table string) (string, []any) {
	return "SELECT c.column_name, c.data_type, CASE c.nullable WHEN 'Y' THEN 1 ELSE 0 END, NVL(cc.comments, '') " +
		"FROM user_tab_columns c " +
		"LEFT JOIN user_col_comments cc ON cc.table_name = c.table_name AND cc.column_name = c.column_name " +
		"WHERE c.table_name = UPPER(:1) ORDER BY c.column_id", []any{table}
}

func (oracleDialect) ClassifyError(err error) ErrClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	msg := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(msg, "ORA-00900"), strings.Contains(msg, "ORA-00933"), strings.Contains(msg, "ORA-00936"), strings.Contains(msg, "ORA-00907"):
		return ClassSyntax
	case strings.Contains(msg, "ORA-01031"), strings.Contains(msg, "ORA-01017"):
		return ClassPermission
	case strings.Contains(msg, "ORA-00904"), strings.Contains(msg, "ORA-00942"):
		return ClassUnknownIdent
	case strings.Contains(msg, "ORA-01013"):
		return ClassTimeout
	case strings.Contains(msg, "ORA-03113"), strings.Contains(msg, "ORA-03114"), strings.Contains(msg, "ORA-12170"):
		return ClassConnLost
	}
	return ClassOther
}
