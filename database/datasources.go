package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"datachat/secrets"
)

// DataSourceService manages registered analytical databases. Passwords are
// enciphered before they reach disk and are never handed back out.
type DataSourceService struct {
	db     *sql.DB
	cipher *secrets.Cipher
}

// NewDataSourceService creates a new data source service
func NewDataSourceService(db *sql.DB, cipher *secrets.Cipher) *DataSourceService {
	return &DataSourceService{db: db, cipher: cipher}
}

// EncipherPassword enciphers a plaintext password with the service's cipher,
// for callers that need a throwaway ConnConfig without storing a source.
func (s *DataSourceService) EncipherPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return s.cipher.Encrypt(plaintext)
}

// DataSourceInput carries the writable fields of a data source. Password is
// plaintext on the way in only; an empty password on update keeps the stored one.
type DataSourceInput struct {
	Name     string            `json:"name"`
	Dialect  string            `json:"dialect"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Database string            `json:"database"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Charset  string            `json:"charset"`
	Params   map[string]string `json:"params"`
}

const datasourceColumns = `id, name, dialect, host, port, database_name, username, password_cipher,
	charset, params, active, created_at, updated_at`

// Create registers a data source, enciphering the password.
func (s *DataSourceService) Create(in DataSourceInput) (*DataSource, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if err := validateDataSourceInput(in); err != nil {
		return nil, err
	}

	cipherText := ""
	if in.Password != "" {
		var err error
		cipherText, err = s.cipher.Encrypt(in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to encipher password: %w", err)
		}
	}

	paramsJSON, err := marshalParams(in.Params)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	ds := &DataSource{
		ID:             uuid.New().String(),
		Name:           in.Name,
		Dialect:        in.Dialect,
		Host:           in.Host,
		Port:           in.Port,
		Database:       in.Database,
		Username:       in.Username,
		PasswordCipher: cipherText,
		Charset:        in.Charset,
		Params:         in.Params,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = s.db.Exec(`
		INSERT INTO datasources (`+datasourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Dialect, ds.Host, ds.Port, ds.Database, ds.Username, ds.PasswordCipher,
		ds.Charset, paramsJSON, 1, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}
	return ds, nil
}

// Get loads a data source by ID.
func (s *DataSourceService) Get(id string) (*DataSource, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	row := s.db.QueryRow("SELECT "+datasourceColumns+" FROM datasources WHERE id = ?", id)
	ds, err := scanDataSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", err)
	}
	return ds, nil
}

// List returns all data sources, newest first.
func (s *DataSourceService) List() ([]DataSource, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := s.db.Query("SELECT " + datasourceColumns + " FROM datasources ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	list := []DataSource{}
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		list = append(list, *ds)
	}
	return list, rows.Err()
}

// Update rewrites a data source. Returns true when a connection-relevant
// field changed, so the caller can drop any pooled connections.
func (s *DataSourceService) Update(id string, in DataSourceInput) (*DataSource, bool, error) {
	if s.db == nil {
		return nil, false, fmt.Errorf("database connection is nil")
	}
	if err := validateDataSourceInput(in); err != nil {
		return nil, false, err
	}

	existing, err := s.Get(id)
	if err != nil {
		return nil, false, err
	}

	cipherText := existing.PasswordCipher
	if in.Password != "" {
		cipherText, err = s.cipher.Encrypt(in.Password)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encipher password: %w", err)
		}
	}

	connChanged := in.Password != "" ||
		existing.Dialect != in.Dialect ||
		existing.Host != in.Host ||
		existing.Port != in.Port ||
		existing.Database != in.Database ||
		existing.Username != in.Username ||
		existing.Charset != in.Charset ||
		!equalParams(existing.Params, in.Params)

	paramsJSON, err := marshalParams(in.Params)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UnixMilli()
	_, err = s.db.Exec(`
		UPDATE datasources
		SET name = ?, dialect = ?, host = ?, port = ?, database_name = ?, username = ?,
			password_cipher = ?, charset = ?, params = ?, updated_at = ?
		WHERE id = ?`,
		in.Name, in.Dialect, in.Host, in.Port, in.Database, in.Username,
		cipherText, in.Charset, paramsJSON, now, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update data source: %w", err)
	}

	updated := *existing
	updated.Name = in.Name
	updated.Dialect = in.Dialect
	updated.Host = in.Host
	updated.Port = in.Port
	updated.Database = in.Database
	updated.Username = in.Username
	updated.PasswordCipher = cipherText
	updated.Charset = in.Charset
	updated.Params = in.Params
	updated.UpdatedAt = now
	return &updated, connChanged, nil
}

// Delete removes a data source. Fails with ErrInUse while sessions still
// reference it.
func (s *DataSourceService) Delete(id string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var referenced int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sessions WHERE data_source_id = ?", id).Scan(&referenced); err != nil {
		return fmt.Errorf("failed to check references: %w", err)
	}
	if referenced > 0 {
		return ErrInUse
	}

	res, err := tx.Exec("DELETE FROM datasources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func validateDataSourceInput(in DataSourceInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("data source name is required")
	}
	if strings.TrimSpace(in.Dialect) == "" {
		return fmt.Errorf("dialect is required")
	}
	return nil
}

func marshalParams(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to serialize params: %w", err)
	}
	return string(data), nil
}

func equalParams(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func scanDataSource(row rowScanner) (*DataSource, error) {
	var ds DataSource
	var paramsJSON string
	var active int
	err := row.Scan(&ds.ID, &ds.Name, &ds.Dialect, &ds.Host, &ds.Port, &ds.Database, &ds.Username, &ds.PasswordCipher,
		&ds.Charset, &paramsJSON, &active, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ds.Active = active != 0
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &ds.Params); err != nil {
			return nil, fmt.Errorf("failed to parse params: %w", err)
		}
	}
	return &ds, nil
}
