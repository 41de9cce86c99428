package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionService manages chat sessions
type SessionService struct {
	db *sql.DB
}

// NewSessionService creates a new session service
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db}
}

// SessionFilter narrows List results. Zero values mean no filtering.
type SessionFilter struct {
	Keyword      string // substring match on title
	DataSourceID string
	From         int64 // created_at lower bound, inclusive
	To           int64 // created_at upper bound, inclusive
	Page         int
	PageSize     int
}

// Create starts a new session bound to a data source and a fixed table
// selection. Titles are made unique per user by appending a counter.
func (s *SessionService) Create(userID, title, dataSourceID string, selectedTables []string) (*Session, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if dataSourceID == "" {
		return nil, fmt.Errorf("data source ID is required")
	}
	if strings.TrimSpace(title) == "" {
		title = "新对话"
	}

	uniqueTitle, err := s.uniqueTitle(userID, title, "")
	if err != nil {
		return nil, err
	}

	if selectedTables == nil {
		selectedTables = []string{}
	}
	tablesJSON, err := json.Marshal(selectedTables)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize selected tables: %w", err)
	}

	now := time.Now().UnixMilli()
	session := &Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Title:          uniqueTitle,
		DataSourceID:   dataSourceID,
		SelectedTables: selectedTables,
		Status:         "active",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, title, data_source_id, selected_tables, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Title, session.DataSourceID, string(tablesJSON), session.Status, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Get loads a session by ID.
func (s *SessionService) Get(id string) (*Session, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	row := s.db.QueryRow(`
		SELECT id, user_id, title, data_source_id, selected_tables, status, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// List returns the user's sessions newest first, with the total count before
// pagination.
func (s *SessionService) List(userID string, f SessionFilter) ([]Session, int, error) {
	if s.db == nil {
		return nil, 0, fmt.Errorf("database connection is nil")
	}

	where := []string{"user_id = ?"}
	args := []any{userID}
	if f.Keyword != "" {
		where = append(where, "title LIKE ?")
		args = append(args, "%"+f.Keyword+"%")
	}
	if f.DataSourceID != "" {
		where = append(where, "data_source_id = ?")
		args = append(args, f.DataSourceID)
	}
	if f.From > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, f.From)
	}
	if f.To > 0 {
		where = append(where, "created_at <= ?")
		args = append(args, f.To)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := "SELECT id, user_id, title, data_source_id, selected_tables, status, created_at, updated_at FROM sessions WHERE " + cond + " ORDER BY updated_at DESC"
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.PageSize, (page-1)*f.PageSize)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, total, rows.Err()
}

// Rename changes a session's title, keeping titles unique per user.
// Returns the title actually stored.
func (s *SessionService) Rename(id, title string) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("title is required")
	}

	session, err := s.Get(id)
	if err != nil {
		return "", err
	}

	uniqueTitle, err := s.uniqueTitle(session.UserID, title, id)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec("UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?", uniqueTitle, time.Now().UnixMilli(), id)
	if err != nil {
		return "", fmt.Errorf("failed to rename session: %w", err)
	}
	return uniqueTitle, nil
}

// Archive marks a session read-only. Archived sessions reject new turns.
func (s *SessionService) Archive(id string) error {
	return s.setStatus(id, "archived")
}

// Unarchive re-opens an archived session.
func (s *SessionService) Unarchive(id string) error {
	return s.setStatus(id, "active")
}

func (s *SessionService) setStatus(id, status string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	res, err := s.db.Exec("UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?", status, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session and all of its messages.
func (s *SessionService) Delete(id string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}

// Touch bumps a session's updated_at so recent activity sorts first.
func (s *SessionService) Touch(id string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	_, err := s.db.Exec("UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now().UnixMilli(), id)
	return err
}

func (s *SessionService) uniqueTitle(userID, title, excludeID string) (string, error) {
	rows, err := s.db.Query("SELECT title FROM sessions WHERE user_id = ? AND id != ?", userID, excludeID)
	if err != nil {
		return "", fmt.Errorf("failed to check existing titles: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return "", err
		}
		existing[t] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	newTitle := title
	counter := 1
	for existing[newTitle] {
		newTitle = fmt.Sprintf("%s (%d)", title, counter)
		counter++
	}
	return newTitle, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var tablesJSON string
	err := row.Scan(&session.ID, &session.UserID, &session.Title, &session.DataSourceID, &tablesJSON, &session.Status, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tablesJSON != "" {
		if err := json.Unmarshal([]byte(tablesJSON), &session.SelectedTables); err != nil {
			return nil, fmt.Errorf("failed to parse selected tables: %w", err)
		}
	}
	if session.SelectedTables == nil {
		session.SelectedTables = []string{}
	}
	return &session, nil
}
