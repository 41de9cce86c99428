package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageService manages the append-only message log
type MessageService struct {
	db *sql.DB
}

// NewMessageService creates a new message service
func NewMessageService(db *sql.DB) *MessageService {
	return &MessageService{db: db}
}

const messageColumns = `id, session_id, role, content, sql_text, result_preview, chart_config, chart_kind,
	error_text, tokens_used, latency_seconds, recommended_questions, contains_complex_sql, created_at`

// Append inserts a message and bumps the session's updated_at. The session
// must exist and be active. Assigns ID and CreatedAt when unset.
func (s *MessageService) Append(msg *Message) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if msg.Role != "user" && msg.Role != "assistant" {
		return fmt.Errorf("invalid message role: %s", msg.Role)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}

	resultJSON, err := marshalBag(msg.Result)
	if err != nil {
		return fmt.Errorf("failed to serialize result preview: %w", err)
	}
	chartJSON, err := marshalBag(msg.ChartConfig)
	if err != nil {
		return fmt.Errorf("failed to serialize chart config: %w", err)
	}
	questionsJSON, err := marshalBag(msg.RecommendedQuestions)
	if err != nil {
		return fmt.Errorf("failed to serialize recommended questions: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow("SELECT status FROM sessions WHERE id = ?", msg.SessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if status == "archived" {
		return ErrSessionArchived
	}

	complex := 0
	if msg.ContainsComplexSQL {
		complex = 1
	}

	_, err = tx.Exec(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.SQL, resultJSON, chartJSON, msg.ChartKind,
		msg.ErrorText, msg.TokensUsed, msg.LatencySeconds, questionsJSON, complex, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.Exec("UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now().UnixMilli(), msg.SessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return tx.Commit()
}

// Get loads a message by ID.
func (s *MessageService) Get(id string) (*Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	row := s.db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

// List returns a session's messages in chronological order with the total
// count before pagination.
func (s *MessageService) List(sessionID string, page, pageSize int) ([]Message, int, error) {
	if s.db == nil {
		return nil, 0, fmt.Errorf("database connection is nil")
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := "SELECT " + messageColumns + " FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC"
	args := []any{sessionID}
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, pageSize, (page-1)*pageSize)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, total, rows.Err()
}

// Recent returns the newest messages for a session in chronological order,
// capped at limit. Used to build conversation history for the prompt.
func (s *MessageService) Recent(sessionID string, limit int) ([]Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if limit <= 0 {
		return []Message{}, nil
	}

	rows, err := s.db.Query(
		"SELECT "+messageColumns+" FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse newest-first into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpdateChartKind changes the rendering hint on a message. This is the only
// mutable message field.
func (s *MessageService) UpdateChartKind(id, kind string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var chartJSON string
	err = tx.QueryRow("SELECT chart_config FROM messages WHERE id = ?", id).Scan(&chartJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	// keep the stored chart config consistent with the new kind
	if chartJSON != "" {
		var cfg ChartConfig
		if err := json.Unmarshal([]byte(chartJSON), &cfg); err == nil {
			cfg.Kind = kind
			if updated, err := json.Marshal(cfg); err == nil {
				chartJSON = string(updated)
			}
		}
	}

	if _, err := tx.Exec("UPDATE messages SET chart_kind = ?, chart_config = ? WHERE id = ?", kind, chartJSON, id); err != nil {
		return fmt.Errorf("failed to update chart kind: %w", err)
	}

	return tx.Commit()
}

func marshalBag(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case *ResultPreview:
		if val == nil {
			return "", nil
		}
	case *ChartConfig:
		if val == nil {
			return "", nil
		}
	case []string:
		if len(val) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var resultJSON, chartJSON, questionsJSON string
	var complex int
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.SQL, &resultJSON, &chartJSON, &msg.ChartKind,
		&msg.ErrorText, &msg.TokensUsed, &msg.LatencySeconds, &questionsJSON, &complex, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.ContainsComplexSQL = complex != 0

	if resultJSON != "" {
		var preview ResultPreview
		if err := json.Unmarshal([]byte(resultJSON), &preview); err != nil {
			return nil, fmt.Errorf("failed to parse result preview: %w", err)
		}
		msg.Result = &preview
	}
	if chartJSON != "" {
		var cfg ChartConfig
		if err := json.Unmarshal([]byte(chartJSON), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse chart config: %w", err)
		}
		msg.ChartConfig = &cfg
	}
	if questionsJSON != "" {
		if err := json.Unmarshal([]byte(questionsJSON), &msg.RecommendedQuestions); err != nil {
			return nil, fmt.Errorf("failed to parse recommended questions: %w", err)
		}
	}
	return &msg, nil
}
