package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KnowledgeService manages the four curated knowledge tables feeding
// retrieval: terms, examples, prompts and articles.
type KnowledgeService struct {
	db   *sql.DB
	hook func()
}

// NewKnowledgeService creates a new knowledge service
func NewKnowledgeService(db *sql.DB) *KnowledgeService {
	return &KnowledgeService{db: db}
}

// SetChangeHook registers a callback invoked after any successful write, so
// in-memory retrieval indexes can refresh.
func (s *KnowledgeService) SetChangeHook(hook func()) {
	s.hook = hook
}

func (s *KnowledgeService) changed() {
	if s.hook != nil {
		s.hook()
	}
}

// ---- terms ----

// CreateTerm stores a business phrase to column mapping.
func (s *KnowledgeService) CreateTerm(t Term) (*Term, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(t.Phrase) == "" || strings.TrimSpace(t.FieldName) == "" {
		return nil, fmt.Errorf("phrase and field name are required")
	}

	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO terms (id, phrase, field_name, table_scope, category, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Phrase, t.FieldName, t.TableScope, t.Category, nullableBlob(t.Embedding), t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create term: %w", err)
	}
	s.changed()
	return &t, nil
}

// UpdateTerm rewrites a term. The embedding is cleared so it can be
// recomputed for the new phrase.
func (s *KnowledgeService) UpdateTerm(id string, t Term) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(t.Phrase) == "" || strings.TrimSpace(t.FieldName) == "" {
		return fmt.Errorf("phrase and field name are required")
	}

	res, err := s.db.Exec(`
		UPDATE terms SET phrase = ?, field_name = ?, table_scope = ?, category = ?, embedding = NULL
		WHERE id = ?`,
		t.Phrase, t.FieldName, t.TableScope, t.Category, id)
	if err != nil {
		return fmt.Errorf("failed to update term: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.changed()
	return nil
}

// DeleteTerm removes a term.
func (s *KnowledgeService) DeleteTerm(id string) error {
	return s.deleteFrom("terms", id)
}

// AllTerms loads every term for indexing.
func (s *KnowledgeService) AllTerms() ([]Term, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := s.db.Query("SELECT id, phrase, field_name, table_scope, category, embedding, created_at FROM terms ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to load terms: %w", err)
	}
	defer rows.Close()

	list := []Term{}
	for rows.Next() {
		var t Term
		var emb []byte
		if err := rows.Scan(&t.ID, &t.Phrase, &t.FieldName, &t.TableScope, &t.Category, &emb, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan term: %w", err)
		}
		t.Embedding = emb
		list = append(list, t)
	}
	return list, rows.Err()
}

// SetTermEmbedding stores the vector for a term.
func (s *KnowledgeService) SetTermEmbedding(id string, embedding []byte) error {
	return s.setEmbedding("terms", id, embedding)
}

// ---- examples ----

// CreateExample stores a curated question and its known-good SQL.
func (s *KnowledgeService) CreateExample(e Example) (*Example, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.SQL) == "" {
		return nil, fmt.Errorf("question and sql are required")
	}

	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO examples (id, question, sql_text, dialect, hint_table, chart_kind, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Question, e.SQL, e.Dialect, e.HintTable, e.ChartKind, nullableBlob(e.Embedding), e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create example: %w", err)
	}
	s.changed()
	return &e, nil
}

// UpdateExample rewrites an example and clears its embedding.
func (s *KnowledgeService) UpdateExample(id string, e Example) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.SQL) == "" {
		return fmt.Errorf("question and sql are required")
	}

	res, err := s.db.Exec(`
		UPDATE examples SET question = ?, sql_text = ?, dialect = ?, hint_table = ?, chart_kind = ?, embedding = NULL
		WHERE id = ?`,
		e.Question, e.SQL, e.Dialect, e.HintTable, e.ChartKind, id)
	if err != nil {
		return fmt.Errorf("failed to update example: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.changed()
	return nil
}

// DeleteExample removes an example.
func (s *KnowledgeService) DeleteExample(id string) error {
	return s.deleteFrom("examples", id)
}

// AllExamples loads every example for indexing.
func (s *KnowledgeService) AllExamples() ([]Example, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := s.db.Query("SELECT id, question, sql_text, dialect, hint_table, chart_kind, embedding, created_at FROM examples ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to load examples: %w", err)
	}
	defer rows.Close()

	list := []Example{}
	for rows.Next() {
		var e Example
		var emb []byte
		if err := rows.Scan(&e.ID, &e.Question, &e.SQL, &e.Dialect, &e.HintTable, &e.ChartKind, &emb, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan example: %w", err)
		}
		e.Embedding = emb
		list = append(list, e)
	}
	return list, rows.Err()
}

// SetExampleEmbedding stores the vector for an example.
func (s *KnowledgeService) SetExampleEmbedding(id string, embedding []byte) error {
	return s.setEmbedding("examples", id, embedding)
}

// ---- prompts ----

// CreatePrompt stores a reusable instruction block.
func (s *KnowledgeService) CreatePrompt(p Prompt) (*Prompt, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("name and content are required")
	}

	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO prompts (id, name, content, kind, priority, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Content, p.Kind, p.Priority, boolToInt(p.Active), p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}
	s.changed()
	return &p, nil
}

// UpdatePrompt rewrites a prompt.
func (s *KnowledgeService) UpdatePrompt(id string, p Prompt) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("name and content are required")
	}

	res, err := s.db.Exec(`
		UPDATE prompts SET name = ?, content = ?, kind = ?, priority = ?, active = ?
		WHERE id = ?`,
		p.Name, p.Content, p.Kind, p.Priority, boolToInt(p.Active), id)
	if err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.changed()
	return nil
}

// DeletePrompt removes a prompt.
func (s *KnowledgeService) DeletePrompt(id string) error {
	return s.deleteFrom("prompts", id)
}

// ListPrompts loads every prompt, highest priority first.
func (s *KnowledgeService) ListPrompts() ([]Prompt, error) {
	return s.loadPrompts("")
}

// ActivePrompts loads the prompts injected into the system section, highest
// priority first.
func (s *KnowledgeService) ActivePrompts() ([]Prompt, error) {
	return s.loadPrompts("WHERE active = 1")
}

func (s *KnowledgeService) loadPrompts(cond string) ([]Prompt, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := s.db.Query("SELECT id, name, content, kind, priority, active, created_at FROM prompts " + cond + " ORDER BY priority DESC, created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	defer rows.Close()

	list := []Prompt{}
	for rows.Next() {
		var p Prompt
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &p.Kind, &p.Priority, &active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		p.Active = active != 0
		list = append(list, p)
	}
	return list, rows.Err()
}

// ---- articles ----

// CreateArticle stores a background document.
func (s *KnowledgeService) CreateArticle(a Article) (*Article, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Body) == "" {
		return nil, fmt.Errorf("title and body are required")
	}

	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO articles (id, title, body, category, tags, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Body, a.Category, a.Tags, nullableBlob(a.Embedding), a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create article: %w", err)
	}
	s.changed()
	return &a, nil
}

// UpdateArticle rewrites an article and clears its embedding.
func (s *KnowledgeService) UpdateArticle(id string, a Article) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Body) == "" {
		return fmt.Errorf("title and body are required")
	}

	res, err := s.db.Exec(`
		UPDATE articles SET title = ?, body = ?, category = ?, tags = ?, embedding = NULL
		WHERE id = ?`,
		a.Title, a.Body, a.Category, a.Tags, id)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.changed()
	return nil
}

// DeleteArticle removes an article.
func (s *KnowledgeService) DeleteArticle(id string) error {
	return s.deleteFrom("articles", id)
}

// AllArticles loads every article for indexing.
func (s *KnowledgeService) AllArticles() ([]Article, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := s.db.Query("SELECT id, title, body, category, tags, embedding, created_at FROM articles ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}
	defer rows.Close()

	list := []Article{}
	for rows.Next() {
		var a Article
		var emb []byte
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.Category, &a.Tags, &emb, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.Embedding = emb
		list = append(list, a)
	}
	return list, rows.Err()
}

// SetArticleEmbedding stores the vector for an article.
func (s *KnowledgeService) SetArticleEmbedding(id string, embedding []byte) error {
	return s.setEmbedding("articles", id, embedding)
}

// ---- shared helpers ----

var knowledgeTables = map[string]bool{
	"terms":    true,
	"examples": true,
	"prompts":  true,
	"articles": true,
}

func (s *KnowledgeService) deleteFrom(table, id string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if !knowledgeTables[table] {
		return fmt.Errorf("unknown knowledge table: %s", table)
	}

	res, err := s.db.Exec("DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.changed()
	return nil
}

func (s *KnowledgeService) setEmbedding(table, id string, embedding []byte) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if !knowledgeTables[table] {
		return fmt.Errorf("unknown knowledge table: %s", table)
	}

	res, err := s.db.Exec("UPDATE "+table+" SET embedding = ? WHERE id = ?", nullableBlob(embedding), id)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
