package database

// Session is one chat thread bound to a data source. The binding and the
// selected tables are fixed at creation time.
type Session struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Title          string   `json:"title"`
	DataSourceID   string   `json:"data_source_id"`
	SelectedTables []string `json:"selected_tables"`
	Status         string   `json:"status"` // active | archived
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

// Message is one user or assistant entry in a session. Rows are append-only;
// only the chart kind may change after insert.
type Message struct {
	ID                   string         `json:"id"`
	SessionID            string         `json:"session_id"`
	Role                 string         `json:"role"` // user | assistant
	Content              string         `json:"content"`
	SQL                  string         `json:"sql,omitempty"`
	Result               *ResultPreview `json:"result,omitempty"`
	ChartConfig          *ChartConfig   `json:"chart_config,omitempty"`
	ChartKind            string         `json:"chart_kind,omitempty"`
	ErrorText            string         `json:"error_text,omitempty"`
	TokensUsed           int            `json:"tokens_used,omitempty"`
	LatencySeconds       float64        `json:"latency_seconds,omitempty"`
	RecommendedQuestions []string       `json:"recommended_questions,omitempty"`
	ContainsComplexSQL   bool           `json:"contains_complex_sql,omitempty"`
	CreatedAt            int64          `json:"created_at"`
}

// ResultPreview is the capped query result stored with an assistant message.
type ResultPreview struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows int64    `json:"total_rows"`
	Truncated bool     `json:"truncated"`
}

// ChartConfig tells the frontend how to render a result set.
type ChartConfig struct {
	Kind    string        `json:"kind"`
	Title   string        `json:"title,omitempty"`
	XFields []string      `json:"x_fields,omitempty"`
	Series  []ChartSeries `json:"series,omitempty"`
	Columns []string      `json:"columns,omitempty"`
}

// ChartSeries is one y-axis measure: its display name and the result column
// it reads.
type ChartSeries struct {
	Name   string `json:"name"`
	Column string `json:"column"`
}

// DataSource is a registered analytical database. The password is held only
// in enciphered form and is never serialized.
type DataSource struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Dialect        string            `json:"dialect"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Database       string            `json:"database"`
	Username       string            `json:"username"`
	PasswordCipher string            `json:"-"`
	Charset        string            `json:"charset,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
	Active         bool              `json:"active"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
}

// AIModel is a configured LLM endpoint. The API key is held only in
// enciphered form and is never serialized.
type AIModel struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Provider     string  `json:"provider"` // openai | openai-compatible | anthropic | claude-compatible
	APIKeyCipher string  `json:"-"`
	BaseURL      string  `json:"base_url,omitempty"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature"`
	IsDefault    bool    `json:"is_default"`
	Active       bool    `json:"active"`
	Scene        string  `json:"scene,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
}

// Term maps a business phrase to a physical column, optionally scoped to a table.
type Term struct {
	ID         string `json:"id"`
	Phrase     string `json:"phrase"`
	FieldName  string `json:"field_name"`
	TableScope string `json:"table_scope,omitempty"`
	Category   string `json:"category,omitempty"`
	Embedding  []byte `json:"-"`
	CreatedAt  int64  `json:"created_at"`
}

// Example is a curated question with its known-good SQL answer.
type Example struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	SQL       string `json:"sql"`
	Dialect   string `json:"dialect,omitempty"`
	HintTable string `json:"hint_table,omitempty"`
	ChartKind string `json:"chart_kind,omitempty"`
	Embedding []byte `json:"-"`
	CreatedAt int64  `json:"created_at"`
}

// Prompt is a reusable instruction block injected into the system section.
type Prompt struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Kind      string `json:"kind,omitempty"`
	Priority  int    `json:"priority"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
}

// Article is a long-form background document for retrieval.
type Article struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Category  string `json:"category,omitempty"`
	Tags      string `json:"tags,omitempty"`
	Embedding []byte `json:"-"`
	CreatedAt int64  `json:"created_at"`
}
