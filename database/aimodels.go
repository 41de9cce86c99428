package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"datachat/secrets"
)

// AIModelService manages configured LLM endpoints. API keys are enciphered
// before they reach disk and are never handed back out. At most one model is
// the default, and there is always one while any model exists.
type AIModelService struct {
	db     *sql.DB
	cipher *secrets.Cipher
}

// NewAIModelService creates a new AI model service
func NewAIModelService(db *sql.DB, cipher *secrets.Cipher) *AIModelService {
	return &AIModelService{db: db, cipher: cipher}
}

// AIModelInput carries the writable fields of an AI model. APIKey is
// plaintext on the way in only; an empty key on update keeps the stored one.
type AIModelInput struct {
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	IsDefault   bool    `json:"is_default"`
	Scene       string  `json:"scene"`
}

const aiModelColumns = `id, name, provider, api_key_cipher, base_url, model, max_tokens, temperature,
	is_default, active, scene, created_at, updated_at`

var knownProviders = map[string]bool{
	"openai":            true,
	"openai-compatible": true,
	"anthropic":         true,
	"claude-compatible": true,
}

// Create registers an AI model. The first model automatically becomes the
// default; an explicit IsDefault displaces the previous default atomically.
func (s *AIModelService) Create(in AIModelInput) (*AIModel, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if err := validateAIModelInput(in); err != nil {
		return nil, err
	}

	cipherText := ""
	if in.APIKey != "" {
		var err error
		cipherText, err = s.cipher.Encrypt(in.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encipher API key: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM ai_models").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count models: %w", err)
	}

	isDefault := in.IsDefault || count == 0
	if isDefault {
		if _, err := tx.Exec("UPDATE ai_models SET is_default = 0 WHERE is_default = 1"); err != nil {
			return nil, fmt.Errorf("failed to clear previous default: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	model := &AIModel{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Provider:     in.Provider,
		APIKeyCipher: cipherText,
		BaseURL:      in.BaseURL,
		Model:        in.Model,
		MaxTokens:    in.MaxTokens,
		Temperature:  in.Temperature,
		IsDefault:    isDefault,
		Active:       true,
		Scene:        in.Scene,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = tx.Exec(`
		INSERT INTO ai_models (`+aiModelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.Name, model.Provider, model.APIKeyCipher, model.BaseURL, model.Model,
		model.MaxTokens, model.Temperature, boolToInt(model.IsDefault), 1, model.Scene, model.CreatedAt, model.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return model, nil
}

// Get loads an AI model by ID.
func (s *AIModelService) Get(id string) (*AIModel, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	row := s.db.QueryRow("SELECT "+aiModelColumns+" FROM ai_models WHERE id = ?", id)
	model, err := scanAIModel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return model, nil
}

// Default returns the current default model.
func (s *AIModelService) Default() (*AIModel, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	row := s.db.QueryRow("SELECT " + aiModelColumns + " FROM ai_models WHERE is_default = 1 AND active = 1")
	model, err := scanAIModel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default model: %w", err)
	}
	return model, nil
}

// List returns all AI models, default first.
func (s *AIModelService) List() ([]AIModel, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := s.db.Query("SELECT " + aiModelColumns + " FROM ai_models ORDER BY is_default DESC, created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	list := []AIModel{}
	for rows.Next() {
		model, err := scanAIModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		list = append(list, *model)
	}
	return list, rows.Err()
}

// Update rewrites an AI model, preserving the stored key when none is given.
func (s *AIModelService) Update(id string, in AIModelInput) (*AIModel, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if err := validateAIModelInput(in); err != nil {
		return nil, err
	}

	existing, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	cipherText := existing.APIKeyCipher
	if in.APIKey != "" {
		cipherText, err = s.cipher.Encrypt(in.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encipher API key: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// a model cannot resign as default; promote another model instead
	isDefault := existing.IsDefault || in.IsDefault
	if in.IsDefault && !existing.IsDefault {
		if _, err := tx.Exec("UPDATE ai_models SET is_default = 0 WHERE is_default = 1"); err != nil {
			return nil, fmt.Errorf("failed to clear previous default: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	_, err = tx.Exec(`
		UPDATE ai_models
		SET name = ?, provider = ?, api_key_cipher = ?, base_url = ?, model = ?,
			max_tokens = ?, temperature = ?, is_default = ?, scene = ?, updated_at = ?
		WHERE id = ?`,
		in.Name, in.Provider, cipherText, in.BaseURL, in.Model,
		in.MaxTokens, in.Temperature, boolToInt(isDefault), in.Scene, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update model: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := *existing
	updated.Name = in.Name
	updated.Provider = in.Provider
	updated.APIKeyCipher = cipherText
	updated.BaseURL = in.BaseURL
	updated.Model = in.Model
	updated.MaxTokens = in.MaxTokens
	updated.Temperature = in.Temperature
	updated.IsDefault = isDefault
	updated.Scene = in.Scene
	updated.UpdatedAt = now
	return &updated, nil
}

// SetDefault promotes a model to be the default, demoting the previous one
// in the same transaction.
func (s *AIModelService) SetDefault(id string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM ai_models WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check model: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec("UPDATE ai_models SET is_default = 0 WHERE is_default = 1"); err != nil {
		return fmt.Errorf("failed to clear previous default: %w", err)
	}
	if _, err := tx.Exec("UPDATE ai_models SET is_default = 1, updated_at = ? WHERE id = ?", time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}

	return tx.Commit()
}

// Delete removes a model. When the default is deleted, the most recently
// updated remaining model is promoted.
func (s *AIModelService) Delete(id string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var wasDefault int
	err = tx.QueryRow("SELECT is_default FROM ai_models WHERE id = ?", id).Scan(&wasDefault)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check model: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM ai_models WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}

	if wasDefault == 1 {
		_, err = tx.Exec(`
			UPDATE ai_models SET is_default = 1
			WHERE id = (SELECT id FROM ai_models WHERE active = 1 ORDER BY updated_at DESC LIMIT 1)`)
		if err != nil {
			return fmt.Errorf("failed to promote replacement default: %w", err)
		}
	}

	return tx.Commit()
}

// APIKey deciphers a model's stored key for outbound calls. The plaintext
// never leaves the process.
func (s *AIModelService) APIKey(model *AIModel) (string, error) {
	if model.APIKeyCipher == "" {
		return "", nil
	}
	key, err := s.cipher.Decrypt(model.APIKeyCipher)
	if err != nil {
		return "", fmt.Errorf("failed to decipher API key: %w", err)
	}
	return key, nil
}

func validateAIModelInput(in AIModelInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("model name is required")
	}
	if strings.TrimSpace(in.Model) == "" {
		return fmt.Errorf("model identifier is required")
	}
	if !knownProviders[in.Provider] {
		return fmt.Errorf("unknown provider: %s", in.Provider)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanAIModel(row rowScanner) (*AIModel, error) {
	var model AIModel
	var isDefault, active int
	err := row.Scan(&model.ID, &model.Name, &model.Provider, &model.APIKeyCipher, &model.BaseURL, &model.Model,
		&model.MaxTokens, &model.Temperature, &isDefault, &active, &model.Scene, &model.CreatedAt, &model.UpdatedAt)
	if err != nil {
		return nil, err
	}
	model.IsDefault = isDefault != 0
	model.Active = active != 0
	return &model, nil
}
