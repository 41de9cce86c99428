package database

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFirstModelBecomesDefault(t *testing.T) {
	db := setupTestDB(t)
	service := NewAIModelService(db, newTestCipher(t))

	first, err := service.Create(AIModelInput{Name: "gpt", Provider: "openai", Model: "gpt-4o", APIKey: "sk-abc"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !first.IsDefault {
		t.Error("Expected first model to become default")
	}

	second, err := service.Create(AIModelInput{Name: "claude", Provider: "anthropic", Model: "claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if second.IsDefault {
		t.Error("Second model must not displace the default implicitly")
	}

	got, err := service.Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("Expected default %s, got %s", first.ID, got.ID)
	}
}

func TestCreateWithIsDefaultDisplaces(t *testing.T) {
	db := setupTestDB(t)
	service := NewAIModelService(db, newTestCipher(t))

	first, _ := service.Create(AIModelInput{Name: "a", Provider: "openai", Model: "m1"})
	second, err := service.Create(AIModelInput{Name: "b", Provider: "openai", Model: "m2", IsDefault: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := service.Default()
	if got.ID != second.ID {
		t.Errorf("Expected new default %s, got %s", second.ID, got.ID)
	}
	reloaded, _ := service.Get(first.ID)
	if reloaded.IsDefault {
		t.Error("Previous default not demoted")
	}
}

func TestSetDefault(t *testing.T) {
	db := setupTestDB(t)
	service := NewAIModelService(db, newTestCipher(t))

	a, _ := service.Create(AIModelInput{Name: "a", Provider: "openai", Model: "m1"})
	b, _ := service.Create(AIModelInput{Name: "b", Provider: "anthropic", Model: "m2"})

	if err := service.SetDefault(b.ID); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	got, _ := service.Default()
	if got.ID != b.ID {
		t.Errorf("Expected default %s, got %s", b.ID, got.ID)
	}
	reloaded, _ := service.Get(a.ID)
	if reloaded.IsDefault {
		t.Error("Previous default not demoted")
	}

	if err := service.SetDefault("missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteDefaultPromotesAnother(t *testing.T) {
	db := setupTestDB(t)
	service := NewAIModelService(db, newTestCipher(t))

	a, _ := service.Create(AIModelInput{Name: "a", Provider: "openai", Model: "m1"})
	if _, err := service.Create(AIModelInput{Name: "b", Provider: "openai", Model: "m2"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := service.Delete(a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := service.Default()
	if err != nil {
		t.Fatalf("Expected a promoted default, got %v", err)
	}
	if got.Name != "b" {
		t.Errorf("Expected model b promoted, got %s", got.Name)
	}

	if err := service.Delete(got.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := service.Default(); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound with no models, got %v", err)
	}
}

func TestAPIKeyRoundTripAndHidden(t *testing.T) {
	db := setupTestDB(t)
	cipher := newTestCipher(t)
	service := NewAIModelService(db, cipher)

	model, err := service.Create(AIModelInput{Name: "gpt", Provider: "openai", Model: "gpt-4o", APIKey: "sk-verysecret"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	key, err := service.APIKey(model)
	if err != nil {
		t.Fatalf("APIKey failed: %v", err)
	}
	if key != "sk-verysecret" {
		t.Errorf("Round trip mismatch: %q", key)
	}

	data, _ := json.Marshal(model)
	if strings.Contains(string(data), "sk-verysecret") || strings.Contains(string(data), model.APIKeyCipher) {
		t.Errorf("Serialized model leaks credentials: %s", data)
	}

	// empty key on update keeps the stored one
	updated, err := service.Update(model.ID, AIModelInput{Name: "gpt", Provider: "openai", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	key, _ = service.APIKey(updated)
	if key != "sk-verysecret" {
		t.Errorf("Expected stored key kept, got %q", key)
	}
}

func TestAIModelValidation(t *testing.T) {
	db := setupTestDB(t)
	service := NewAIModelService(db, newTestCipher(t))

	if _, err := service.Create(AIModelInput{Provider: "openai", Model: "m"}); err == nil {
		t.Error("Expected error for missing name")
	}
	if _, err := service.Create(AIModelInput{Name: "x", Provider: "openai"}); err == nil {
		t.Error("Expected error for missing model identifier")
	}
	if _, err := service.Create(AIModelInput{Name: "x", Provider: "grok", Model: "m"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

// countDefaults returns how many models are flagged default.
func countDefaults(t *testing.T, service *AIModelService) (defaults, total int) {
	t.Helper()
	models, err := service.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, m := range models {
		if m.IsDefault {
			defaults++
		}
	}
	return defaults, len(models)
}

func TestProperty_SingleDefaultInvariant(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any op sequence leaves exactly one default while models exist",
		prop.ForAll(
			func(ops []int) bool {
				db := setupTestDB(t)
				service := NewAIModelService(db, newTestCipher(t))

				var ids []string
				for i, op := range ops {
					switch op % 3 {
					case 0: // create, sometimes claiming default
						model, err := service.Create(AIModelInput{
							Name:      "m",
							Provider:  "openai",
							Model:     "gpt-4o",
							IsDefault: op%2 == 0,
						})
						if err != nil {
							t.Logf("Create failed: %v", err)
							return false
						}
						ids = append(ids, model.ID)
					case 1: // promote some existing model
						if len(ids) > 0 {
							if err := service.SetDefault(ids[i%len(ids)]); err != nil {
								t.Logf("SetDefault failed: %v", err)
								return false
							}
						}
					case 2: // delete some existing model
						if len(ids) > 0 {
							idx := i % len(ids)
							if err := service.Delete(ids[idx]); err != nil {
								t.Logf("Delete failed: %v", err)
								return false
							}
							ids = append(ids[:idx], ids[idx+1:]...)
						}
					}

					defaults, total := countDefaults(t, service)
					if total == 0 {
						if defaults != 0 {
							t.Logf("Defaults with no models: %d", defaults)
							return false
						}
					} else if defaults != 1 {
						t.Logf("Expected exactly 1 default among %d models, got %d", total, defaults)
						return false
					}
				}
				return true
			},
			gen.SliceOf(gen.IntRange(0, 11)),
		),
	)

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
