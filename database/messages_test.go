package database

import (
	"encoding/json"
	"strings"
	"testing"
)

func newTestSession(t *testing.T, service *SessionService) *Session {
	t.Helper()
	session, err := service.Create("user-1", "测试会话", "ds-1", []string{"orders"})
	if err != nil {
		t.Fatalf("Create session failed: %v", err)
	}
	return session
}

func TestAppendAndListMessages(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	user := &Message{SessionID: session.ID, Role: "user", Content: "本月各地区销售额前五"}
	if err := messages.Append(user); err != nil {
		t.Fatalf("Append user failed: %v", err)
	}

	assistant := &Message{
		SessionID: session.ID,
		Role:      "assistant",
		Content:   "按销售额排序的前五地区",
		SQL:       "SELECT region, SUM(amount) AS total FROM orders GROUP BY region ORDER BY total DESC LIMIT 5",
		Result: &ResultPreview{
			Columns:   []string{"region", "total"},
			Rows:      [][]any{{"华东", 1250.5}, {"华北", 980.0}},
			TotalRows: 5,
			Truncated: false,
		},
		ChartConfig:          &ChartConfig{Kind: "bar", XFields: []string{"region"}, Series: []ChartSeries{{Name: "total", Column: "total"}}},
		ChartKind:            "bar",
		TokensUsed:           1532,
		LatencySeconds:       3.2,
		RecommendedQuestions: []string{"上月对比如何?", "各地区的订单量呢?"},
	}
	if err := messages.Append(assistant); err != nil {
		t.Fatalf("Append assistant failed: %v", err)
	}

	list, total, err := messages.List(session.ID, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("Expected 2 messages, got total=%d len=%d", total, len(list))
	}
	if list[0].Role != "user" || list[1].Role != "assistant" {
		t.Errorf("Expected chronological order, got %s then %s", list[0].Role, list[1].Role)
	}

	got := list[1]
	if got.Result == nil || got.Result.TotalRows != 5 {
		t.Errorf("Result preview not preserved: %+v", got.Result)
	}
	if len(got.Result.Rows) != 2 || got.Result.Columns[0] != "region" {
		t.Errorf("Result rows not preserved: %+v", got.Result)
	}
	if got.ChartConfig == nil || got.ChartConfig.Kind != "bar" {
		t.Errorf("Chart config not preserved: %+v", got.ChartConfig)
	}
	if len(got.RecommendedQuestions) != 2 {
		t.Errorf("Recommended questions not preserved: %v", got.RecommendedQuestions)
	}
	if got.TokensUsed != 1532 {
		t.Errorf("Expected tokens 1532, got %d", got.TokensUsed)
	}
}

func TestAppendRejectsBadInput(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	if err := messages.Append(&Message{SessionID: session.ID, Role: "system", Content: "x"}); err == nil {
		t.Error("Expected error for invalid role")
	}
	if err := messages.Append(&Message{Role: "user", Content: "x"}); err == nil {
		t.Error("Expected error for missing session ID")
	}
	if err := messages.Append(&Message{SessionID: "missing", Role: "user", Content: "x"}); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestAppendToArchivedSession(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	if err := sessions.Archive(session.ID); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	err := messages.Append(&Message{SessionID: session.ID, Role: "user", Content: "x"})
	if err != ErrSessionArchived {
		t.Errorf("Expected ErrSessionArchived, got %v", err)
	}
}

func TestMessageContentKeepsQuotes(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	msg := &Message{
		SessionID: session.ID,
		Role:      "assistant",
		Content:   "客户 O'Brien 的订单",
		SQL:       "SELECT * FROM orders WHERE customer_name = :name",
		Result: &ResultPreview{
			Columns:   []string{"customer_name"},
			Rows:      [][]any{{"O'Brien"}},
			TotalRows: 1,
		},
	}
	if err := messages.Append(msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	loaded, err := messages.Get(msg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.Content != "客户 O'Brien 的订单" {
		t.Errorf("Content mangled: %q", loaded.Content)
	}
	if loaded.Result.Rows[0][0] != "O'Brien" {
		t.Errorf("Row value mangled: %v", loaded.Result.Rows[0][0])
	}
}

func TestRecentMessages(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	contents := []string{"q1", "a1", "q2", "a2", "q3", "a3"}
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := messages.Append(&Message{SessionID: session.ID, Role: role, Content: c}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recent, err := messages.Recent(session.ID, 4)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(recent))
	}
	if recent[0].Content != "q2" || recent[3].Content != "a3" {
		t.Errorf("Expected chronological tail, got %s..%s", recent[0].Content, recent[3].Content)
	}

	none, err := messages.Recent(session.ID, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty slice for limit 0, got %v %v", none, err)
	}
}

func TestUpdateChartKind(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	msg := &Message{
		SessionID:   session.ID,
		Role:        "assistant",
		Content:     "趋势",
		SQL:         "SELECT day, total FROM daily",
		ChartKind:   "line",
		ChartConfig: &ChartConfig{Kind: "line", XFields: []string{"day"}, Series: []ChartSeries{{Name: "total", Column: "total"}}},
	}
	if err := messages.Append(msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := messages.UpdateChartKind(msg.ID, "bar"); err != nil {
		t.Fatalf("UpdateChartKind failed: %v", err)
	}

	loaded, err := messages.Get(msg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.ChartKind != "bar" {
		t.Errorf("Expected chart kind bar, got %s", loaded.ChartKind)
	}
	if loaded.ChartConfig.Kind != "bar" {
		t.Errorf("Expected chart config kind bar, got %s", loaded.ChartConfig.Kind)
	}
	// everything else stays as written
	if loaded.SQL != msg.SQL || loaded.Content != "趋势" {
		t.Error("UpdateChartKind touched immutable fields")
	}
	if loaded.ChartConfig.XFields[0] != "day" {
		t.Error("UpdateChartKind dropped chart config details")
	}

	if err := messages.UpdateChartKind("missing", "bar"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAppendTouchesSession(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	var before int64
	if err := db.QueryRow("SELECT updated_at FROM sessions WHERE id = ?", session.ID).Scan(&before); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// force a visible clock step
	if _, err := db.Exec("UPDATE sessions SET updated_at = updated_at - 1000 WHERE id = ?", session.ID); err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}

	if err := messages.Append(&Message{SessionID: session.ID, Role: "user", Content: "x"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var after int64
	if err := db.QueryRow("SELECT updated_at FROM sessions WHERE id = ?", session.ID).Scan(&after); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if after < before {
		t.Errorf("Expected updated_at bumped, before=%d after=%d", before, after)
	}
}

func TestMessageErrorTurnPersisted(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionService(db)
	messages := NewMessageService(db)
	session := newTestSession(t, sessions)

	msg := &Message{
		SessionID: session.ID,
		Role:      "assistant",
		SQL:       "DELETE FROM orders",
		ErrorText: "generated statement is not read-only",
	}
	if err := messages.Append(msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	loaded, err := messages.Get(msg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.ErrorText == "" || loaded.Result != nil {
		t.Errorf("Expected error turn with no result, got %+v", loaded)
	}

	// the serialized form carries the error, not an empty result
	data, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), "not read-only") {
		t.Errorf("Serialized message missing error text: %s", data)
	}
}
