package agent

import (
	"testing"

	"datachat/database"
)

func preview(cols []string, rows ...[]any) *database.ResultPreview {
	return &database.ResultPreview{Columns: cols, Rows: rows, TotalRows: int64(len(rows))}
}

// TestHeuristicKind 按结果形状推导图表类型
func TestHeuristicKind(t *testing.T) {
	testCases := []struct {
		name    string
		preview *database.ResultPreview
		want    string
	}{
		{
			name:    "empty result",
			preview: preview([]string{"n"}),
			want:    "table",
		},
		{
			name:    "single aggregate row",
			preview: preview([]string{"total"}, []any{int64(42)}),
			want:    "table",
		},
		{
			name: "time axis with one measure",
			preview: preview([]string{"month", "revenue"},
				[]any{"2024-01", int64(10)},
				[]any{"2024-02", int64(12)},
			),
			want: "line",
		},
		{
			name: "two measures no dimension",
			preview: preview([]string{"price", "quantity"},
				[]any{1.5, int64(3)},
				[]any{2.0, int64(7)},
			),
			want: "scatter",
		},
		{
			name: "low cardinality category",
			preview: preview([]string{"region", "total"},
				[]any{"East", int64(10)},
				[]any{"West", int64(20)},
				[]any{"North", int64(5)},
			),
			want: "pie",
		},
		{
			name: "high cardinality category",
			preview: preview([]string{"product", "total"},
				[]any{"a", int64(1)}, []any{"b", int64(2)}, []any{"c", int64(3)},
				[]any{"d", int64(4)}, []any{"e", int64(5)}, []any{"f", int64(6)},
				[]any{"g", int64(7)},
			),
			want: "bar",
		},
		{
			name: "two categories one measure",
			preview: preview([]string{"region", "segment", "total"},
				[]any{"East", "retail", int64(10)},
				[]any{"West", "online", int64(20)},
			),
			want: "bar",
		},
		{
			name: "numeric strings from byte scanning drivers",
			preview: preview([]string{"region", "total"},
				[]any{"East", "10.5"},
				[]any{"West", "20"},
				[]any{"North", "-3"},
			),
			want: "pie",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := heuristicKind(tc.preview); got != tc.want {
				t.Errorf("heuristicKind = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestInferChartSuggestionWins(t *testing.T) {
	p := preview([]string{"region", "total"},
		[]any{"East", int64(10)},
		[]any{"West", int64(20)},
	)

	kind, cfg := InferChart("bar", "sales by region", p)
	if kind != "bar" {
		t.Errorf("expected model suggestion to win, got %s", kind)
	}
	if cfg.Title != "sales by region" {
		t.Errorf("unexpected title: %s", cfg.Title)
	}
	if len(cfg.XFields) != 1 || cfg.XFields[0] != "region" {
		t.Errorf("unexpected x fields: %v", cfg.XFields)
	}
	if len(cfg.Series) != 1 || cfg.Series[0].Column != "total" {
		t.Errorf("unexpected series: %v", cfg.Series)
	}
}

func TestInferChartIgnoresInvalidSuggestion(t *testing.T) {
	p := preview([]string{"month", "revenue"},
		[]any{"2024-01", int64(10)},
		[]any{"2024-02", int64(12)},
	)

	kind, _ := InferChart("hologram", "", p)
	if kind != "line" {
		t.Errorf("invalid suggestion must fall back to the heuristic, got %s", kind)
	}
}

func TestInferChartTableSuggestionDefersToHeuristic(t *testing.T) {
	p := preview([]string{"month", "revenue"},
		[]any{"2024-01", int64(10)},
		[]any{"2024-02", int64(12)},
	)
	kind, _ := InferChart("table", "", p)
	if kind != "line" {
		t.Errorf("a table suggestion is not binding, got %s", kind)
	}
}

func TestValidChartKind(t *testing.T) {
	for _, k := range []string{"table", "bar", "line", "pie", "scatter", "area"} {
		if !ValidChartKind(k) {
			t.Errorf("expected %s to be valid", k)
		}
	}
	if ValidChartKind("gauge") {
		t.Error("gauge must be rejected")
	}
}

func TestLooksTemporalColumnHints(t *testing.T) {
	if !looksTemporal(nil, "order_date") {
		t.Error("expected order_date to read as temporal")
	}
	if !looksTemporal(nil, "月份") {
		t.Error("expected 月份 to read as temporal")
	}
	if looksTemporal("East", "region") {
		t.Error("region must not read as temporal")
	}
}
