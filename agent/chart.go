package agent

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"datachat/database"
)

// The chart kinds a reply may carry and a message may persist.
var validChartKinds = map[string]bool{
	"table": true, "bar": true, "line": true,
	"pie": true, "scatter": true, "area": true,
}

// ValidChartKind reports whether kind names a renderable chart.
func ValidChartKind(kind string) bool { return validChartKinds[kind] }

// pieCardinalityMax is the largest category count a pie stays readable at.
const pieCardinalityMax = 6

// InferChart picks the chart kind for a result and builds its render
// config. A valid non-table model suggestion wins; otherwise the shape of
// the result decides.
func InferChart(suggested, title string, preview *database.ResultPreview) (string, *database.ChartConfig) {
	kind := ""
	if validChartKinds[suggested] && suggested != "table" {
		kind = suggested
	}
	if kind == "" {
		kind = heuristicKind(preview)
	}

	cfg := &database.ChartConfig{Kind: kind, Title: title}
	if preview != nil {
		cfg.Columns = preview.Columns
		numeric, temporal, categorical := classifyColumns(preview)
		cfg.XFields = append(cfg.XFields, temporal...)
		cfg.XFields = append(cfg.XFields, categorical...)
		for _, col := range numeric {
			cfg.Series = append(cfg.Series, database.ChartSeries{Name: col, Column: col})
		}
	}
	return kind, cfg
}

// heuristicKind applies the shape rules: a single aggregate row reads as a
// table; a time axis with one measure as a line; one or two categorical
// dimensions with one measure as a bar, or a pie when one low-cardinality
// dimension; two measures with no dimension as a scatter.
func heuristicKind(preview *database.ResultPreview) string {
	if preview == nil || len(preview.Rows) == 0 {
		return "table"
	}
	numeric, temporal, categorical := classifyColumns(preview)

	if len(preview.Rows) == 1 {
		return "table"
	}
	if len(temporal) >= 1 && len(numeric) == 1 {
		return "line"
	}
	if len(numeric) >= 2 && len(categorical) == 0 && len(temporal) == 0 {
		return "scatter"
	}
	if len(numeric) == 1 && len(temporal) == 0 {
		switch len(categorical) {
		case 1:
			if len(preview.Rows) <= pieCardinalityMax {
				return "pie"
			}
			return "bar"
		case 2:
			return "bar"
		}
	}
	return "table"
}

// classifyColumns buckets the preview's columns into numeric measures,
// temporal axes and categorical dimensions by sampling cell values.
func classifyColumns(preview *database.ResultPreview) (numeric, temporal, categorical []string) {
	for idx, col := range preview.Columns {
		var sample any
		for _, row := range preview.Rows {
			if idx < len(row) && row[idx] != nil {
				sample = row[idx]
				break
			}
		}
		switch {
		case looksTemporal(sample, col):
			temporal = append(temporal, col)
		case looksNumeric(sample):
			numeric = append(numeric, col)
		default:
			categorical = append(categorical, col)
		}
	}
	return numeric, temporal, categorical
}

var datePatternRe = regexp.MustCompile(`^\d{4}[-/]\d{1,2}([-/]\d{1,2})?([ T]\d{2}:\d{2}(:\d{2})?)?$`)

// looksTemporal reports whether a cell (or its column name) reads as a date
// or timestamp.
func looksTemporal(v any, column string) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case string:
		if datePatternRe.MatchString(strings.TrimSpace(t)) {
			return true
		}
	}
	lower := strings.ToLower(column)
	for _, hint := range []string{"date", "time", "day", "month", "year", "日期", "时间", "月份", "年份"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// looksNumeric reports whether a cell value is numeric. Drivers that scan
// everything as []byte arrive here as strings, so numeric strings count.
func looksNumeric(v any) bool {
	switch t := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return false
		}
		dot := false
		for i, r := range s {
			if i == 0 && (r == '-' || r == '+') {
				continue
			}
			if r == '.' && !dot {
				dot = true
				continue
			}
			if !unicode.IsDigit(r) {
				return false
			}
		}
		return true
	}
	return false
}
