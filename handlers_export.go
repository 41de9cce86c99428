package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"datachat/logger"
)

// exportMessagePageSize bounds one export to a workable workbook.
const exportMessagePageSize = 500

// handleExportSession writes the session transcript and the stored result
// previews as an .xlsx workbook.
func (s *server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	messages, _, err := s.messages.List(session.ID, 1, exportMessagePageSize)
	if err != nil {
		respondError(w, r, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const transcript = "Transcript"
	f.SetSheetName(f.GetSheetName(0), transcript)
	header := []any{"Time", "Role", "Content", "SQL", "Error", "Chart", "Tokens"}
	f.SetSheetRow(transcript, "A1", &header)

	resultSheet := 0
	for i, m := range messages {
		row := []any{
			time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04:05"),
			m.Role, m.Content, m.SQL, m.ErrorText, m.ChartKind, m.TokensUsed,
		}
		f.SetSheetRow(transcript, fmt.Sprintf("A%d", i+2), &row)

		if m.Result == nil || len(m.Result.Columns) == 0 {
			continue
		}
		resultSheet++
		sheet := fmt.Sprintf("Result %d", resultSheet)
		if _, err := f.NewSheet(sheet); err != nil {
			continue
		}
		cols := make([]any, len(m.Result.Columns))
		for c, name := range m.Result.Columns {
			cols[c] = name
		}
		f.SetSheetRow(sheet, "A1", &cols)
		for rIdx, dataRow := range m.Result.Rows {
			f.SetSheetRow(sheet, fmt.Sprintf("A%d", rIdx+2), &dataRow)
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.Title+".xlsx"))
	if err := f.Write(w); err != nil {
		logger.With("export").Warnf("workbook write aborted: %v", err)
	}
}
