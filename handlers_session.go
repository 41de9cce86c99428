package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"datachat/agent"
	"datachat/database"
)

type createSessionRequest struct {
	Title          string   `json:"title"`
	DataSourceID   string   `json:"data_source_id"`
	SelectedTables []string `json:"selected_tables"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.DataSourceID == "" {
		respondBadRequest(w, "data_source_id is required")
		return
	}
	if len(req.SelectedTables) == 0 {
		respondBadRequest(w, "selected_tables must not be empty")
		return
	}

	source, err := s.sources.Get(req.DataSourceID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	// the table selection is pinned for the session's lifetime, so verify
	// it against the live catalog now
	db, dialect, err := s.registry.Acquire(r.Context(), source.ID, connConfigOf(source))
	if err != nil {
		respondError(w, r, agent.Fail("connect", agent.KindDataSourceUnreachable, err))
		return
	}
	available, err := s.schema.Tables(r.Context(), db, dialect)
	if err != nil {
		respondError(w, r, err)
		return
	}
	known := make(map[string]bool, len(available))
	for _, t := range available {
		known[t.Name] = true
	}
	var missing []string
	for _, t := range req.SelectedTables {
		if !known[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		respondError(w, r, agent.Fail("receive", agent.KindInvalidRequest,
			fmt.Errorf("tables not in data source: %s", strings.Join(missing, ", "))))
		return
	}

	session, err := s.sessions.Create(userID(r), req.Title, req.DataSourceID, req.SelectedTables)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, session)
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := pageParams(r)
	from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
	to, _ := strconv.ParseInt(q.Get("to"), 10, 64)

	sessions, total, err := s.sessions.List(userID(r), database.SessionFilter{
		Keyword:      q.Get("keyword"),
		DataSourceID: q.Get("data_source_id"),
		From:         from,
		To:           to,
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPage(w, sessions, total, page, pageSize)
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, session)
}

type updateSessionRequest struct {
	Title  string `json:"title"`
	Status string `json:"status"` // active | archived
}

func (s *server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Title) != "" {
		if _, err := s.sessions.Rename(id, req.Title); err != nil {
			respondError(w, r, err)
			return
		}
	}
	switch req.Status {
	case "":
	case "archived":
		if err := s.sessions.Archive(id); err != nil {
			respondError(w, r, err)
			return
		}
	case "active":
		if err := s.sessions.Unarchive(id); err != nil {
			respondError(w, r, err)
			return
		}
	default:
		respondBadRequest(w, "status must be active or archived")
		return
	}

	session, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, session)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, nil)
}
