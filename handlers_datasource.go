package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"datachat/agent"
	"datachat/database"
	"datachat/dbpool"
)

func connConfigOf(ds *database.DataSource) dbpool.ConnConfig {
	return dbpool.ConnConfig{
		Dialect:        ds.Dialect,
		Host:           ds.Host,
		Port:           ds.Port,
		Database:       ds.Database,
		Username:       ds.Username,
		PasswordCipher: ds.PasswordCipher,
		Charset:        ds.Charset,
		Params:         ds.Params,
	}
}

func (s *server) handleCreateDataSource(w http.ResponseWriter, r *http.Request) {
	var in database.DataSourceInput
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	source, err := s.sources.Create(in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, source)
}

func (s *server) handleListDataSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sources.List()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, sources)
}

func (s *server) handleGetDataSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.sources.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, source)
}

// handleUpdateDataSource updates the config and drops the live pool and the
// cached schema so the next turn reconnects fresh.
func (s *server) handleUpdateDataSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in database.DataSourceInput
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	source, connChanged, err := s.sources.Update(id, in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if connChanged {
		s.registry.Invalidate(id)
		s.schema.Invalidate(id)
	}
	respondOK(w, source)
}

func (s *server) handleDeleteDataSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sources.Delete(id); err != nil {
		respondError(w, r, err)
		return
	}
	s.registry.Invalidate(id)
	s.schema.Invalidate(id)
	respondOK(w, nil)
}

// handleDataSourceTables lists the catalog for session creation.
func (s *server) handleDataSourceTables(w http.ResponseWriter, r *http.Request) {
	source, err := s.sources.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	db, dialect, err := s.registry.Acquire(r.Context(), source.ID, connConfigOf(source))
	if err != nil {
		respondError(w, r, agent.Fail("connect", agent.KindDataSourceUnreachable, err))
		return
	}
	tables, err := s.schema.Tables(r.Context(), db, dialect)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, tables)
}

type testDataSourceRequest struct {
	database.DataSourceInput
	// ID lets the client test a stored source without re-sending the
	// password; the stored cipher is used when Password is empty.
	ID string `json:"id"`
}

// handleTestDataSource probes credentials with a throwaway connection.
func (s *server) handleTestDataSource(w http.ResponseWriter, r *http.Request) {
	var req testDataSourceRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	cfg := dbpool.ConnConfig{
		Dialect:  req.Dialect,
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		Username: req.Username,
		Charset:  req.Charset,
		Params:   req.Params,
	}
	switch {
	case req.Password != "":
		cipher, err := s.sources.EncipherPassword(req.Password)
		if err != nil {
			respondError(w, r, err)
			return
		}
		cfg.PasswordCipher = cipher
	case req.ID != "":
		source, err := s.sources.Get(req.ID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		cfg.PasswordCipher = source.PasswordCipher
	}

	if err := s.registry.Test(r.Context(), cfg); err != nil {
		respondOK(w, map[string]any{"ok": false, "reason": agent.KindDataSourceUnreachable})
		return
	}
	respondOK(w, map[string]any{"ok": true})
}
