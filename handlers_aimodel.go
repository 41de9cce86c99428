package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"datachat/database"
)

func (s *server) handleCreateAIModel(w http.ResponseWriter, r *http.Request) {
	var in database.AIModelInput
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	model, err := s.models.Create(in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, model)
}

func (s *server) handleListAIModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.List()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, models)
}

func (s *server) handleGetAIModel(w http.ResponseWriter, r *http.Request) {
	model, err := s.models.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, model)
}

func (s *server) handleUpdateAIModel(w http.ResponseWriter, r *http.Request) {
	var in database.AIModelInput
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	model, err := s.models.Update(chi.URLParam(r, "id"), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, model)
}

func (s *server) handleSetDefaultAIModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.models.SetDefault(id); err != nil {
		respondError(w, r, err)
		return
	}
	model, err := s.models.Get(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, model)
}

func (s *server) handleDeleteAIModel(w http.ResponseWriter, r *http.Request) {
	if err := s.models.Delete(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, nil)
}
