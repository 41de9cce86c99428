package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"datachat/agent"
	"datachat/database"
	"datachat/logger"
)

// embedText computes the stored embedding for a knowledge row. Best-effort:
// without an embedder, or when the call fails, the row simply stays in the
// lexical lane.
func (s *server) embedText(r *http.Request, text string) []byte {
	if s.embedder == nil || text == "" {
		return nil
	}
	vec, err := s.embedder.Embed(r.Context(), text)
	if err != nil {
		logger.With("knowledge").Warnf("embedding skipped: %v", logger.Redact(err.Error()))
		return nil
	}
	return agent.EncodeVector(vec)
}

// ---- terms ----

func (s *server) handleCreateTerm(w http.ResponseWriter, r *http.Request) {
	var in database.Term
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	in.Embedding = s.embedText(r, in.Phrase)
	term, err := s.knowledge.CreateTerm(in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, term)
}

func (s *server) handleListTerms(w http.ResponseWriter, r *http.Request) {
	terms, err := s.knowledge.AllTerms()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, terms)
}

func (s *server) handleDeleteTerm(w http.ResponseWriter, r *http.Request) {
	if err := s.knowledge.DeleteTerm(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, nil)
}

// ---- examples ----

func (s *server) handleCreateExample(w http.ResponseWriter, r *http.Request) {
	var in database.Example
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if in.ChartKind != "" && !agent.ValidChartKind(in.ChartKind) {
		respondBadRequest(w, "unknown chart kind")
		return
	}
	in.Embedding = s.embedText(r, in.Question)
	example, err := s.knowledge.CreateExample(in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, example)
}

func (s *server) handleListExamples(w http.ResponseWriter, r *http.Request) {
	examples, err := s.knowledge.AllExamples()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, examples)
}

func (s *server) handleDeleteExample(w http.ResponseWriter, r *http.Request) {
	if err := s.knowledge.DeleteExample(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, nil)
}

// ---- prompts ----

func (s *server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var in database.Prompt
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	prompt, err := s.knowledge.CreatePrompt(in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, prompt)
}

func (s *server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.knowledge.ListPrompts()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, prompts)
}

func (s *server) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.knowledge.DeletePrompt(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, nil)
}

// ---- articles ----

func (s *server) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var in database.Article
	if err := decodeBody(r, &in); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	in.Embedding = s.embedText(r, in.Title+" "+in.Body)
	article, err := s.knowledge.CreateArticle(in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, article)
}

func (s *server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.knowledge.AllArticles()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, articles)
}

func (s *server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	if err := s.knowledge.DeleteArticle(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, nil)
}
