package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"datachat/agent"
)

type submitTurnRequest struct {
	Question  string `json:"question"`
	EditedSQL string `json:"edited_sql"`
}

// turnResponse wraps the assistant message with the retry marker the client
// uses to offer SQL editing.
type turnResponse struct {
	Message  any  `json:"message"`
	CanRetry bool `json:"can_retry"`
}

// handleSubmitTurn runs one turn of the ask-to-answer pipeline. Failures
// past the model call still carry the persisted assistant message so the
// client can render the SQL and the error together.
func (s *server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req submitTurnRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	msg, err := s.orch.Ask(r.Context(), agent.TurnInput{
		SessionID: chi.URLParam(r, "id"),
		UserID:    userID(r),
		Question:  req.Question,
		EditedSQL: req.EditedSQL,
	})
	if err != nil {
		if msg != nil {
			respondErrorData(w, r, err, turnResponse{Message: msg, CanRetry: canRetry(err)})
			return
		}
		respondError(w, r, err)
		return
	}
	respondOK(w, turnResponse{Message: msg})
}

// canRetry marks failures the user can fix by editing the SQL.
func canRetry(err error) bool {
	switch agent.KindOf(err) {
	case agent.KindSqlEmpty, agent.KindSqlNotReadOnly, agent.KindSqlMultiStatement, agent.KindLengthExceeded,
		agent.KindSyntaxError, agent.KindPermissionDenied, agent.KindUnknownIdentifier,
		agent.KindQueryTimeout, agent.KindConnectionLost:
		return true
	}
	return false
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	messages, total, err := s.messages.List(chi.URLParam(r, "id"), page, pageSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPage(w, messages, total, page, pageSize)
}

// handleCancelTurn aborts the in-flight turn of a session.
func (s *server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	cancelled := s.orch.Cancel(chi.URLParam(r, "id"))
	respondOK(w, map[string]bool{"cancelled": cancelled})
}

type updateChartKindRequest struct {
	ChartKind string `json:"chart_kind"`
}

// handleUpdateChartKind changes the one mutable field of a message.
func (s *server) handleUpdateChartKind(w http.ResponseWriter, r *http.Request) {
	var req updateChartKindRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if !agent.ValidChartKind(req.ChartKind) {
		respondBadRequest(w, "unknown chart kind")
		return
	}
	if err := s.messages.UpdateChartKind(chi.URLParam(r, "mid"), req.ChartKind); err != nil {
		respondError(w, r, err)
		return
	}
	msg, err := s.messages.Get(chi.URLParam(r, "mid"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, msg)
}
