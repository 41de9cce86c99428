package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"datachat/agent"
	"datachat/database"
	"datachat/logger"
)

// Envelope is the uniform response shape of every endpoint.
type Envelope struct {
	Code       int         `json:"code"`
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination rides along on list responses.
type Pagination struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// statusClientClosedRequest is the nginx convention for a client that went
// away; there is no stdlib constant for it.
const statusClientClosedRequest = 499

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func respondOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, Envelope{Code: http.StatusOK, Success: true, Message: "ok", Data: data})
}

func respondPage(w http.ResponseWriter, data any, total, page, pageSize int) {
	writeEnvelope(w, http.StatusOK, Envelope{
		Code: http.StatusOK, Success: true, Message: "ok", Data: data,
		Pagination: &Pagination{Total: total, Page: page, PageSize: pageSize},
	})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorData(w, r, err, nil)
}

// respondErrorData maps a pipeline failure onto a status code, keeping any
// persisted assistant message in data so the client can render it.
func respondErrorData(w http.ResponseWriter, r *http.Request, err error, data any) {
	status := statusFor(err)
	message := logger.Redact(err.Error())
	if status == http.StatusInternalServerError {
		// generic text to the client, full error with correlation id to the log
		reqID := middleware.GetReqID(r.Context())
		logger.With("http").WithField("request_id", reqID).Errorf("internal error: %s", message)
		message = "internal error (request " + reqID + ")"
	}
	writeEnvelope(w, status, Envelope{Code: status, Success: false, Message: message, Data: data})
}

func respondBadRequest(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Success: false, Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrSessionArchived), errors.Is(err, database.ErrInUse):
		return http.StatusConflict
	}

	switch agent.KindOf(err) {
	case agent.KindInvalidRequest, agent.KindModelUnsupported:
		return http.StatusBadRequest
	case agent.KindNotFound:
		return http.StatusNotFound
	case agent.KindSessionBusy:
		return http.StatusConflict
	case agent.KindCancelled:
		return statusClientClosedRequest
	case agent.KindSqlEmpty, agent.KindSqlNotReadOnly, agent.KindSqlMultiStatement, agent.KindLengthExceeded,
		agent.KindSyntaxError, agent.KindPermissionDenied, agent.KindUnknownIdentifier,
		agent.KindQueryTimeout, agent.KindConnectionLost:
		return http.StatusUnprocessableEntity
	case agent.KindModelRejected:
		return http.StatusBadGateway
	case agent.KindModelUnavailable, agent.KindDataSourceUnreachable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
