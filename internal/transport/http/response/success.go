package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the wrapper every successful JSON body uses; error bodies
// carry an "error" object instead (see errors.go).
type Envelope struct {
	Data any `json:"data"`
}

// WriteJSON encodes v with the given status code, defaulting the
// Content-Type to JSON when the handler has not chosen one.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes 200 with the data envelope.
func OK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Envelope{Data: data})
}

// Created writes 201 with the data envelope.
func Created(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, Envelope{Data: data})
}

// NoContent writes an empty 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
