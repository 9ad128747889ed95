package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string         `json:"error"`
	Kind      smartchat.Kind `json:"kind"`
	RequestID string         `json:"requestId,omitempty"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind smartchat.Kind) int {
	switch kind {
	case smartchat.KindValidation:
		return http.StatusBadRequest
	case smartchat.KindNotFound:
		return http.StatusNotFound
	case smartchat.KindNoEligibleProvider:
		return http.StatusUnprocessableEntity
	case smartchat.KindExhausted, smartchat.KindProvider:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		smartchat.LogError(r.Context(), "failed to encode response", err)
	}
}

// writeError logs server-side failures and writes the error body. Messages of
// internal errors are not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := smartchat.KindOf(err)
	status := StatusFor(kind)

	msg := err.Error()
	var se *smartchat.Error
	if errors.As(err, &se) {
		msg = se.Message()
		if status >= http.StatusInternalServerError {
			se.Log(r.Context())
		}
	} else if status >= http.StatusInternalServerError {
		smartchat.LogError(r.Context(), "request failed", err)
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}

	writeJSON(w, r, status, ErrorBody{
		Error:     msg,
		Kind:      kind,
		RequestID: smartchat.RequestID(r.Context()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return smartchat.WrapKindErr(r.Context(), smartchat.KindValidation, err, "request body too large")
		}
		return smartchat.WrapKindErr(r.Context(), smartchat.KindValidation, err, "invalid JSON body")
	}
	return nil
}
