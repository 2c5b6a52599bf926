package apperr

import (
	"encoding/json"
	"net/http"

	"example.com/socialfeed/internal/logger"
)

var logg = logger.New()

type errorBody struct {
	Message string       `json:"message"`
	Data    []FieldError `json:"data,omitempty"`
}

// Write renders err as the JSON error body. Causes of server errors are
// logged and never sent to the client.
func Write(w http.ResponseWriter, module string, err error) {
	e := From(err)
	status := e.Status()

	body := errorBody{Message: e.Message, Data: e.Fields}
	if status == http.StatusInternalServerError {
		logg.Error(module, e.Message, e.Err)
		body = errorBody{Message: "An unexpected error occurred."}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
