package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/1percentsync/sakura-dispatch/internal/dispatch"
)

// errorBody is the wire shape of spec.md §7's error envelope.
type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func writeErrorEnvelope(w http.ResponseWriter, status int, errType, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorBody{
		"error": {Message: message, Type: errType, Code: code},
	})
}

// writeDispatchError renders a *dispatch.Error using its own status/type.
func writeDispatchError(w http.ResponseWriter, err *dispatch.Error) {
	writeErrorEnvelope(w, err.Status(), err.Type(), err.Error(), string(err.Kind))
}

// writeInternalError logs cause and writes a generic 500 envelope, per
// spec.md §7: all other exceptions are fatal for the request, not the
// process.
func writeInternalError(w http.ResponseWriter, cause error) {
	log.Printf("httpapi: internal error: %v", cause)
	writeErrorEnvelope(w, http.StatusInternalServerError, "internal_error", "internal server error", "internal_error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}
