package middleware

import (
	"encoding/json"
	"net/http"
)

// AccountHeader names the acting account when authentication is disabled.
const AccountHeader = "X-Stable-Account"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}
