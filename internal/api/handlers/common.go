package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ListResponse формат ответа со списком
type ListResponse struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, errText, message string, details interface{}) {
	respondJSON(w, status, ErrorResponse{Error: errText, Message: message, Details: details})
}
