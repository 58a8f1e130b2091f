package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/linkfix/internal/rewriter"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Path  string `json:"path,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func failureBody(f *rewriter.Failure) errResponse {
	return errResponse{Error: f.Message, Kind: string(f.Kind), Path: f.Path}
}
