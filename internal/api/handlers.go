package api

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkfix/internal/apperr"
	"github.com/starford/linkfix/internal/linkservice"
	"github.com/starford/linkfix/internal/rewriter"
)

// maxTransformBody caps POST /transform payloads.
const maxTransformBody = 8 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *linkservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *linkservice.Service) *Handler {
	return &Handler{svc: svc}
}

// documentPath extracts the document path from the wildcard part of the
// URL. Encoded slashes are accepted.
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// dryRun reads the dry_run query parameter, falling back to the configured
// mode when it is absent or malformed.
func (h *Handler) dryRun(r *http.Request) bool {
	v := r.URL.Query().Get("dry_run")
	if v == "" {
		return h.svc.DefaultDryRun()
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return h.svc.DefaultDryRun()
	}
	return b
}

// Transform handles POST /api/transform. The request body is the document
// text; the response body is the rewritten text.
func (h *Handler) Transform(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTransformBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("read body failed"))
		return
	}
	if len(body) > maxTransformBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("body too large"))
		return
	}
	out := h.svc.Transform(string(body))
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out)
}

// ListDocuments handles GET /api/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	paths, errs := h.svc.ListDocuments(r.Context())
	if paths == nil {
		paths = []string{}
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": paths,
		"errors":    msgs,
		"total":     len(paths),
	})
}

// RewriteTree handles POST /api/rewrite?dry_run=.
func (h *Handler) RewriteTree(w http.ResponseWriter, r *http.Request) {
	report, runID, err := h.svc.RewriteTree(r.Context(), h.dryRun(r))
	if err != nil {
		slog.Error("rewrite tree failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("rewrite interrupted"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"report": report,
	})
}

// RewriteDocument handles POST /api/rewrite/*.
func (h *Handler) RewriteDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.RewriteDocument(r.Context(), path, h.dryRun(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeFailure(w http.ResponseWriter, err error) {
	var f *rewriter.Failure
	if !errors.As(err, &f) {
		slog.Error("rewrite document failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	switch {
	case errors.Is(err, apperr.ErrOutsideRoot):
		writeJSON(w, http.StatusBadRequest, errorBody("path escapes root"))
	case errors.Is(err, apperr.ErrNotDocument):
		writeJSON(w, http.StatusBadRequest, failureBody(f))
	case errors.Is(err, fs.ErrNotExist):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case f.Kind == rewriter.KindDecode || f.Kind == rewriter.KindEncode:
		writeJSON(w, http.StatusUnprocessableEntity, failureBody(f))
	default:
		writeJSON(w, http.StatusInternalServerError, failureBody(f))
	}
}

// LastWritten handles GET /api/documents/*: the latest recorded write of
// one document.
func (h *Handler) LastWritten(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	d, err := h.svc.LastWritten(path)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListRuns handles GET /api/runs?limit=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(limit)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if runs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func runID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// GetRun handles GET /api/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid run id"))
		return
	}
	run, err := h.svc.Run(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RunDocuments handles GET /api/runs/{id}/documents.
func (h *Handler) RunDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid run id"))
		return
	}
	if _, err := h.svc.Run(id); err != nil {
		writeLookupError(w, err)
		return
	}
	docs, err := h.svc.Documents(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if docs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"documents": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrLedgerDisabled):
		writeJSON(w, http.StatusNotFound, errorBody("ledger disabled"))
	default:
		slog.Error("run lookup failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
