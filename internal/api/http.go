package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ovalle/braindump/internal/classify"
	"github.com/ovalle/braindump/internal/engine"
	"github.com/ovalle/braindump/internal/storage"
)

const maxCaptureBodySize = 10 << 20 // base64 attachments included

// Engine is the capture-pipeline surface the API layer consumes.
// Implemented by engine.Engine.
type Engine interface {
	Capture(ctx context.Context, in engine.CaptureInput) (engine.CaptureResult, error)
	Confirm(ctx context.Context, topics []engine.StagedTopic) []engine.TopicResult
	ConfirmStaged(ctx context.Context, entryIDs []string) []engine.TopicResult
	Discard(entryID string) error
	Staged() []engine.StagedTopic
	CaptureStatus(captureID string) (engine.Capture, bool)
	Books(ctx context.Context) ([]storage.Book, error)
	Entries(ctx context.Context) ([]storage.Entry, error)
	SearchEntries(ctx context.Context, f storage.SearchFilters) ([]storage.Entry, error)
	UpdateTask(ctx context.Context, taskID int64, patch storage.TaskPatch) error
	DeleteEntry(ctx context.Context, entryID string) error
}

type AppDeps struct {
	Engine Engine
	Token  string
}

// NewAppHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/capture", handleCapture(deps))
		r.Get("/captures/{id}", handleCaptureStatus(deps))
		r.Get("/staged", handleListStaged(deps))
		r.Post("/staged/confirm", handleConfirm(deps))
		r.Delete("/staged/{id}", handleDiscard(deps))
		r.Get("/books", handleListBooks(deps))
		r.Get("/entries", handleListEntries(deps))
		r.Get("/entries/search", handleSearchEntries(deps))
		r.Delete("/entries/{id}", handleDeleteEntry(deps))
		r.Patch("/tasks/{id}", handleUpdateTask(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type CaptureRequest struct {
	Text       string               `json:"text"`
	Attachment *classify.Attachment `json:"attachment,omitempty"`
}

func handleCapture(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxCaptureBodySize)
		defer r.Body.Close()

		var req CaptureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" && req.Attachment == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of text or attachment is required")
			return
		}

		result, err := deps.Engine.Capture(r.Context(), engine.CaptureInput{
			RawText:    req.Text,
			Attachment: req.Attachment,
		})
		if err != nil {
			// The capture itself is not lost: the result carries the error
			// state and the raw text stays visible in the entry list.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{
				"result": result,
				"error":  err.Error(),
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleCaptureStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		c, ok := deps.Engine.CaptureStatus(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "capture not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c)
	}
}

func handleListStaged(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		staged := deps.Engine.Staged()
		if staged == nil {
			staged = []engine.StagedTopic{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(staged)
	}
}

// ConfirmRequest commits staged topics. Topics carries user edits; EntryIDs
// commits as staged. Exactly one of the two must be set.
type ConfirmRequest struct {
	Topics   []engine.StagedTopic `json:"topics,omitempty"`
	EntryIDs []string             `json:"entryIds,omitempty"`
}

func handleConfirm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxCaptureBodySize)
		defer r.Body.Close()

		var req ConfirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Topics) == 0 && len(req.EntryIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topics or entryIds is required")
			return
		}
		if len(req.Topics) > 0 && len(req.EntryIDs) > 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topics and entryIds are mutually exclusive")
			return
		}

		var results []engine.TopicResult
		if len(req.Topics) > 0 {
			results = deps.Engine.Confirm(r.Context(), req.Topics)
		} else {
			results = deps.Engine.ConfirmStaged(r.Context(), req.EntryIDs)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

func handleDiscard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Engine.Discard(id)
		if errors.Is(err, engine.ErrNotStaged) {
			httpError(w, http.StatusNotFound, "not_found", "staged topic not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to discard: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "discarded"})
	}
}

func handleListBooks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := deps.Engine.Books(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list books: %v", err)
			return
		}
		if books == nil {
			books = []storage.Book{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(books)
	}
}

func handleListEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Engine.Entries(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entries: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.Entry{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

func handleSearchEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := storage.SearchFilters{
			Text:   q.Get("q"),
			BookID: q.Get("bookId"),
			Type:   q.Get("type"),
			Status: q.Get("status"),
			Limit:  parseIntParam(r, "limit", 50, 200),
		}

		entries, err := deps.Engine.SearchEntries(r.Context(), filters)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.Entry{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

// UpdateTaskRequest carries a partial task edit. Absent fields are left
// untouched; an empty string clears a field.
type UpdateTaskRequest struct {
	Description *string `json:"description,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

func handleUpdateTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id")
			return
		}

		var req UpdateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		patch := storage.TaskPatch{
			Description: req.Description,
			Assignee:    req.Assignee,
			DueDate:     req.DueDate,
			Priority:    req.Priority,
		}
		err = deps.Engine.UpdateTask(r.Context(), taskID, patch)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update task: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func handleDeleteEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Engine.DeleteEntry(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete entry: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
