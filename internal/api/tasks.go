package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teamtasks/teamtasks/internal/storage"
	"github.com/teamtasks/teamtasks/internal/tasks"
)

func handleListTasks(list func(ctx context.Context, user string) ([]storage.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := list(r.Context(), userKey(r))
		if err != nil {
			slog.Error("listing tasks", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error", err)
			return
		}
		writeJSON(w, http.StatusOK, ts)
	}
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in tasks.NewTask
		if !decodeBody(w, r, &in) {
			return
		}
		t, err := deps.Tasks.Create(r.Context(), userKey(r), in)
		if errors.Is(err, tasks.ErrValidation) {
			httpError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		if err != nil {
			slog.Error("creating task", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error", err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u tasks.Update
		if !decodeBody(w, r, &u) {
			return
		}
		t, err := deps.Tasks.Update(r.Context(), userKey(r), chi.URLParam(r, "id"), u)
		if err != nil {
			taskError(w, r, err, "Task not found")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Tasks.SoftDelete(r.Context(), userKey(r), chi.URLParam(r, "id"))
		if err != nil {
			taskError(w, r, err, "Task not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Task soft-deleted",
			"task":    t,
		})
	}
}

func handleCompleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Tasks.Complete(r.Context(), userKey(r), chi.URLParam(r, "id"))
		if err != nil {
			taskError(w, r, err, "Task not found or not active")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleRestoreTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Tasks.Restore(r.Context(), userKey(r), chi.URLParam(r, "id"))
		if err != nil {
			taskError(w, r, err, "Task not found")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// taskError maps lifecycle errors to HTTP responses. notFound is the
// message used for 404s.
func taskError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, tasks.ErrValidation):
		httpError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, tasks.ErrNotFoundOrInvalidState), errors.Is(err, tasks.ErrNotFound):
		httpError(w, http.StatusNotFound, notFound, nil)
	case errors.Is(err, tasks.ErrUnauthorized):
		httpError(w, http.StatusForbidden, "Forbidden", nil)
	default:
		slog.Error("task request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpError(w, http.StatusInternalServerError, "Internal server error", err)
	}
}
