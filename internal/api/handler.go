package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teamtasks/teamtasks/internal/chat"
	"github.com/teamtasks/teamtasks/internal/storage"
	"github.com/teamtasks/teamtasks/internal/tasks"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TaskService is the task lifecycle surface exposed over HTTP.
type TaskService interface {
	List(ctx context.Context, user string) ([]storage.Task, error)
	ListCompleted(ctx context.Context, user string) ([]storage.Task, error)
	ListDeleted(ctx context.Context, user string) ([]storage.Task, error)
	Create(ctx context.Context, user string, in tasks.NewTask) (storage.Task, error)
	Update(ctx context.Context, user, id string, u tasks.Update) (storage.Task, error)
	Complete(ctx context.Context, user, id string) (storage.Task, error)
	SoftDelete(ctx context.Context, user, id string) (storage.Task, error)
	Restore(ctx context.Context, user, id string) (storage.Task, error)
}

// ChatRunner runs one chat interaction.
type ChatRunner interface {
	Run(ctx context.Context, user, input string) (chat.Result, error)
}

// ChatHistory lists stored chat records.
type ChatHistory interface {
	ListChats(ctx context.Context, userID string, limit, offset int) ([]storage.ChatRecord, error)
}

// PromptStore manages stored system prompts.
type PromptStore interface {
	SavePrompt(ctx context.Context, p storage.Prompt) error
	ListPrompts(ctx context.Context) ([]storage.Prompt, error)
}

type Deps struct {
	Tasks    TaskService
	Chat     ChatRunner
	Chats    ChatHistory
	Prompts  PromptStore
	Verifier TokenVerifier
	Live     http.Handler // optional WebSocket endpoint mounted at /ws
}

// NewHandler returns the HTTP API: a public health check, the optional
// WebSocket endpoint, and the authenticated /api routes.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Live != nil {
		r.Handle("/ws", deps.Live)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(deps.Verifier))

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", handleListTasks(deps.Tasks.List))
			r.Get("/completed", handleListTasks(deps.Tasks.ListCompleted))
			r.Get("/deleted", handleListTasks(deps.Tasks.ListDeleted))
			r.Post("/", handleCreateTask(deps))
			r.Put("/{id}", handleUpdateTask(deps))
			r.Delete("/{id}", handleDeleteTask(deps))
			r.Patch("/{id}/complete", handleCompleteTask(deps))
			r.Patch("/{id}/restore", handleRestoreTask(deps))
		})

		r.Post("/chat", handleChat(deps))
		r.Post("/ai-chats", handleChat(deps))
		r.Get("/ai-chats", handleListChats(deps))

		r.Group(func(r chi.Router) {
			r.Use(RequireRole("admin"))
			r.Get("/admin/prompts", handleListPrompts(deps))
			r.Post("/admin/prompts", handleCreatePrompt(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"OK"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpError writes {"error": msg} and, when err is non-nil,
// "details": err.Error().
func httpError(w http.ResponseWriter, code int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	writeJSON(w, code, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
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
