package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teamtasks/teamtasks/internal/storage"
)

type promptRequest struct {
	PromptName string `json:"promptName"`
	Status     string `json:"status"`
	Text       string `json:"text"`
}

func handleListPrompts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := deps.Prompts.ListPrompts(r.Context())
		if err != nil {
			slog.Error("listing prompts", "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error", err)
			return
		}
		writeJSON(w, http.StatusOK, ps)
	}
}

func handleCreatePrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req promptRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.PromptName) == "" {
			httpError(w, http.StatusBadRequest, "promptName is required", nil)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "text is required", nil)
			return
		}
		if req.Status == "" {
			req.Status = "active"
		}

		p := storage.Prompt{
			ID:         uuid.New().String(),
			PromptName: req.PromptName,
			Status:     req.Status,
			Text:       req.Text,
			CreatedAt:  time.Now().UTC(),
		}
		if err := deps.Prompts.SavePrompt(r.Context(), p); err != nil {
			slog.Error("saving prompt", "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error", err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}
