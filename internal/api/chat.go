package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teamtasks/teamtasks/internal/chat"
)

type chatRequest struct {
	InputText string `json:"inputText"`
}

type chatResponse struct {
	Success   bool                  `json:"success"`
	Response  string                `json:"response"`
	ChatID    string                `json:"chatId"`
	ToolCalls []chat.ToolInvocation `json:"toolCalls"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Chat.Run(r.Context(), userKey(r), req.InputText)
		if err != nil {
			chatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{
			Success:   true,
			Response:  res.Response,
			ChatID:    res.ChatID,
			ToolCalls: res.ToolCalls,
		})
	}
}

func chatError(w http.ResponseWriter, err error) {
	for _, kind := range []error{chat.ErrStorage, chat.ErrPrompt, chat.ErrModel} {
		if errors.Is(err, kind) {
			msg := kind.Error()
			details := strings.TrimPrefix(err.Error(), msg+": ")
			httpError(w, http.StatusInternalServerError, capitalize(msg), errors.New(details))
			return
		}
	}
	if errors.Is(err, chat.ErrValidation) {
		httpError(w, http.StatusBadRequest, chat.ErrValidation.Error(), nil)
		return
	}
	slog.Error("chat request failed", "error", err)
	httpError(w, http.StatusInternalServerError, "Internal server error", err)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func handleListChats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		chats, err := deps.Chats.ListChats(r.Context(), userKey(r), limit, offset)
		if err != nil {
			slog.Error("listing chats", "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error", err)
			return
		}
		writeJSON(w, http.StatusOK, chats)
	}
}
