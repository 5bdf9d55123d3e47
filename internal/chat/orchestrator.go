// Package chat runs one user chat interaction: it records the input, asks
// the model (letting it call task tools once), and records the answer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teamtasks/teamtasks/internal/llm"
	"github.com/teamtasks/teamtasks/internal/storage"
	"github.com/teamtasks/teamtasks/internal/tools"
)

var (
	// ErrValidation is returned for empty input.
	ErrValidation = errors.New("inputText is required")
	// ErrStorage is returned when the chat record cannot be created.
	ErrStorage = errors.New("failed to save user input")
	// ErrPrompt is returned when the stored system prompt cannot be loaded.
	ErrPrompt = errors.New("failed to fetch system prompt")
	// ErrModel is returned for any failure of either model pass.
	ErrModel = errors.New("failed to get AI response")
)

// Prompt sources.
const (
	PromptFixed  = "fixed"
	PromptStored = "stored"
)

// DefaultPromptName is the stored prompt looked up when none is configured.
const DefaultPromptName = "AI_Tasks"

// FixedPrompt is the built-in system prompt.
const FixedPrompt = `You are a task management assistant for a team task tracker.
You can call tools to read and change the user's tasks:
- listTasks: list all of the user's tasks with their ids and statuses.
- addTask: create a task. Pass taskData as a JSON object string with "title" (required), "description", "dueDate" (YYYY-MM-DD) and "notes".
- updateTask: change a task. Pass taskId and updateData as a JSON object string with any of "title", "description", "dueDate", "notes", "updateText" (a progress note) and "status" ("active", "completed" or "deleted").
Call listTasks first when you need a task id. Never invent ids.
After tools have run, answer the user briefly in plain language and say what changed.`

type ChatStore interface {
	CreateChat(ctx context.Context, c storage.ChatRecord) error
	UpdateChatResponse(ctx context.Context, id, response string, at time.Time) error
}

type PromptSource interface {
	ActivePrompt(ctx context.Context, name string) (storage.Prompt, error)
}

// Model completes a chat conversation.
type Model interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ToolRunner offers tool definitions to the model and executes its calls.
type ToolRunner interface {
	Definitions() []llm.Tool
	Call(ctx context.Context, user, name, arguments string) (string, error)
}

// Config controls how the orchestrator talks to the model.
type Config struct {
	Model        string
	Temperature  float64
	PromptSource string
	PromptName   string
	ToolsEnabled bool
}

// ToolInvocation records one tool call made during a run.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
	Failed    bool   `json:"failed,omitempty"`
}

// Result is the outcome of a successful run.
type Result struct {
	ChatID    string           `json:"chatId"`
	Response  string           `json:"response"`
	ToolCalls []ToolInvocation `json:"toolCalls"`
}

// Orchestrator runs chat interactions. Steps within a run are strictly
// sequential.
type Orchestrator struct {
	chats   ChatStore
	prompts PromptSource
	model   Model
	tools   ToolRunner
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an Orchestrator. prompts is only consulted when
// cfg.PromptSource is PromptStored; tools may be nil to disable tool use.
func New(chats ChatStore, prompts PromptSource, model Model, tools ToolRunner, cfg Config) *Orchestrator {
	if cfg.PromptSource == "" {
		cfg.PromptSource = PromptFixed
	}
	if cfg.PromptName == "" {
		cfg.PromptName = DefaultPromptName
	}
	return &Orchestrator{
		chats:   chats,
		prompts: prompts,
		model:   model,
		tools:   tools,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
}

// Run handles one chat input from user.
func (o *Orchestrator) Run(ctx context.Context, user, input string) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{}, ErrValidation
	}

	now := o.now()
	chatID := uuid.New().String()
	if err := o.chats.CreateChat(ctx, storage.ChatRecord{
		ID:        chatID,
		UserID:    user,
		InputText: input,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		o.logger.Error("saving chat input", "user", user, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	systemPrompt, err := o.systemPrompt(ctx)
	if err != nil {
		o.logger.Error("fetching system prompt", "chat_id", chatID, "error", err)
		o.record(ctx, chatID, "Prompt fetch error: "+err.Error())
		return Result{}, fmt.Errorf("%w: %v", ErrPrompt, err)
	}

	answer, calls, err := o.converse(ctx, user, systemPrompt, input)
	if err != nil {
		o.logger.Error("model request failed", "chat_id", chatID, "error", err)
		o.record(ctx, chatID, "OpenAI error: "+err.Error())
		return Result{}, fmt.Errorf("%w: %v", ErrModel, err)
	}

	o.record(ctx, chatID, answer)
	return Result{ChatID: chatID, Response: answer, ToolCalls: calls}, nil
}

func (o *Orchestrator) systemPrompt(ctx context.Context) (string, error) {
	if o.cfg.PromptSource != PromptStored {
		return FixedPrompt, nil
	}
	if o.prompts == nil {
		return "", errors.New("no prompt store configured")
	}
	p, err := o.prompts.ActivePrompt(ctx, o.cfg.PromptName)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("No active %s prompt found", o.cfg.PromptName)
	}
	if err != nil {
		return "", err
	}
	return p.Text, nil
}

// converse performs the first model pass and, when the model asked for
// tools, runs them and performs the second pass. There is only one tool
// round.
func (o *Orchestrator) converse(ctx context.Context, user, systemPrompt, input string) (string, []ToolInvocation, error) {
	req := llm.ChatRequest{
		Model: o.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: input},
		},
		Temperature: &o.cfg.Temperature,
	}
	if o.cfg.ToolsEnabled && o.tools != nil {
		req.Tools = o.tools.Definitions()
	}

	reply, err := o.complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	if len(reply.ToolCalls) == 0 || len(req.Tools) == 0 {
		if strings.TrimSpace(reply.Content) == "" {
			return "", nil, errors.New("model returned an empty response")
		}
		return reply.Content, []ToolInvocation{}, nil
	}

	reply.Role = llm.RoleAssistant
	req.Messages = append(req.Messages, reply)
	calls := make([]ToolInvocation, 0, len(reply.ToolCalls))
	for _, tc := range reply.ToolCalls {
		inv := o.invoke(ctx, user, tc)
		calls = append(calls, inv)
		req.Messages = append(req.Messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    inv.Result,
			ToolCallID: tc.ID,
		})
	}

	final, err := o.complete(ctx, req)
	if err != nil {
		return "", calls, err
	}
	if len(final.ToolCalls) > 0 {
		o.logger.Warn("ignoring tool calls in final model reply", "count", len(final.ToolCalls))
	}
	if strings.TrimSpace(final.Content) == "" {
		return "", calls, errors.New("model returned an empty response")
	}
	return final.Content, calls, nil
}

func (o *Orchestrator) complete(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	resp, err := o.model.Complete(ctx, req)
	if err != nil {
		return llm.Message{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Message{}, errors.New("model returned no choices")
	}
	return resp.Choices[0].Message, nil
}

// invoke runs one tool call. Failures become the call's result text so the
// model can report them.
func (o *Orchestrator) invoke(ctx context.Context, user string, tc llm.ToolCall) ToolInvocation {
	inv := ToolInvocation{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}

	out, err := o.tools.Call(ctx, user, tc.Function.Name, tc.Function.Arguments)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		inv.Result = fmt.Sprintf("Error: Unknown tool '%s' requested.", tc.Function.Name)
		inv.Failed = true
	case err != nil:
		inv.Result = "Error: " + err.Error()
		inv.Failed = true
	default:
		inv.Result = out
	}
	o.logger.Debug("tool call", "tool", inv.Name, "failed", inv.Failed)
	return inv
}

// record writes text as the chat's response. Failures are logged only.
func (o *Orchestrator) record(ctx context.Context, chatID, text string) {
	if err := o.chats.UpdateChatResponse(ctx, chatID, text, o.now()); err != nil {
		o.logger.Error("saving chat response", "chat_id", chatID, "error", err)
	}
}
