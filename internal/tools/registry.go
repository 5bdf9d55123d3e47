// Package tools exposes task operations as named tools that a language
// model (or an MCP client) can call.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teamtasks/teamtasks/internal/llm"
	"github.com/teamtasks/teamtasks/internal/storage"
	"github.com/teamtasks/teamtasks/internal/tasks"
)

// Tool names as seen by the model.
const (
	ListTasksName  = "listTasks"
	AddTaskName    = "addTask"
	UpdateTaskName = "updateTask"
)

var (
	// ErrToolExecution wraps failures raised while a tool ran.
	ErrToolExecution = errors.New("tool execution failed")
	// ErrUnknownTool is returned by Call for names outside the registry.
	ErrUnknownTool = errors.New("unknown tool")
)

// TaskManager is the subset of the lifecycle manager the tools drive.
type TaskManager interface {
	ListAll(ctx context.Context, user string) ([]storage.Task, error)
	Create(ctx context.Context, user string, in tasks.NewTask) (storage.Task, error)
	Lookup(ctx context.Context, user, id string) (storage.Task, error)
	Update(ctx context.Context, user, id string, u tasks.Update) (storage.Task, error)
}

// Registry holds the tool definitions and dispatches calls to the task
// manager on behalf of a user.
type Registry struct {
	tasks  TaskManager
	defs   []mcp.Tool
	logger *slog.Logger
}

func New(m TaskManager) *Registry {
	return &Registry{
		tasks:  m,
		defs:   definitions(),
		logger: slog.Default(),
	}
}

func definitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ListTasksName,
			mcp.WithDescription("List all of the user's tasks in every status (active, completed, deleted)."),
		),
		mcp.NewTool(AddTaskName,
			mcp.WithDescription("Create a new active task for the user."),
			mcp.WithString("taskData",
				mcp.Required(),
				mcp.Description(`JSON object string with the new task's fields: "title" (required), "description", "dueDate" (YYYY-MM-DD), "notes".`),
			),
		),
		mcp.NewTool(UpdateTaskName,
			mcp.WithDescription("Update fields of one of the user's tasks, optionally logging a progress note or changing its status."),
			mcp.WithString("taskId",
				mcp.Required(),
				mcp.Description("ID of the task to update."),
			),
			mcp.WithString("updateData",
				mcp.Required(),
				mcp.Description(`JSON object string with the fields to change: "title", "description", "dueDate", "notes", "updateText" (appends a changelog entry), "status" ("active", "completed" or "deleted").`),
			),
		),
	}
}

// Tools returns the MCP tool definitions.
func (r *Registry) Tools() []mcp.Tool {
	return r.defs
}

// Definitions returns the tool list in chat-completions function format.
func (r *Registry) Definitions() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.defs))
	for _, d := range r.defs {
		params, err := json.Marshal(d.InputSchema)
		if err != nil {
			r.logger.Error("marshaling tool schema", "tool", d.Name, "error", err)
			continue
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

type addTaskArgs struct {
	TaskData json.RawMessage `json:"taskData"`
}

type updateTaskArgs struct {
	TaskID     string          `json:"taskId"`
	UpdateData json.RawMessage `json:"updateData"`
}

// Call runs the tool called name with the model-supplied JSON arguments and
// returns the JSON-encoded result.
func (r *Registry) Call(ctx context.Context, user, name, arguments string) (string, error) {
	var result any
	var err error

	switch name {
	case ListTasksName:
		result, err = r.ListTasks(ctx, user)
	case AddTaskName:
		var args addTaskArgs
		if err := decodeArgs(arguments, &args); err != nil {
			return "", err
		}
		payload, err := payloadString(args.TaskData)
		if err != nil {
			return "", fmt.Errorf("%w: taskData: %v", tasks.ErrValidation, err)
		}
		result, err = r.AddTask(ctx, user, payload)
		if err != nil {
			return "", err
		}
	case UpdateTaskName:
		var args updateTaskArgs
		if err := decodeArgs(arguments, &args); err != nil {
			return "", err
		}
		payload, err := payloadString(args.UpdateData)
		if err != nil {
			return "", fmt.Errorf("%w: updateData: %v", tasks.ErrValidation, err)
		}
		result, err = r.UpdateTask(ctx, user, args.TaskID, payload)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("%w: encoding result: %v", ErrToolExecution, err)
	}
	return string(b), nil
}

// ListTasks returns every task the user owns.
func (r *Registry) ListTasks(ctx context.Context, user string) ([]storage.Task, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: user is required to list tasks", tasks.ErrUnauthorized)
	}
	ts, err := r.tasks.ListAll(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolExecution, err)
	}
	return ts, nil
}

// AddTaskInput is the typed form of the addTask payload.
type AddTaskInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     *string `json:"dueDate"`
	Notes       string  `json:"notes"`
}

// AddTask parses taskData and creates the task. Nothing is written when
// the payload is malformed or lacks a title.
func (r *Registry) AddTask(ctx context.Context, user, taskData string) (storage.Task, error) {
	if user == "" {
		return storage.Task{}, fmt.Errorf("%w: user is required to add a task", tasks.ErrUnauthorized)
	}
	var in AddTaskInput
	if err := json.Unmarshal([]byte(taskData), &in); err != nil {
		return storage.Task{}, fmt.Errorf("%w: invalid task data, expected a JSON object: %v", tasks.ErrValidation, err)
	}
	if in.Title == "" {
		return storage.Task{}, fmt.Errorf("%w: title is required", tasks.ErrValidation)
	}

	t, err := r.tasks.Create(ctx, user, tasks.NewTask{
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Notes:       in.Notes,
	})
	if err != nil {
		return storage.Task{}, classify(err)
	}
	return t, nil
}

// UpdateTaskInput is the typed form of the updateTask payload.
type UpdateTaskInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"dueDate"`
	Notes       *string `json:"notes"`
	UpdateText  string  `json:"updateText"`
	Status      *string `json:"status"`
}

var immutableFields = []string{"id", "userId", "createdAt"}

// ParseUpdateTaskInput decodes an updateTask payload, rejecting attempts to
// set immutable fields.
func ParseUpdateTaskInput(updateData string) (UpdateTaskInput, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(updateData), &raw); err != nil || raw == nil {
		if err == nil {
			err = errors.New("payload is null")
		}
		return UpdateTaskInput{}, fmt.Errorf("%w: invalid update data, expected a JSON object: %v", tasks.ErrValidation, err)
	}
	for _, f := range immutableFields {
		if _, ok := raw[f]; ok {
			return UpdateTaskInput{}, fmt.Errorf("%w: cannot update userId, createdAt, or id fields", tasks.ErrValidation)
		}
	}

	var in UpdateTaskInput
	if err := json.Unmarshal([]byte(updateData), &in); err != nil {
		return UpdateTaskInput{}, fmt.Errorf("%w: invalid update data: %v", tasks.ErrValidation, err)
	}
	if in.Status != nil {
		switch *in.Status {
		case storage.StatusActive, storage.StatusCompleted, storage.StatusDeleted:
		default:
			return UpdateTaskInput{}, fmt.Errorf("%w: unknown status %q", tasks.ErrValidation, *in.Status)
		}
	}
	return in, nil
}

// UpdateTask applies updateData to taskID. Field changes are applied first,
// then a requested status change is routed through the lifecycle.
func (r *Registry) UpdateTask(ctx context.Context, user, taskID, updateData string) (storage.Task, error) {
	if user == "" {
		return storage.Task{}, fmt.Errorf("%w: user is required to update a task", tasks.ErrUnauthorized)
	}
	if taskID == "" {
		return storage.Task{}, fmt.Errorf("%w: taskId is required", tasks.ErrValidation)
	}
	in, err := ParseUpdateTaskInput(updateData)
	if err != nil {
		return storage.Task{}, err
	}

	if _, err := r.tasks.Lookup(ctx, user, taskID); err != nil {
		return storage.Task{}, classify(err)
	}

	// Field edits, the changelog entry and the status change land in one
	// write; a rejected status leaves the task untouched.
	t, err := r.tasks.Update(ctx, user, taskID, tasks.Update{
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Notes:       in.Notes,
		UpdateText:  in.UpdateText,
		Status:      in.Status,
	})
	if err != nil {
		return storage.Task{}, classify(err)
	}
	return t, nil
}

// classify keeps domain errors as they are and wraps everything else as a
// tool execution failure.
func classify(err error) error {
	for _, known := range []error{
		tasks.ErrValidation, tasks.ErrNotFound, tasks.ErrUnauthorized, tasks.ErrNotFoundOrInvalidState,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrToolExecution, err)
}

func decodeArgs(arguments string, v any) error {
	if len(bytes.TrimSpace([]byte(arguments))) == 0 {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return fmt.Errorf("%w: invalid tool arguments: %v", tasks.ErrValidation, err)
	}
	return nil
}

// payloadString accepts a serialized JSON object either as a JSON string
// (the declared contract) or inlined as an object.
func payloadString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", errors.New("missing")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(trimmed), nil
}
