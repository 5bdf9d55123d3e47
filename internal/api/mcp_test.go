package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teamtasks/teamtasks/internal/storage"
	"github.com/teamtasks/teamtasks/internal/tasks"
	"github.com/teamtasks/teamtasks/internal/tools"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *tasks.Manager) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr := tasks.NewManager(store, nil)
	return MCPDeps{Tools: tools.New(mgr), User: "alice"}, mgr
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPServer_RegistersTools(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_AddTask(t *testing.T) {
	deps, mgr := newTestMCPDeps(t)
	handler := mcpCallTool(deps, tools.AddTaskName)

	req := makeCallToolRequest(tools.AddTaskName, map[string]interface{}{
		"taskData": `{"title":"buy milk"}`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var task storage.Task
	if err := json.Unmarshal([]byte(toolText(t, result)), &task); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if task.Title != "buy milk" || task.UserID != "alice" {
		t.Errorf("task = %+v", task)
	}

	active, _ := mgr.List(context.Background(), "alice")
	if len(active) != 1 {
		t.Fatalf("expected 1 active task, got %d", len(active))
	}
}

func TestMCPTool_UpdateTask_Forbidden(t *testing.T) {
	deps, mgr := newTestMCPDeps(t)
	task, err := mgr.Create(context.Background(), "alice", tasks.NewTask{Title: "x"})
	if err != nil {
		t.Fatal(err)
	}
	handler := mcpCallTool(deps, tools.UpdateTaskName)

	req := makeCallToolRequest(tools.UpdateTaskName, map[string]interface{}{
		"taskId":     task.ID,
		"updateData": `{"userId":"mallory"}`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error, got %s", toolText(t, result))
	}
}

func TestMCPTool_ListTasks(t *testing.T) {
	deps, mgr := newTestMCPDeps(t)
	mgr.Create(context.Background(), "alice", tasks.NewTask{Title: "a"})
	mgr.Create(context.Background(), "bob", tasks.NewTask{Title: "b"})

	result, err := mcpCallTool(deps, tools.ListTasksName)(context.Background(), makeCallToolRequest(tools.ListTasksName, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []storage.Task
	if err := json.Unmarshal([]byte(toolText(t, result)), &list); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(list) != 1 || list[0].Title != "a" {
		t.Errorf("list = %+v", list)
	}
}

func TestMCPResource_Tasks(t *testing.T) {
	deps, mgr := newTestMCPDeps(t)
	mgr.Create(context.Background(), "alice", tasks.NewTask{Title: "a"})

	contents, err := mcpResourceTasks(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "tasks://all"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var list []storage.Task
	if err := json.Unmarshal([]byte(tc.Text), &list); err != nil || len(list) != 1 {
		t.Errorf("resource = %s, err = %v", tc.Text, err)
	}
}
