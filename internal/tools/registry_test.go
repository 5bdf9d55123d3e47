package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/teamtasks/teamtasks/internal/storage"
	"github.com/teamtasks/teamtasks/internal/tasks"
)

var ctx = context.Background()

func newTestRegistry(t *testing.T) (*Registry, *tasks.Manager) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := tasks.NewManager(store, nil)
	return New(m), m
}

func TestDefinitions(t *testing.T) {
	r, _ := newTestRegistry(t)

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3", len(defs))
	}

	want := map[string][]string{
		ListTasksName:  nil,
		AddTaskName:    {"taskData"},
		UpdateTaskName: {"taskId", "updateData"},
	}
	for _, d := range defs {
		if d.Type != "function" {
			t.Errorf("%s: type = %q, want function", d.Function.Name, d.Type)
		}
		required, ok := want[d.Function.Name]
		if !ok {
			t.Errorf("unexpected tool %q", d.Function.Name)
			continue
		}
		var schema struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
			Required   []string                   `json:"required"`
		}
		if err := json.Unmarshal(d.Function.Parameters, &schema); err != nil {
			t.Fatalf("%s: parameters are not JSON: %v", d.Function.Name, err)
		}
		if schema.Type != "object" {
			t.Errorf("%s: schema type = %q, want object", d.Function.Name, schema.Type)
		}
		if len(schema.Required) != len(required) {
			t.Errorf("%s: required = %v, want %v", d.Function.Name, schema.Required, required)
		}
		for _, p := range required {
			if _, ok := schema.Properties[p]; !ok {
				t.Errorf("%s: missing property %q", d.Function.Name, p)
			}
		}
	}

	if got := len(r.Tools()); got != 3 {
		t.Errorf("Tools() = %d, want 3", got)
	}
}

func TestAddTask(t *testing.T) {
	r, m := newTestRegistry(t)

	task, err := r.AddTask(ctx, "alice", `{"title":"buy milk","dueDate":"2025-03-01","notes":"2%"}`)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.Title != "buy milk" || task.Status != storage.StatusActive || task.UserID != "alice" {
		t.Errorf("task = %+v", task)
	}
	if task.DueDate == nil || *task.DueDate != "2025-03-01" {
		t.Errorf("DueDate = %v", task.DueDate)
	}

	all, _ := m.ListAll(ctx, "alice")
	if len(all) != 1 {
		t.Errorf("stored %d tasks, want 1", len(all))
	}
}

func TestAddTask_Invalid(t *testing.T) {
	r, m := newTestRegistry(t)

	for _, payload := range []string{
		`not json`,
		`{"description":"no title"}`,
		`{"title":""}`,
		`{"title":42}`,
	} {
		if _, err := r.AddTask(ctx, "alice", payload); !errors.Is(err, tasks.ErrValidation) {
			t.Errorf("AddTask(%s) err = %v, want ErrValidation", payload, err)
		}
	}

	all, _ := m.ListAll(ctx, "alice")
	if len(all) != 0 {
		t.Errorf("stored %d tasks, want 0", len(all))
	}
}

func TestAddTask_NoUser(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.AddTask(ctx, "", `{"title":"x"}`); !errors.Is(err, tasks.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestListTasks_AllStatuses(t *testing.T) {
	r, m := newTestRegistry(t)

	a, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "a"})
	b, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "b"})
	m.Create(ctx, "alice", tasks.NewTask{Title: "c"})
	m.Create(ctx, "bob", tasks.NewTask{Title: "not mine"})
	if _, err := m.Complete(ctx, "alice", a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SoftDelete(ctx, "alice", b.ID); err != nil {
		t.Fatal(err)
	}

	got, err := r.ListTasks(ctx, "alice")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d tasks, want 3", len(got))
	}
	statuses := map[string]int{}
	for _, task := range got {
		statuses[task.Status]++
		if task.UserID != "alice" {
			t.Errorf("leaked task of %q", task.UserID)
		}
	}
	if statuses[storage.StatusActive] != 1 || statuses[storage.StatusCompleted] != 1 || statuses[storage.StatusDeleted] != 1 {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestUpdateTask_FieldsAndChangelog(t *testing.T) {
	r, m := newTestRegistry(t)
	task, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "draft"})

	got, err := r.UpdateTask(ctx, "alice", task.ID, `{"title":"final","updateText":"reviewed"}`)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Title != "final" {
		t.Errorf("Title = %q, want final", got.Title)
	}
	if len(got.Updates) != 1 || got.Updates[0].UpdateText != "reviewed" || got.Updates[0].User != "alice" {
		t.Errorf("Updates = %+v", got.Updates)
	}
}

func TestUpdateTask_Status(t *testing.T) {
	r, m := newTestRegistry(t)
	task, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "ship"})

	got, err := r.UpdateTask(ctx, "alice", task.ID, `{"status":"completed"}`)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Status != storage.StatusCompleted || got.CompletionDate == nil {
		t.Errorf("task = %+v, want completed with completion date", got)
	}

	// completed -> active is not a lifecycle edge.
	if _, err := r.UpdateTask(ctx, "alice", task.ID, `{"status":"active"}`); !errors.Is(err, tasks.ErrNotFoundOrInvalidState) {
		t.Errorf("err = %v, want ErrNotFoundOrInvalidState", err)
	}
}

func TestUpdateTask_RejectedStatusWritesNothing(t *testing.T) {
	r, m := newTestRegistry(t)
	task, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "ship"})
	done, err := m.Complete(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	_, err = r.UpdateTask(ctx, "alice", task.ID, `{"title":"changed","updateText":"note","status":"active"}`)
	if !errors.Is(err, tasks.ErrNotFoundOrInvalidState) {
		t.Fatalf("err = %v, want ErrNotFoundOrInvalidState", err)
	}

	got, err := m.Get(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "ship" {
		t.Errorf("Title = %q, want ship", got.Title)
	}
	if len(got.Updates) != 0 {
		t.Errorf("Updates = %+v, want none", got.Updates)
	}
	if got.Status != storage.StatusCompleted || !got.UpdatedAt.Equal(done.UpdatedAt) {
		t.Errorf("task = %+v, want unchanged completed task", got)
	}
}

func TestUpdateTask_FieldsAndStatusTogether(t *testing.T) {
	r, m := newTestRegistry(t)
	task, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "ship"})

	got, err := r.UpdateTask(ctx, "alice", task.ID, `{"title":"shipped","updateText":"done","status":"completed"}`)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Title != "shipped" || got.Status != storage.StatusCompleted || len(got.Updates) != 1 {
		t.Errorf("task = %+v, want title, changelog and status applied", got)
	}
	if got.CompletionDate == nil || !got.CompletionDate.Equal(got.UpdatedAt) {
		t.Errorf("CompletionDate = %v, UpdatedAt = %v, want one write", got.CompletionDate, got.UpdatedAt)
	}
}

func TestUpdateTask_ForbiddenFields(t *testing.T) {
	r, m := newTestRegistry(t)
	task, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "keep"})

	for _, payload := range []string{
		`{"userId":"mallory"}`,
		`{"createdAt":"2020-01-01T00:00:00Z"}`,
		`{"id":"other","title":"x"}`,
	} {
		_, err := r.UpdateTask(ctx, "alice", task.ID, payload)
		if !errors.Is(err, tasks.ErrValidation) {
			t.Errorf("UpdateTask(%s) err = %v, want ErrValidation", payload, err)
		}
	}

	got, _ := m.Get(ctx, "alice", task.ID)
	if got.Title != "keep" || !got.UpdatedAt.Equal(task.UpdatedAt) {
		t.Errorf("task was modified: %+v", got)
	}
}

func TestUpdateTask_NotFoundAndUnauthorized(t *testing.T) {
	r, m := newTestRegistry(t)
	task, _ := m.Create(ctx, "bob", tasks.NewTask{Title: "bob's"})

	if _, err := r.UpdateTask(ctx, "alice", "missing", `{"title":"x"}`); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := r.UpdateTask(ctx, "alice", task.ID, `{"title":"x"}`); !errors.Is(err, tasks.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	got, _ := m.Get(ctx, "bob", task.ID)
	if got.Title != "bob's" {
		t.Errorf("Title = %q, want unchanged", got.Title)
	}
}

func TestUpdateTask_InvalidPayload(t *testing.T) {
	r, m := newTestRegistry(t)
	task, _ := m.Create(ctx, "alice", tasks.NewTask{Title: "x"})

	for _, payload := range []string{`nope`, `null`, `{"status":"archived"}`, `{"title":""}`} {
		if _, err := r.UpdateTask(ctx, "alice", task.ID, payload); !errors.Is(err, tasks.ErrValidation) {
			t.Errorf("UpdateTask(%s) err = %v, want ErrValidation", payload, err)
		}
	}
}

func TestCall(t *testing.T) {
	r, m := newTestRegistry(t)

	out, err := r.Call(ctx, "alice", AddTaskName, `{"taskData":"{\"title\":\"buy milk\"}"}`)
	if err != nil {
		t.Fatalf("Call(addTask): %v", err)
	}
	var created storage.Task
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("result is not a task: %v", err)
	}
	if created.Title != "buy milk" {
		t.Errorf("Title = %q", created.Title)
	}

	out, err = r.Call(ctx, "alice", UpdateTaskName,
		`{"taskId":"`+created.ID+`","updateData":{"notes":"whole milk"}}`)
	if err != nil {
		t.Fatalf("Call(updateTask) with inline object: %v", err)
	}
	if !strings.Contains(out, "whole milk") {
		t.Errorf("result = %s", out)
	}

	out, err = r.Call(ctx, "alice", ListTasksName, "")
	if err != nil {
		t.Fatalf("Call(listTasks): %v", err)
	}
	var list []storage.Task
	if err := json.Unmarshal([]byte(out), &list); err != nil || len(list) != 1 {
		t.Errorf("list = %s, err = %v", out, err)
	}

	all, _ := m.ListAll(ctx, "alice")
	if len(all) != 1 {
		t.Errorf("stored %d tasks, want 1", len(all))
	}
}

func TestCall_Errors(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.Call(ctx, "alice", "dropTables", `{}`); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
	if _, err := r.Call(ctx, "alice", AddTaskName, `{`); !errors.Is(err, tasks.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation for malformed arguments", err)
	}
	if _, err := r.Call(ctx, "alice", AddTaskName, `{}`); !errors.Is(err, tasks.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation for missing taskData", err)
	}
}

func TestListTasks_StoreFailure(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	r := New(tasks.NewManager(store, nil))
	store.Close()

	if _, err := r.ListTasks(ctx, "alice"); !errors.Is(err, ErrToolExecution) {
		t.Errorf("err = %v, want ErrToolExecution", err)
	}
}
