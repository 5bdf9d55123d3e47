// Package tasks enforces the task lifecycle: active tasks can be completed
// or soft-deleted, deleted tasks can be restored, and any task can be edited
// with an optional changelog entry.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teamtasks/teamtasks/internal/storage"
)

var (
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrNotFoundOrInvalidState is returned when a task is absent, owned by
	// someone else, or not in the source state a transition requires.
	ErrNotFoundOrInvalidState = errors.New("task not found or not in a valid state")
	// ErrNotFound is returned by owner-agnostic lookups for absent tasks.
	ErrNotFound = errors.New("task not found")
	// ErrUnauthorized is returned when a caller touches a task it does not own.
	ErrUnauthorized = errors.New("not authorized for this task")
)

// Store is the persistence the manager writes through to.
type Store interface {
	CreateTask(ctx context.Context, t storage.Task) (storage.Task, error)
	GetTask(ctx context.Context, id string) (storage.Task, error)
	ListTasks(ctx context.Context, userID, status string) ([]storage.Task, error)
	UpdateTask(ctx context.Context, id string, mutate func(*storage.Task) error) (storage.Task, error)
}

// Notifier receives an event after every successful mutation.
type Notifier interface {
	Notify(userKey string, payload any)
}

// Event is the payload pushed to a task owner's live connections.
type Event struct {
	Type string       `json:"type"`
	Task storage.Task `json:"task"`
}

// NewTask holds the fields accepted on creation.
type NewTask struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     *string `json:"dueDate"`
	Notes       string  `json:"notes"`
}

// Update is a partial update. Nil fields are left untouched; a non-empty
// UpdateText appends one changelog entry. An empty DueDate clears it.
// Status, when set, moves the task along a lifecycle edge in the same write
// as the field changes; it is not accepted from request bodies.
type Update struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"dueDate"`
	Notes       *string `json:"notes"`
	UpdateText  string  `json:"updateText"`
	Status      *string `json:"-"`
}

// Manager is the sole mutator of a task's status and lifecycle timestamps.
type Manager struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewManager creates a Manager. notifier may be nil.
func NewManager(store Store, notifier Notifier) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
}

func (m *Manager) Create(ctx context.Context, user string, in NewTask) (storage.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return storage.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	dueDate, err := normalizeDueDate(in.DueDate)
	if err != nil {
		return storage.Task{}, err
	}

	now := m.now()
	t, err := m.store.CreateTask(ctx, storage.Task{
		ID:          uuid.New().String(),
		UserID:      user,
		Title:       in.Title,
		Description: in.Description,
		DueDate:     dueDate,
		Status:      storage.StatusActive,
		Notes:       in.Notes,
		Updates:     []storage.UpdateEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return storage.Task{}, fmt.Errorf("creating task: %w", err)
	}
	m.emit("task.created", t)
	return t, nil
}

// Get returns a task owned by user.
func (m *Manager) Get(ctx context.Context, user, id string) (storage.Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && t.UserID != user) {
		return storage.Task{}, ErrNotFoundOrInvalidState
	}
	if err != nil {
		return storage.Task{}, fmt.Errorf("loading task: %w", err)
	}
	return t, nil
}

// Lookup returns a task by id without an ownership check, distinguishing
// absent tasks (ErrNotFound) from tasks of another user (ErrUnauthorized).
func (m *Manager) Lookup(ctx context.Context, user, id string) (storage.Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Task{}, ErrNotFound
	}
	if err != nil {
		return storage.Task{}, fmt.Errorf("loading task: %w", err)
	}
	if t.UserID != user {
		return storage.Task{}, ErrUnauthorized
	}
	return t, nil
}

func (m *Manager) Update(ctx context.Context, user, id string, u Update) (storage.Task, error) {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return storage.Task{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if u.Status != nil && !validStatus(*u.Status) {
		return storage.Task{}, fmt.Errorf("%w: unknown status %q", ErrValidation, *u.Status)
	}
	var dueDate *string
	if u.DueDate != nil {
		d, err := normalizeDueDate(u.DueDate)
		if err != nil {
			return storage.Task{}, err
		}
		dueDate = d
	}

	kind := "task.updated"
	t, err := m.mutate(ctx, user, id, func(t *storage.Task, now time.Time) error {
		if u.Status != nil && *u.Status != t.Status {
			if err := applyStatus(t, *u.Status, now); err != nil {
				return err
			}
			kind = statusEvent(*u.Status)
		}
		if u.Title != nil {
			t.Title = *u.Title
		}
		if u.Description != nil {
			t.Description = *u.Description
		}
		if u.DueDate != nil {
			t.DueDate = dueDate
		}
		if u.Notes != nil {
			t.Notes = *u.Notes
		}
		if u.UpdateText != "" {
			t.Updates = append(t.Updates, storage.UpdateEntry{
				Timestamp:  now,
				User:       user,
				UpdateText: u.UpdateText,
			})
		}
		return nil
	})
	if err != nil {
		return storage.Task{}, err
	}
	m.emit(kind, t)
	return t, nil
}

// Complete moves an active task to completed.
func (m *Manager) Complete(ctx context.Context, user, id string) (storage.Task, error) {
	return m.move(ctx, user, id, storage.StatusCompleted)
}

// SoftDelete marks a task deleted. Only existence and ownership are
// checked; completed and already-deleted tasks can be deleted too.
func (m *Manager) SoftDelete(ctx context.Context, user, id string) (storage.Task, error) {
	return m.move(ctx, user, id, storage.StatusDeleted)
}

// Restore moves a deleted task back to active. DeletionDate is kept.
func (m *Manager) Restore(ctx context.Context, user, id string) (storage.Task, error) {
	return m.move(ctx, user, id, storage.StatusActive)
}

// Transition moves a task to status along the lifecycle edges. Asking for
// the current status returns the task unchanged.
func (m *Manager) Transition(ctx context.Context, user, id, status string) (storage.Task, error) {
	if !validStatus(status) {
		return storage.Task{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	current, err := m.Get(ctx, user, id)
	if err != nil {
		return storage.Task{}, err
	}
	if current.Status == status {
		return current, nil
	}
	return m.move(ctx, user, id, status)
}

func (m *Manager) move(ctx context.Context, user, id, status string) (storage.Task, error) {
	t, err := m.mutate(ctx, user, id, func(t *storage.Task, now time.Time) error {
		return applyStatus(t, status, now)
	})
	if err != nil {
		return storage.Task{}, err
	}
	m.emit(statusEvent(status), t)
	return t, nil
}

// applyStatus moves t to status or returns ErrNotFoundOrInvalidState when
// no lifecycle edge leads there from t's current status.
func applyStatus(t *storage.Task, status string, now time.Time) error {
	switch status {
	case storage.StatusCompleted:
		if t.Status != storage.StatusActive {
			return ErrNotFoundOrInvalidState
		}
		t.CompletionDate = &now
	case storage.StatusDeleted:
		t.DeletionDate = &now
	case storage.StatusActive:
		if t.Status != storage.StatusDeleted {
			return ErrNotFoundOrInvalidState
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	t.Status = status
	return nil
}

func validStatus(s string) bool {
	switch s {
	case storage.StatusActive, storage.StatusCompleted, storage.StatusDeleted:
		return true
	}
	return false
}

func statusEvent(status string) string {
	switch status {
	case storage.StatusCompleted:
		return "task.completed"
	case storage.StatusDeleted:
		return "task.deleted"
	default:
		return "task.restored"
	}
}

// List returns the user's active tasks, most recently updated first.
func (m *Manager) List(ctx context.Context, user string) ([]storage.Task, error) {
	return m.list(ctx, user, storage.StatusActive)
}

func (m *Manager) ListCompleted(ctx context.Context, user string) ([]storage.Task, error) {
	return m.list(ctx, user, storage.StatusCompleted)
}

func (m *Manager) ListDeleted(ctx context.Context, user string) ([]storage.Task, error) {
	return m.list(ctx, user, storage.StatusDeleted)
}

// ListAll returns every task the user owns regardless of status.
func (m *Manager) ListAll(ctx context.Context, user string) ([]storage.Task, error) {
	return m.list(ctx, user, "")
}

func (m *Manager) list(ctx context.Context, user, status string) ([]storage.Task, error) {
	ts, err := m.store.ListTasks(ctx, user, status)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return ts, nil
}

// mutate runs fn against the stored task inside one store update, after the
// ownership check, and stamps UpdatedAt.
func (m *Manager) mutate(ctx context.Context, user, id string, fn func(t *storage.Task, now time.Time) error) (storage.Task, error) {
	now := m.now()
	t, err := m.store.UpdateTask(ctx, id, func(t *storage.Task) error {
		if t.UserID != user {
			return ErrNotFoundOrInvalidState
		}
		if err := fn(t, now); err != nil {
			return err
		}
		t.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return storage.Task{}, ErrNotFoundOrInvalidState
	case errors.Is(err, ErrNotFoundOrInvalidState):
		return storage.Task{}, err
	case err != nil:
		return storage.Task{}, fmt.Errorf("updating task: %w", err)
	}
	return t, nil
}

func (m *Manager) emit(kind string, t storage.Task) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(t.UserID, Event{Type: kind, Task: t})
}

// normalizeDueDate accepts YYYY-MM-DD or RFC 3339. An empty string clears
// the due date.
func normalizeDueDate(d *string) (*string, error) {
	if d == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*d)
	if v == "" {
		return nil, nil
	}
	if _, err := time.Parse(time.DateOnly, v); err == nil {
		return &v, nil
	}
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return &v, nil
	}
	return nil, fmt.Errorf("%w: dueDate %q must be YYYY-MM-DD or RFC 3339", ErrValidation, v)
}
