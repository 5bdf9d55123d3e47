package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Task status values.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusDeleted   = "deleted"
)

// Task is a unit of trackable work owned by a single user.
type Task struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	DueDate        *string       `json:"dueDate"`
	Status         string        `json:"status"`
	Notes          string        `json:"notes"`
	Updates        []UpdateEntry `json:"updates"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	CompletionDate *time.Time    `json:"completionDate"`
	DeletionDate   *time.Time    `json:"deletionDate"`
}

// UpdateEntry is one changelog line appended to a task.
type UpdateEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	User       string    `json:"user"`
	UpdateText string    `json:"updateText"`
}

// ChatRecord is the persisted record of one chat interaction.
type ChatRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	InputText string    `json:"inputText"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Prompt struct {
	ID         string    `json:"id"`
	PromptName string    `json:"promptName"`
	Status     string    `json:"status"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}
