package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so that lexical order of stored timestamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding tasks, chat records, and prompts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "teamtasks.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Tasks ---

const taskColumns = `id, user_id, title, description, due_date, status, notes, updates, created_at, updated_at, completion_date, deletion_date`

// CreateTask inserts t and returns the stored task.
func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.Updates == nil {
		t.Updates = []UpdateEntry{}
	}
	updates, err := json.Marshal(t.Updates)
	if err != nil {
		return Task{}, fmt.Errorf("marshaling updates: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, nullString(t.DueDate), t.Status, t.Notes, string(updates),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullTime(t.CompletionDate), nullTime(t.DeletionDate),
	)
	if err != nil {
		return Task{}, fmt.Errorf("inserting task: %w", err)
	}
	return s.GetTask(ctx, t.ID)
}

// GetTask returns the task with the given id regardless of owner.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

// ListTasks returns userID's tasks ordered by updated_at descending.
// An empty status matches every status.
func (s *Store) ListTasks(ctx context.Context, userID, status string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// UpdateTask loads the task, applies mutate, and writes every mutable field
// back inside a single transaction. The written task is returned. If mutate
// returns an error nothing is written and that error is returned unchanged.
func (s *Store) UpdateTask(ctx context.Context, id string, mutate func(*Task) error) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}

	if err := mutate(&t); err != nil {
		return Task{}, err
	}

	updates, err := json.Marshal(t.Updates)
	if err != nil {
		return Task{}, fmt.Errorf("marshaling updates: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, due_date = ?, status = ?, notes = ?, updates = ?,
			updated_at = ?, completion_date = ?, deletion_date = ?
		WHERE id = ?`,
		t.Title, t.Description, nullString(t.DueDate), t.Status, t.Notes, string(updates),
		formatTime(t.UpdatedAt), nullTime(t.CompletionDate), nullTime(t.DeletionDate), id,
	)
	if err != nil {
		return Task{}, fmt.Errorf("updating task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("committing task update: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var dueDate, completion, deletion sql.NullString
	var updates, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &dueDate, &t.Status, &t.Notes, &updates,
		&createdAt, &updatedAt, &completion, &deletion)
	if err != nil {
		return Task{}, err
	}
	if dueDate.Valid {
		d := dueDate.String
		t.DueDate = &d
	}
	if err := json.Unmarshal([]byte(updates), &t.Updates); err != nil {
		return Task{}, fmt.Errorf("parsing updates for task %s: %w", t.ID, err)
	}
	if t.Updates == nil {
		t.Updates = []UpdateEntry{}
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at for task %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Task{}, fmt.Errorf("parsing updated_at for task %s: %w", t.ID, err)
	}
	if t.CompletionDate, err = parseNullTime(completion); err != nil {
		return Task{}, fmt.Errorf("parsing completion_date for task %s: %w", t.ID, err)
	}
	if t.DeletionDate, err = parseNullTime(deletion); err != nil {
		return Task{}, fmt.Errorf("parsing deletion_date for task %s: %w", t.ID, err)
	}
	return t, nil
}

// --- AI chats ---

func (s *Store) CreateChat(ctx context.Context, c ChatRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_chats (id, user_id, input_text, response, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.InputText, c.Response, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

// UpdateChatResponse overwrites the response of chat id and bumps updated_at.
func (s *Store) UpdateChatResponse(ctx context.Context, id, response string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ai_chats SET response = ?, updated_at = ? WHERE id = ?`,
		response, formatTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, id string) (ChatRecord, error) {
	var c ChatRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, input_text, response, created_at, updated_at
		FROM ai_chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.InputText, &c.Response, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatRecord{}, ErrNotFound
	}
	if err != nil {
		return ChatRecord{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return ChatRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ChatRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// ListChats returns userID's chat records, newest first.
func (s *Store) ListChats(ctx context.Context, userID string, limit, offset int) ([]ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, input_text, response, created_at, updated_at
		FROM ai_chats WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []ChatRecord{}
	for rows.Next() {
		var c ChatRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.InputText, &c.Response, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- AI prompts ---

func (s *Store) SavePrompt(ctx context.Context, p Prompt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_prompts (id, prompt_name, status, text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.PromptName, p.Status, p.Text, formatTime(p.CreatedAt),
	)
	return err
}

// ActivePrompt returns the most recently created prompt named name with
// status "active".
func (s *Store) ActivePrompt(ctx context.Context, name string) (Prompt, error) {
	var p Prompt
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, prompt_name, status, text, created_at
		FROM ai_prompts WHERE prompt_name = ? AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, name,
	).Scan(&p.ID, &p.PromptName, &p.Status, &p.Text, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Prompt{}, ErrNotFound
	}
	if err != nil {
		return Prompt{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Prompt{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

func (s *Store) ListPrompts(ctx context.Context) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_name, status, text, created_at
		FROM ai_prompts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Prompt{}
	for rows.Next() {
		var p Prompt
		var createdAt string
		if err := rows.Scan(&p.ID, &p.PromptName, &p.Status, &p.Text, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
