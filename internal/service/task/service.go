package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"todochat/internal/apperr"
	"todochat/internal/models"
)

// Service provides user-scoped task persistence over the relational store.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateInput carries the writable fields for a new task.
type CreateInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     string
	Category    string
}

// UpdateInput updates only the fields that are non-nil.
type UpdateInput struct {
	Title       *string
	Description *string
	Completed   *bool
	Priority    *string
	DueDate     *string
	Category    *string
}

// Create inserts a new task owned by userID.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperr.ErrInvalidArgument)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrInvalidArgument)
	}
	priority := strings.ToLower(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = models.PriorityMedium
	}
	if priority != models.PriorityLow && priority != models.PriorityMedium && priority != models.PriorityHigh {
		return nil, fmt.Errorf("%w: priority must be low, medium, or high", apperr.ErrInvalidArgument)
	}
	dueDate, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		OwnerID:     userID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Completed:   false,
		Priority:    priority,
		DueDate:     dueDate,
		Category:    strings.TrimSpace(in.Category),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, owner_id, title, description, completed, priority, due_date, category, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OwnerID, task.Title, task.Description, task.Completed,
		task.Priority, task.DueDate, task.Category, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// List returns the user's tasks, newest first. completed filters by state
// when non-nil.
func (s *Service) List(ctx context.Context, userID string, completed *bool) ([]*models.Task, error) {
	query := `SELECT id, owner_id, title, description, completed, priority, due_date, category, created_at, updated_at
		FROM tasks WHERE owner_id = ?`
	args := []interface{}{userID}
	if completed != nil {
		query += ` AND completed = ?`
		args = append(args, *completed)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Get returns one task, enforcing ownership.
func (s *Service) Get(ctx context.Context, userID, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, completed, priority, due_date, category, created_at, updated_at
		 FROM tasks WHERE id = ?`, taskID,
	)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: task %s", apperr.ErrNotFound, taskID)
		}
		return nil, err
	}
	if t.OwnerID != userID {
		return nil, fmt.Errorf("%w: task %s", apperr.ErrAccessDenied, taskID)
	}
	return t, nil
}

// Update applies the provided fields and returns the updated task.
func (s *Service) Update(ctx context.Context, userID, taskID string, in UpdateInput) (*models.Task, error) {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", apperr.ErrInvalidArgument)
		}
		t.Title = title
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if in.Completed != nil {
		t.Completed = *in.Completed
	}
	if in.Priority != nil {
		priority := strings.ToLower(strings.TrimSpace(*in.Priority))
		if priority != models.PriorityLow && priority != models.PriorityMedium && priority != models.PriorityHigh {
			return nil, fmt.Errorf("%w: priority must be low, medium, or high", apperr.ErrInvalidArgument)
		}
		t.Priority = priority
	}
	if in.DueDate != nil {
		due, err := parseDueDate(*in.DueDate)
		if err != nil {
			return nil, err
		}
		t.DueDate = due
	}
	if in.Category != nil {
		t.Category = strings.TrimSpace(*in.Category)
	}
	t.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, completed = ?, priority = ?, due_date = ?, category = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		t.Title, t.Description, t.Completed, t.Priority, t.DueDate, t.Category, t.UpdatedAt,
		t.ID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

// Delete removes the task, enforcing ownership.
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	if _, err := s.Get(ctx, userID, taskID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND owner_id = ?`, taskID, userID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ToggleComplete flips the completion state and returns the updated task.
func (s *Service) ToggleComplete(ctx context.Context, userID, taskID string) (*models.Task, error) {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	t.Completed = !t.Completed
	t.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		t.Completed, t.UpdatedAt, t.ID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var due sql.NullTime
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Completed,
		&t.Priority, &due, &t.Category, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	return &t, nil
}

// parseDueDate accepts RFC3339 timestamps or bare YYYY-MM-DD dates. An empty
// string clears the due date.
func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("%w: due_date must be RFC3339 or YYYY-MM-DD", apperr.ErrInvalidArgument)
}
