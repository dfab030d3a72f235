package task

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"todochat/internal/apperr"
	"todochat/internal/config"
	"todochat/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertUser(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, "user_"+id, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, "u1")
	svc := NewService(db)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", CreateInput{
		Title:       "  buy milk  ",
		Description: "two liters",
		DueDate:     "2026-09-15",
		Category:    "errands",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.Title != "buy milk" {
		t.Fatalf("expected trimmed title, got %q", created.Title)
	}
	if created.Priority != "medium" {
		t.Fatalf("expected default priority medium, got %q", created.Priority)
	}
	if created.DueDate == nil || created.DueDate.Format("2006-01-02") != "2026-09-15" {
		t.Fatalf("unexpected due date: %v", created.DueDate)
	}
	if created.Completed {
		t.Fatalf("new task should not be completed")
	}

	got, err := svc.Get(ctx, "u1", created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != created.ID || got.Title != "buy milk" {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, "u1")
	svc := NewService(db)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "u1", CreateInput{Title: "   "}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty title, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", CreateInput{Title: "x", Priority: "urgent"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad priority, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", CreateInput{Title: "x", DueDate: "next tuesday"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad due date, got %v", err)
	}
}

func TestListTasksFilter(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, "u1")
	svc := NewService(db)
	ctx := context.Background()

	first, err := svc.Create(ctx, "u1", CreateInput{Title: "first"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "u1", CreateInput{Title: "second"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.ToggleComplete(ctx, "u1", first.ID); err != nil {
		t.Fatalf("ToggleComplete: %v", err)
	}

	all, err := svc.List(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}

	done := true
	completed, err := svc.List(ctx, "u1", &done)
	if err != nil {
		t.Fatalf("List completed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != first.ID {
		t.Fatalf("expected only first task completed, got %+v", completed)
	}
}

func TestUpdateTask(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, "u1")
	svc := NewService(db)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", CreateInput{Title: "draft report"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	title := "final report"
	priority := "high"
	updated, err := svc.Update(ctx, "u1", created.ID, UpdateInput{Title: &title, Priority: &priority})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "final report" || updated.Priority != "high" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if updated.Description != "" {
		t.Fatalf("untouched field changed: %q", updated.Description)
	}

	empty := ""
	if _, err := svc.Update(ctx, "u1", created.ID, UpdateInput{Title: &empty}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty title, got %v", err)
	}
}

func TestTaskOwnershipIsolation(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, "owner")
	insertUser(t, db, "intruder")
	svc := NewService(db)
	ctx := context.Background()

	created, err := svc.Create(ctx, "owner", CreateInput{Title: "private"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Get(ctx, "intruder", created.ID); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if err := svc.Delete(ctx, "intruder", created.ID); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Fatalf("expected access denied on delete, got %v", err)
	}
	if _, err := svc.Get(ctx, "owner", "missing-id"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	tasks, err := svc.List(ctx, "intruder", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("intruder should see no tasks, got %d", len(tasks))
	}
}

func TestDeleteTask(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, "u1")
	svc := NewService(db)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", CreateInput{Title: "temp"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, "u1", created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, "u1", created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
