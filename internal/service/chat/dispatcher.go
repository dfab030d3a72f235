package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"todochat/internal/apperr"
	"todochat/internal/intent"
	"todochat/internal/models"
	"todochat/internal/service/task"
)

// Action values reported with every turn.
const (
	ActionTaskOperation = "task_operation_performed"
	ActionClarification = "clarification_requested"
	ActionInformation   = "information_provided"
)

var (
	commandPhraseRe = regexp.MustCompile(`(?i)^(add|create)\s+(a\s+)?(task\s+to\s+|task\s+|to\s+)`)
	commandWordRe   = regexp.MustCompile(`(?i)^(add|create|new)\s+`)
	renamePhraseRe  = regexp.MustCompile(`(?i)^(?:update|change|modify|edit)\s+(?:the\s+|my\s+)?(?:task\s+)?(.+?)\s+to\s+(.+)$`)
)

// Dispatcher executes task intents against the task store. It acts only on
// an unambiguous target; when a reference matches zero or several tasks it
// asks for clarification instead of guessing.
type Dispatcher struct {
	tasks *task.Service
}

func NewDispatcher(tasks *task.Service) *Dispatcher {
	return &Dispatcher{tasks: tasks}
}

// Dispatch runs the classified intent for the user and returns the reply
// text plus the action taken.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID string, in intent.Intent, message string) (string, string, error) {
	switch in.Type {
	case intent.CreateTask:
		return d.createTask(ctx, ownerID, message)
	case intent.ViewTasks:
		return d.viewTasks(ctx, ownerID)
	case intent.UpdateTask:
		return d.updateTask(ctx, ownerID, message)
	case intent.DeleteTask:
		return d.deleteTask(ctx, ownerID, in)
	case intent.MarkComplete:
		return d.setCompletion(ctx, ownerID, in, true)
	case intent.MarkIncomplete:
		return d.setCompletion(ctx, ownerID, in, false)
	}
	return "", "", fmt.Errorf("%w: intent %s is not dispatchable", apperr.ErrInvalidArgument, in.Type)
}

func (d *Dispatcher) createTask(ctx context.Context, ownerID, message string) (string, string, error) {
	title := StripCommandPhrases(message)
	created, err := d.tasks.Create(ctx, ownerID, task.CreateInput{Title: title})
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidArgument) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	return fmt.Sprintf("Task created successfully: %s", created.Title), ActionTaskOperation, nil
}

func (d *Dispatcher) viewTasks(ctx context.Context, ownerID string) (string, string, error) {
	tasks, err := d.tasks.List(ctx, ownerID, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	if len(tasks) == 0 {
		return "No tasks found.", ActionTaskOperation, nil
	}
	titles := make([]string, len(tasks))
	for i, t := range tasks {
		titles[i] = t.Title
	}
	return fmt.Sprintf("Tasks retrieved: %s", strings.Join(titles, ", ")), ActionTaskOperation, nil
}

func (d *Dispatcher) updateTask(ctx context.Context, ownerID, message string) (string, string, error) {
	parts := renamePhraseRe.FindStringSubmatch(strings.TrimSpace(message))
	if parts == nil {
		return "Please tell me which task to update and its new title, for example: update buy milk to buy oat milk.",
			ActionClarification, nil
	}
	oldRef, newTitle := strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])

	target, clarification, err := d.resolveByPhrase(ctx, ownerID, oldRef)
	if err != nil {
		return "", "", err
	}
	if target == nil {
		return clarification, ActionClarification, nil
	}
	updated, err := d.tasks.Update(ctx, ownerID, target.ID, task.UpdateInput{Title: &newTitle})
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidArgument) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	return fmt.Sprintf("Task updated: %s is now %s", target.Title, updated.Title), ActionTaskOperation, nil
}

func (d *Dispatcher) deleteTask(ctx context.Context, ownerID string, in intent.Intent) (string, string, error) {
	target, clarification, err := d.resolveByEntities(ctx, ownerID, in.ExtractedEntities)
	if err != nil {
		return "", "", err
	}
	if target == nil {
		return clarification, ActionClarification, nil
	}
	if err := d.tasks.Delete(ctx, ownerID, target.ID); err != nil {
		return "", "", fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	return fmt.Sprintf("Task deleted: %s", target.Title), ActionTaskOperation, nil
}

func (d *Dispatcher) setCompletion(ctx context.Context, ownerID string, in intent.Intent, completed bool) (string, string, error) {
	target, clarification, err := d.resolveByEntities(ctx, ownerID, in.ExtractedEntities)
	if err != nil {
		return "", "", err
	}
	if target == nil {
		return clarification, ActionClarification, nil
	}
	updated, err := d.tasks.Update(ctx, ownerID, target.ID, task.UpdateInput{Completed: &completed})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	state := "complete"
	if !updated.Completed {
		state = "incomplete"
	}
	return fmt.Sprintf("Task marked as %s: %s", state, updated.Title), ActionTaskOperation, nil
}

// resolveByEntities matches extracted entities against task titles by
// case-insensitive substring. A nil task with a non-empty string means the
// reference was ambiguous or unmatched.
func (d *Dispatcher) resolveByEntities(ctx context.Context, ownerID string, entities []string) (*models.Task, string, error) {
	tasks, err := d.tasks.List(ctx, ownerID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	matched := make([]*models.Task, 0, 1)
	seen := make(map[string]struct{})
	for _, entity := range entities {
		needle := strings.ToLower(strings.TrimSpace(entity))
		if needle == "" {
			continue
		}
		for _, t := range tasks {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			if strings.Contains(strings.ToLower(t.Title), needle) {
				seen[t.ID] = struct{}{}
				matched = append(matched, t)
			}
		}
	}
	return pickUnique(matched)
}

// resolveByPhrase matches one free-text reference against task titles.
func (d *Dispatcher) resolveByPhrase(ctx context.Context, ownerID, phrase string) (*models.Task, string, error) {
	tasks, err := d.tasks.List(ctx, ownerID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	needle := strings.ToLower(strings.TrimSpace(phrase))
	var matched []*models.Task
	for _, t := range tasks {
		title := strings.ToLower(t.Title)
		if strings.Contains(title, needle) || strings.Contains(needle, title) {
			matched = append(matched, t)
		}
	}
	return pickUnique(matched)
}

func pickUnique(matched []*models.Task) (*models.Task, string, error) {
	switch len(matched) {
	case 1:
		return matched[0], "", nil
	case 0:
		return nil, "I couldn't find a matching task. Which task did you mean?", nil
	default:
		titles := make([]string, len(matched))
		for i, t := range matched {
			titles[i] = t.Title
		}
		return nil, fmt.Sprintf("Multiple tasks match: %s. Which one did you mean?", strings.Join(titles, ", ")), nil
	}
}

// StripCommandPhrases removes leading command words ("add a task to",
// "create task", "new") from a message so the remainder can serve as a task
// title. An all-command message falls back to the trimmed original.
func StripCommandPhrases(message string) string {
	cleaned := commandPhraseRe.ReplaceAllString(message, "")
	cleaned = commandWordRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return strings.TrimSpace(message)
	}
	return cleaned
}
