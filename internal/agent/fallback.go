package agent

import (
	"context"
	"fmt"

	"todochat/internal/intent"
	"todochat/internal/models"
)

// Fallback is a deterministic pattern responder. It classifies the message
// itself and answers with a fixed phrase per intent family, so the chat path
// keeps working without any model credentials or network access.
type Fallback struct{}

// NewFallback returns the deterministic responder.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Generate replies based on the classified intent of the message alone.
func (f *Fallback) Generate(_ context.Context, _ []*models.Message, message string) (string, error) {
	in := intent.Classify(message)
	switch in.Type {
	case intent.CreateTask:
		return fmt.Sprintf("I understand you want to create a task. You mentioned: %q.", message), nil
	case intent.ViewTasks:
		return "You'd like to view your tasks. I'll retrieve them for you.", nil
	case intent.UpdateTask:
		return fmt.Sprintf("I'll help you update your task based on your request: %q.", message), nil
	case intent.DeleteTask:
		return "You want to delete a task. Could you please specify which task you'd like to remove?", nil
	case intent.MarkComplete:
		return fmt.Sprintf("I'll mark the appropriate task as complete based on your request: %q.", message), nil
	case intent.MarkIncomplete:
		return fmt.Sprintf("I'll mark the appropriate task as incomplete based on your request: %q.", message), nil
	default:
		return fmt.Sprintf("I received your message: %q. How can I help you with your tasks?", message), nil
	}
}

// GenerateTitle returns "" so the auto-derived title is kept.
func (f *Fallback) GenerateTitle(context.Context, []*models.Message) (string, error) {
	return "", nil
}
