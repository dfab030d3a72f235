package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"todochat/internal/agent"
	"todochat/internal/apperr"
	"todochat/internal/intent"
	"todochat/internal/models"
	"todochat/internal/service/conversation"
)

// IntentSummary is the intent block reported in a turn result.
type IntentSummary struct {
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	ActionTaken string  `json:"action_taken"`
}

// TurnResult is the outcome of one processed chat turn.
type TurnResult struct {
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Response       string        `json:"response"`
	Intent         IntentSummary `json:"intent"`
	Timestamp      time.Time     `json:"timestamp"`
	NextAction     string        `json:"next_action"`
}

// Orchestrator drives a chat turn end to end: resolve the conversation,
// rebuild its history, classify the message, route task intents through the
// dispatcher or everything else through the generator, then persist the
// exchange atomically. No turn state survives the call; the next turn
// rebuilds everything from the store.
type Orchestrator struct {
	conversations *conversation.Service
	dispatcher    *Dispatcher
	generator     agent.Generator
	fallback      agent.Generator
}

func NewOrchestrator(conversations *conversation.Service, dispatcher *Dispatcher, generator agent.Generator) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		dispatcher:    dispatcher,
		generator:     generator,
		fallback:      agent.NewFallback(),
	}
}

// SubmitTurn processes one user message. conversationID may be empty to
// start a new conversation. metadata is stored on the user message verbatim.
func (o *Orchestrator) SubmitTurn(ctx context.Context, ownerID, conversationID, message string, metadata map[string]any) (*TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", apperr.ErrInvalidArgument)
	}

	conv, err := o.conversations.ResolveOrCreate(ctx, ownerID, conversationID, message)
	if err != nil {
		return nil, err
	}
	history, err := o.conversations.History(ctx, ownerID, conv.ID, conversation.HistoryOptions{})
	if err != nil {
		return nil, err
	}

	in := intent.Classify(message)

	var response, action string
	if intent.IsTaskIntent(in.Type) {
		response, action, err = o.dispatcher.Dispatch(ctx, ownerID, in, message)
		if err != nil {
			return nil, err
		}
	} else {
		response, err = o.generator.Generate(ctx, history, message)
		if err != nil {
			log.Printf("generator failed for user %s, using deterministic responder: %v", ownerID, err)
			response, _ = o.fallback.Generate(ctx, history, message)
		}
		action = ActionInformation
	}

	userMsg, assistantMsg, err := o.conversations.AppendExchange(ctx, ownerID, conv.ID,
		message, metadata, response, map[string]any{
			"intent":     string(in.Type),
			"confidence": in.Confidence,
		})
	if err != nil {
		return nil, err
	}

	o.refineTitle(ctx, ownerID, conv, append(history, userMsg, assistantMsg))

	return &TurnResult{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		Response:       response,
		Intent: IntentSummary{
			Type:        string(in.Type),
			Confidence:  in.Confidence,
			ActionTaken: action,
		},
		Timestamp:  assistantMsg.CreatedAt,
		NextAction: "completed",
	}, nil
}

// refineTitle asks the generator for a better title once a real exchange
// exists. Settled titles skip the generator call entirely; failures only
// cost the nicer title, never the turn.
func (o *Orchestrator) refineTitle(ctx context.Context, ownerID string, conv *models.Conversation, history []*models.Message) {
	if !conversation.IsAutoTitle(conv.Title) {
		return
	}
	title, err := o.generator.GenerateTitle(ctx, history)
	if err != nil {
		log.Printf("title generation failed for conversation %s: %v", conv.ID, err)
		return
	}
	if title == "" {
		return
	}
	if err := o.conversations.RenameIfAutoTitled(ctx, ownerID, conv.ID, title); err != nil {
		log.Printf("rename conversation %s: %v", conv.ID, err)
	}
}
