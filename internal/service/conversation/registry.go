package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"todochat/internal/apperr"
	"todochat/internal/models"
)

// Service manages conversations and their messages. All reads rebuild state
// from the relational store; nothing is cached between turns.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ListItem is a conversation augmented with its message count for listings.
type ListItem struct {
	models.Conversation
	MessageCount int `json:"message_count"`
}

// ListOptions control pagination and ordering of ListRecent.
type ListOptions struct {
	Page   int
	Limit  int
	SortBy string
	Order  string
}

// Create inserts a new active conversation. The title is derived from
// firstMessage when no explicit title is given.
func (s *Service) Create(ctx context.Context, ownerID, title, firstMessage string) (*models.Conversation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", apperr.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	title = strings.TrimSpace(title)
	if title == "" {
		title = DeriveTitle(firstMessage, now)
	}
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, conv.Title, conv.IsActive, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Get fetches one active conversation, enforcing ownership.
func (s *Service) Get(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, is_active, created_at, updated_at FROM conversations WHERE id = ?`,
		conversationID,
	)
	var conv models.Conversation
	err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.IsActive, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: conversation %s", apperr.ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: conversation %s", apperr.ErrAccessDenied, conversationID)
	}
	if !conv.IsActive {
		return nil, fmt.Errorf("%w: conversation %s is archived", apperr.ErrNotFound, conversationID)
	}
	return &conv, nil
}

// ResolveOrCreate returns the referenced conversation or, when
// conversationID is empty, starts a new one titled after firstMessage.
func (s *Service) ResolveOrCreate(ctx context.Context, ownerID, conversationID, firstMessage string) (*models.Conversation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", apperr.ErrInvalidArgument)
	}
	if conversationID == "" {
		if strings.TrimSpace(firstMessage) == "" {
			return nil, fmt.Errorf("%w: conversation id or initial message is required", apperr.ErrInvalidArgument)
		}
		return s.Create(ctx, ownerID, "", firstMessage)
	}
	return s.Get(ctx, ownerID, conversationID)
}

// ListRecent pages through the user's active conversations with their
// message counts, returning the page and the total number of conversations.
func (s *Service) ListRecent(ctx context.Context, ownerID string, opts ListOptions) ([]*ListItem, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 10
	}
	sortCol, ok := map[string]string{
		"":           "updated_at",
		"updated_at": "updated_at",
		"created_at": "created_at",
		"title":      "title",
	}[opts.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("%w: sort_by must be updated_at, created_at, or title", apperr.ErrInvalidArgument)
	}
	direction := "DESC"
	switch strings.ToLower(opts.Order) {
	case "", "desc":
	case "asc":
		direction = "ASC"
	default:
		return nil, 0, fmt.Errorf("%w: order must be asc or desc", apperr.ErrInvalidArgument)
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE owner_id = ? AND is_active = ?`, ownerID, true,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT c.id, c.owner_id, c.title, c.is_active, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
		 FROM conversations c
		 WHERE c.owner_id = ? AND c.is_active = ?
		 ORDER BY c.%s %s
		 LIMIT ? OFFSET ?`, sortCol, direction,
	)
	rows, err := s.db.QueryContext(ctx, query, ownerID, true, opts.Limit, (opts.Page-1)*opts.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var items []*ListItem
	for rows.Next() {
		item := new(ListItem)
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Title, &item.IsActive,
			&item.CreatedAt, &item.UpdatedAt, &item.MessageCount); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// RenameIfAutoTitled replaces the title only while it is still a placeholder.
// A deliberate user-assigned title is never overwritten.
func (s *Service) RenameIfAutoTitled(ctx context.Context, ownerID, conversationID, newTitle string) error {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return nil
	}
	conv, err := s.Get(ctx, ownerID, conversationID)
	if err != nil {
		return err
	}
	if !IsAutoTitle(conv.Title) {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		newTitle, time.Now().UTC(), conversationID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

// Archive soft-deletes the conversation. Its messages remain in place.
func (s *Service) Archive(ctx context.Context, ownerID, conversationID string) error {
	if _, err := s.Get(ctx, ownerID, conversationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_active = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		false, time.Now().UTC(), conversationID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	return nil
}
