package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"todochat/internal/apperr"
	"todochat/internal/models"
)

// HistoryOptions control pagination and filtering of History. A Limit of
// zero or less returns the full transcript.
type HistoryOptions struct {
	Offset int
	Limit  int
	Role   models.Role
}

// Append persists one message inside a transaction, assigning the next
// per-conversation sequence number and touching the conversation's
// updated_at. Ordering ties on created_at are broken by seq.
func (s *Service) Append(ctx context.Context, ownerID, conversationID string, role models.Role, content string, metadata map[string]any) (*models.Message, error) {
	if _, err := s.Get(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	msg, err := insertMessage(ctx, tx, ownerID, conversationID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	if err := touchConversation(ctx, tx, conversationID, msg.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// AppendExchange persists a user message and the assistant reply in a single
// transaction so a turn leaves either both messages or neither.
func (s *Service) AppendExchange(ctx context.Context, ownerID, conversationID, userContent string, userMetadata map[string]any, assistantContent string, assistantMetadata map[string]any) (*models.Message, *models.Message, error) {
	if _, err := s.Get(ctx, ownerID, conversationID); err != nil {
		return nil, nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	userMsg, err := insertMessage(ctx, tx, ownerID, conversationID, models.RoleUser, userContent, userMetadata)
	if err != nil {
		return nil, nil, err
	}
	assistantMsg, err := insertMessage(ctx, tx, ownerID, conversationID, models.RoleAssistant, assistantContent, assistantMetadata)
	if err != nil {
		return nil, nil, err
	}
	if err := touchConversation(ctx, tx, conversationID, assistantMsg.CreatedAt); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit exchange: %w", err)
	}
	return userMsg, assistantMsg, nil
}

// History returns the conversation's messages in chronological order.
func (s *Service) History(ctx context.Context, ownerID, conversationID string, opts HistoryOptions) ([]*models.Message, error) {
	if _, err := s.Get(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}

	query := `SELECT id, conversation_id, owner_id, role, content, metadata, seq, created_at
		FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if opts.Role != "" {
		query += ` AND role = ?`
		args = append(args, string(opts.Role))
	}
	query += ` ORDER BY created_at ASC, seq ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		var metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.OwnerID, &m.Role, &m.Content,
			&metadata, &m.Seq, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Count returns the number of messages in the conversation.
func (s *Service) Count(ctx context.Context, ownerID, conversationID string) (int, error) {
	if _, err := s.Get(ctx, ownerID, conversationID); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// UpdateMetadata shallow-merges patch into the message's metadata. Keys in
// patch overwrite existing keys; other keys are preserved.
func (s *Service) UpdateMetadata(ctx context.Context, ownerID, messageID string, patch map[string]any) (*models.Message, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: metadata patch is empty", apperr.ErrInvalidArgument)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, owner_id, role, content, metadata, seq, created_at FROM messages WHERE id = ?`,
		messageID,
	)
	m := new(models.Message)
	var metadata sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &m.OwnerID, &m.Role, &m.Content,
		&metadata, &m.Seq, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	if m.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: message %s", apperr.ErrAccessDenied, messageID)
	}

	merged := map[string]any{}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &merged); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET metadata = ? WHERE id = ?`, string(encoded), messageID,
	); err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}
	m.Metadata = merged
	return m, nil
}

// DeleteMessage removes a single message. Administrative use only; no route
// exposes it.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, ownerID, conversationID string, role models.Role, content string, metadata map[string]any) (*models.Message, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("next seq: %w", err)
	}

	var encoded sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		encoded = sql.NullString{String: string(raw), Valid: true}
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		Seq:            seq,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, owner_id, role, content, metadata, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.OwnerID, string(msg.Role), msg.Content, encoded, msg.Seq, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func touchConversation(ctx context.Context, tx *sql.Tx, conversationID string, ts time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, ts, conversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
