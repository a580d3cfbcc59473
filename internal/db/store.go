package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AbdullahHR10/ChatFlow/internal/models"
)

// Persistent store methods. The store is the single source of truth for
// conversations and messages; the hub's registry is never authoritative.

// CreatePrivateConversation creates the single conversation for an
// unordered pair of users. The web layer enforces the one-per-pair
// invariant before calling; this just inserts.
func (db *DB) CreatePrivateConversation(ctx context.Context, user1ID, user2ID string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Type:      models.ConversationPrivate,
		User1ID:   user1ID,
		User2ID:   user2ID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, type, user1_id, user2_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.Type, conv.User1ID, conv.User2ID, conv.CreatedAt, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

func (db *DB) ConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := scanConversation(db.QueryRowContext(ctx, `
		SELECT id, type, user1_id, user2_id, group_id, last_message,
		       last_message_date, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotExist
		}
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	return conv, nil
}

// ConversationForGroup returns the group's conversation, or
// ErrConversationNotExist if none has been created yet.
func (db *DB) ConversationForGroup(ctx context.Context, groupID string) (*models.Conversation, error) {
	conv, err := scanConversation(db.QueryRowContext(ctx, `
		SELECT id, type, user1_id, user2_id, group_id, last_message,
		       last_message_date, created_at, updated_at
		FROM conversations
		WHERE group_id = ?
	`, groupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotExist
		}
		return nil, fmt.Errorf("failed to look up group conversation: %w", err)
	}
	return conv, nil
}

// EnsureGroupConversation returns the group's conversation, creating it on
// first use. The UNIQUE constraint on group_id guarantees at most one even
// under concurrent senders; the loser of the race re-reads.
func (db *DB) EnsureGroupConversation(ctx context.Context, groupID string) (*models.Conversation, error) {
	conv, err := db.ConversationForGroup(ctx, groupID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConversationNotExist) {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO conversations (id, type, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, models.ConversationGroup, groupID, now, now)
	if err != nil {
		// Lost a creation race, the winner's row is the one to use.
		if conv, lookupErr := db.ConversationForGroup(ctx, groupID); lookupErr == nil {
			return conv, nil
		}
		return nil, fmt.Errorf("failed to create group conversation: %w", err)
	}

	db.logger.Debugf("Created conversation %s for group %s", id, groupID)
	return db.ConversationForGroup(ctx, groupID)
}

// ConversationsOf returns every conversation the user participates in as
// either side of a private chat.
func (db *DB) ConversationsOf(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, type, user1_id, user2_id, group_id, last_message,
		       last_message_date, created_at, updated_at
		FROM conversations
		WHERE user1_id = ? OR user2_id = ?
		ORDER BY created_at
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, nil
}

// AppendMessage persists the message and updates the conversation's
// denormalized last-message fields in a single transaction. The message
// timestamp must already be server-assigned by the caller.
func (db *DB) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string]string{}
	}
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return fmt.Errorf("failed to encode reactions: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, group_id, sender_id, receiver_id,
		                      content, timestamp, is_read, reactions, media_type, media_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, nullable(msg.GroupID), msg.SenderID,
		nullable(msg.ReceiverID), msg.Content, msg.Timestamp, msg.IsRead,
		string(reactions), nullable(msg.MediaType), nullable(msg.MediaURL))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_date = ?, updated_at = ?
		WHERE id = ?
	`, msg.Content, msg.Timestamp, msg.Timestamp, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotExist
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.logger.Debugf("Appended message %s to conversation %s", msg.ID, msg.ConversationID)
	return nil
}

// OrderedHistory returns the conversation's full backlog, ascending by
// timestamp with insertion order breaking ties.
func (db *DB) OrderedHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, group_id, sender_id, receiver_id, content,
		       timestamp, is_read, reactions, media_type, media_url
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func (db *DB) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(db.QueryRowContext(ctx, `
		SELECT id, conversation_id, group_id, sender_id, receiver_id, content,
		       timestamp, is_read, reactions, media_type, media_url
		FROM messages
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotExist
		}
		return nil, fmt.Errorf("failed to look up message: %w", err)
	}
	return msg, nil
}

// MarkRead flips the message's read flag. Authorization is checked by the
// caller against the message's receiver.
func (db *DB) MarkRead(ctx context.Context, messageID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMessageNotExist
	}
	return nil
}

// SetReaction stores or replaces userID's reaction on the message. An empty
// emoji removes the reaction.
func (db *DB) SetReaction(ctx context.Context, messageID, userID, emoji string) (map[string]string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT reactions FROM messages WHERE id = ?`, messageID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotExist
		}
		return nil, fmt.Errorf("failed to read reactions: %w", err)
	}

	reactions := map[string]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
			return nil, fmt.Errorf("failed to decode reactions: %w", err)
		}
	}

	if emoji == "" {
		delete(reactions, userID)
	} else {
		reactions[userID] = emoji
	}

	encoded, err := json.Marshal(reactions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reactions: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET reactions = ? WHERE id = ?`, string(encoded), messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to update reactions: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return reactions, nil
}

// DeleteMessage permanently removes the message. Sender-only; the caller
// checks authorization first.
func (db *DB) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMessageNotExist
	}
	return nil
}

// CreateNotification durably stores a notification so it survives for
// poll-based retrieval when the target has no live connection.
func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, type, is_read, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Message, n.Type, n.IsRead, n.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (db *DB) UnreadNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, message, type, is_read, timestamp
		FROM notifications
		WHERE user_id = ? AND is_read = 0
		ORDER BY timestamp ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.IsRead, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

func (db *DB) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotificationNotExist
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var user1, user2, group sql.NullString
	var lastMessageDate sql.NullTime
	err := row.Scan(&conv.ID, &conv.Type, &user1, &user2, &group,
		&conv.LastMessage, &lastMessageDate, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	conv.User1ID = user1.String
	conv.User2ID = user2.String
	conv.GroupID = group.String
	conv.LastMessageDate = lastMessageDate.Time
	return &conv, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var group, receiver, mediaType, mediaURL sql.NullString
	var reactions string
	err := row.Scan(&msg.ID, &msg.ConversationID, &group, &msg.SenderID,
		&receiver, &msg.Content, &msg.Timestamp, &msg.IsRead, &reactions,
		&mediaType, &mediaURL)
	if err != nil {
		return nil, err
	}
	msg.GroupID = group.String
	msg.ReceiverID = receiver.String
	msg.MediaType = mediaType.String
	msg.MediaURL = mediaURL.String
	if reactions != "" {
		if err := json.Unmarshal([]byte(reactions), &msg.Reactions); err != nil {
			return nil, fmt.Errorf("failed to decode reactions: %w", err)
		}
	}
	return &msg, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
