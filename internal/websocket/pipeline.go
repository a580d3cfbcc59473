package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/valyala/fastjson"

	"github.com/AbdullahHR10/ChatFlow/internal/db"
	"github.com/AbdullahHR10/ChatFlow/internal/models"
)

// senderMatches rejects frames that claim a sender other than the user
// bound to the connection. The field itself is optional; the binding is
// authoritative.
func senderMatches(c *Client, payload *fastjson.Value) *ErrorPayload {
	claimed, eerr := payloadOptionalString(payload, "sender_id")
	if eerr != nil {
		return eerr
	}
	if claimed != "" && claimed != c.userID {
		return errUnauthorized("sender_id does not match the authenticated user")
	}
	return nil
}

// handleSendMessage runs the ingest pipeline for a private or group
// conversation message: validate, resolve, persist with a server-assigned
// timestamp, then fan out. Every failure is reported to the sender only and
// aborts before any broadcast.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, payload *fastjson.Value) {
	conversationID, eerr := payloadString(payload, "conversation_id")
	if eerr != nil {
		c.sendError(eerr)
		return
	}
	content, eerr := payloadString(payload, "message")
	if eerr != nil {
		c.sendError(eerr)
		return
	}
	if eerr := senderMatches(c, payload); eerr != nil {
		c.sendError(eerr)
		return
	}

	conv, err := h.store.ConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, db.ErrConversationNotExist) {
			c.sendError(errNotFound("conversation not found"))
			return
		}
		h.logger.Errorf("Failed to resolve conversation %s: %v", conversationID, err)
		c.sendError(errPersistence("failed to resolve conversation"))
		return
	}

	// Receiver is re-derived from the conversation record rather than
	// trusted from the client. A supplied receiver_id must agree.
	var receiverID string
	if conv.Type == models.ConversationGroup {
		member, err := h.directory.IsGroupMember(ctx, conv.GroupID, c.userID)
		if err != nil {
			h.logger.Errorf("Failed to check membership in group %s: %v", conv.GroupID, err)
			c.sendError(errPersistence("failed to check group membership"))
			return
		}
		if !member {
			c.sendError(errUnauthorized("sender is not a member of the group"))
			return
		}
	} else {
		switch c.userID {
		case conv.User1ID:
			receiverID = conv.User2ID
		case conv.User2ID:
			receiverID = conv.User1ID
		default:
			c.sendError(errUnauthorized("sender is not a participant of the conversation"))
			return
		}
		if claimed, _ := payloadOptionalString(payload, "receiver_id"); claimed != "" && claimed != receiverID {
			c.sendError(errValidation("receiver_id does not match the conversation participants"))
			return
		}
	}

	timestamp := time.Now().UTC()
	msg := &models.Message{
		ConversationID: conv.ID,
		GroupID:        conv.GroupID,
		SenderID:       c.userID,
		ReceiverID:     receiverID,
		Content:        content,
		Timestamp:      timestamp,
	}

	if err := h.store.AppendMessage(ctx, msg); err != nil {
		h.logger.Errorf("Failed to persist message in conversation %s: %v", conv.ID, err)
		c.sendError(errPersistence("failed to persist message"))
		return
	}
	h.metrics.MessagesPersisted.Inc()

	room := roomForMessage(msg)
	h.BroadcastRoom(room, Event{Type: EventNewMessage, Payload: NewMessagePayload{
		MessageID:       msg.ID,
		ConversationID:  conv.ID,
		SenderID:        c.userID,
		ReceiverID:      receiverID,
		Message:         content,
		Timestamp:       timestamp.Format(time.RFC3339Nano),
		LastMessageDate: timestamp.Format(time.RFC3339Nano),
	}})

	// Global on purpose so dashboard lists update without a per-dashboard
	// subscription. Known fan-out cost at this scale.
	h.BroadcastAll(Event{Type: EventLastMessageUpdate, Payload: LastMessageUpdatePayload{
		ConversationID:  conv.ID,
		LastMessage:     content,
		LastMessageDate: timestamp.Format(time.RFC3339Nano),
	}})

	h.BroadcastRoom(room, Event{Type: EventChatHistoryUpdate, Payload: ChatHistoryUpdatePayload{
		ConversationID: conv.ID,
	}})
}

// handleSendGroupMessage ingests a group message, lazily creating the
// group's conversation on first use.
func (h *Hub) handleSendGroupMessage(ctx context.Context, c *Client, payload *fastjson.Value) {
	groupID, eerr := payloadString(payload, "group_id")
	if eerr != nil {
		c.sendError(eerr)
		return
	}
	content, eerr := payloadString(payload, "content")
	if eerr != nil {
		c.sendError(eerr)
		return
	}
	if eerr := senderMatches(c, payload); eerr != nil {
		c.sendError(eerr)
		return
	}

	group, err := h.directory.GroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, db.ErrGroupNotExist) {
			c.sendError(errNotFound("group not found"))
			return
		}
		h.logger.Errorf("Failed to resolve group %s: %v", groupID, err)
		c.sendError(errPersistence("failed to resolve group"))
		return
	}

	member, err := h.directory.IsGroupMember(ctx, group.ID, c.userID)
	if err != nil {
		h.logger.Errorf("Failed to check membership in group %s: %v", group.ID, err)
		c.sendError(errPersistence("failed to check group membership"))
		return
	}
	if !member {
		c.sendError(errUnauthorized("sender is not a member of the group"))
		return
	}

	sender, err := h.directory.UserByID(ctx, c.userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotExist) {
			c.sendError(errNotFound("sender not found"))
			return
		}
		h.logger.Errorf("Failed to resolve sender %s: %v", c.userID, err)
		c.sendError(errPersistence("failed to resolve sender"))
		return
	}

	conv, err := h.store.EnsureGroupConversation(ctx, group.ID)
	if err != nil {
		h.logger.Errorf("Failed to ensure conversation for group %s: %v", group.ID, err)
		c.sendError(errPersistence("failed to create group conversation"))
		return
	}

	timestamp := time.Now().UTC()
	msg := &models.Message{
		ConversationID: conv.ID,
		GroupID:        group.ID,
		SenderID:       c.userID,
		Content:        content,
		Timestamp:      timestamp,
	}

	if err := h.store.AppendMessage(ctx, msg); err != nil {
		h.logger.Errorf("Failed to persist message in group %s: %v", group.ID, err)
		c.sendError(errPersistence("failed to persist message"))
		return
	}
	h.metrics.MessagesPersisted.Inc()

	room := GroupRoom(group.ID)
	h.BroadcastRoom(room, Event{Type: EventNewGroupMessage, Payload: NewGroupMessagePayload{
		MessageID:      msg.ID,
		GroupID:        group.ID,
		ConversationID: conv.ID,
		SenderID:       c.userID,
		SenderName:     sender.Name,
		Content:        content,
		Timestamp:      timestamp.Format(time.RFC3339Nano),
	}})
	h.BroadcastRoom(room, Event{Type: EventGroupHistoryUpdate, Payload: GroupHistoryUpdatePayload{
		GroupID:        group.ID,
		ConversationID: conv.ID,
	}})
}

// handleTyping relays a typing indicator to the conversation room. Nothing
// is persisted.
func (h *Hub) handleTyping(ctx context.Context, c *Client, payload *fastjson.Value) {
	conversationID, eerr := payloadString(payload, "conversation_id")
	if eerr != nil {
		c.sendError(eerr)
		return
	}
	isTyping, eerr := payloadBool(payload, "is_typing")
	if eerr != nil {
		c.sendError(eerr)
		return
	}

	h.BroadcastRoom(ConversationRoom(conversationID), Event{Type: EventTyping, Payload: TypingPayload{
		ConversationID: conversationID,
		UserID:         c.userID,
		IsTyping:       isTyping,
	}})
}

// handleMarkRead flips a message's read flag. Only the receiver of a
// private message, or a member of the group, may mark it.
func (h *Hub) handleMarkRead(ctx context.Context, c *Client, payload *fastjson.Value) {
	msg, eerr := h.resolveMessage(ctx, c, payload)
	if eerr != nil {
		c.sendError(eerr)
		return
	}

	if msg.ReceiverID != "" && msg.ReceiverID != c.userID {
		c.sendError(errUnauthorized("only the receiver may mark the message read"))
		return
	}
	if msg.ReceiverID == "" && msg.GroupID != "" {
		member, err := h.directory.IsGroupMember(ctx, msg.GroupID, c.userID)
		if err != nil {
			h.logger.Errorf("Failed to check membership in group %s: %v", msg.GroupID, err)
			c.sendError(errPersistence("failed to check group membership"))
			return
		}
		if !member {
			c.sendError(errUnauthorized("only group members may mark the message read"))
			return
		}
	}

	if err := h.store.MarkRead(ctx, msg.ID); err != nil {
		h.logger.Errorf("Failed to mark message %s read: %v", msg.ID, err)
		c.sendError(errPersistence("failed to mark message read"))
		return
	}

	h.BroadcastRoom(roomForMessage(msg), Event{Type: EventMessageRead, Payload: MessageReadPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReaderID:       c.userID,
	}})
}

func (h *Hub) handleAddReaction(ctx context.Context, c *Client, payload *fastjson.Value) {
	emoji, eerr := payloadString(payload, "emoji")
	if eerr != nil {
		c.sendError(eerr)
		return
	}
	h.updateReaction(ctx, c, payload, emoji)
}

func (h *Hub) handleRemoveReaction(ctx context.Context, c *Client, payload *fastjson.Value) {
	h.updateReaction(ctx, c, payload, "")
}

// updateReaction stores or clears the acting user's reaction and broadcasts
// the resulting reaction map to the room.
func (h *Hub) updateReaction(ctx context.Context, c *Client, payload *fastjson.Value, emoji string) {
	msg, eerr := h.resolveMessage(ctx, c, payload)
	if eerr != nil {
		c.sendError(eerr)
		return
	}

	if eerr := h.requireParticipant(ctx, c, msg); eerr != nil {
		c.sendError(eerr)
		return
	}

	reactions, err := h.store.SetReaction(ctx, msg.ID, c.userID, emoji)
	if err != nil {
		h.logger.Errorf("Failed to update reactions on message %s: %v", msg.ID, err)
		c.sendError(errPersistence("failed to update reactions"))
		return
	}

	h.BroadcastRoom(roomForMessage(msg), Event{Type: EventReactionUpdate, Payload: ReactionUpdatePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Reactions:      reactions,
	}})
}

// handleDeleteMessage permanently deletes a message. Sender-only.
func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, payload *fastjson.Value) {
	msg, eerr := h.resolveMessage(ctx, c, payload)
	if eerr != nil {
		c.sendError(eerr)
		return
	}

	if msg.SenderID != c.userID {
		c.sendError(errUnauthorized("only the sender may delete the message"))
		return
	}

	if err := h.store.DeleteMessage(ctx, msg.ID); err != nil {
		h.logger.Errorf("Failed to delete message %s: %v", msg.ID, err)
		c.sendError(errPersistence("failed to delete message"))
		return
	}

	h.BroadcastRoom(roomForMessage(msg), Event{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	}})
}

// resolveMessage extracts message_id and loads the message.
func (h *Hub) resolveMessage(ctx context.Context, c *Client, payload *fastjson.Value) (*models.Message, *ErrorPayload) {
	messageID, eerr := payloadString(payload, "message_id")
	if eerr != nil {
		return nil, eerr
	}

	msg, err := h.store.MessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, db.ErrMessageNotExist) {
			return nil, errNotFound("message not found")
		}
		h.logger.Errorf("Failed to resolve message %s: %v", messageID, err)
		return nil, errPersistence("failed to resolve message")
	}
	return msg, nil
}

// requireParticipant checks that the acting user belongs to the message's
// conversation or group.
func (h *Hub) requireParticipant(ctx context.Context, c *Client, msg *models.Message) *ErrorPayload {
	if msg.GroupID != "" {
		member, err := h.directory.IsGroupMember(ctx, msg.GroupID, c.userID)
		if err != nil {
			h.logger.Errorf("Failed to check membership in group %s: %v", msg.GroupID, err)
			return errPersistence("failed to check group membership")
		}
		if !member {
			return errUnauthorized("user is not a member of the group")
		}
		return nil
	}
	if c.userID != msg.SenderID && c.userID != msg.ReceiverID {
		return errUnauthorized("user is not a participant of the conversation")
	}
	return nil
}

// replayHistory emits the room's ordered backlog to the newly joined
// connection only. Read-only: replay never touches read state.
func (h *Hub) replayHistory(ctx context.Context, c *Client, room roomRef) {
	if room.groupID != "" {
		conv, err := h.store.ConversationForGroup(ctx, room.groupID)
		if err != nil {
			if errors.Is(err, db.ErrConversationNotExist) {
				// No message has ever been sent to the group.
				h.sendDirect(c, Event{Type: EventGroupChatHistory, Payload: GroupChatHistoryPayload{
					GroupID:  room.groupID,
					Messages: []models.Message{},
				}})
				return
			}
			h.logger.Errorf("Failed to resolve conversation for group %s: %v", room.groupID, err)
			c.sendError(errPersistence("failed to load group history"))
			return
		}
		room.conversationID = conv.ID
	}

	messages, err := h.store.OrderedHistory(ctx, room.conversationID)
	if err != nil {
		h.logger.Errorf("Failed to load history for conversation %s: %v", room.conversationID, err)
		c.sendError(errPersistence("failed to load chat history"))
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	if room.groupID != "" {
		h.sendDirect(c, Event{Type: EventGroupChatHistory, Payload: GroupChatHistoryPayload{
			GroupID:        room.groupID,
			ConversationID: room.conversationID,
			Messages:       messages,
		}})
		return
	}
	h.sendDirect(c, Event{Type: EventChatHistory, Payload: ChatHistoryPayload{
		ConversationID: room.conversationID,
		Messages:       messages,
	}})
}

// Relay delivers a notification to every live connection of its target
// user. Fire-and-forget: delivery is best-effort and never blocks or fails
// the caller; an offline user reads the stored notification later.
func (h *Hub) Relay(n models.Notification) {
	h.SendToUser(n.UserID, Event{Type: EventNewNotification, Payload: NewNotificationPayload{
		NotificationID: n.ID,
		Message:        n.Message,
		Type:           n.Type,
		Timestamp:      n.Timestamp.Format(time.RFC3339),
	}})
}

func roomForMessage(msg *models.Message) string {
	if msg.GroupID != "" {
		return GroupRoom(msg.GroupID)
	}
	return ConversationRoom(msg.ConversationID)
}
