package websocket

import (
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/AbdullahHR10/ChatFlow/internal/models"
)

// Inbound event types.
const (
	EventSendMessage      = "send_message"
	EventSendGroupMessage = "send_group_message"
	EventTyping           = "typing"
	EventMarkRead         = "mark_read"
	EventAddReaction      = "add_reaction"
	EventRemoveReaction   = "remove_reaction"
	EventDeleteMessage    = "delete_message"
)

// Outbound event types.
const (
	EventChatHistory        = "chat_history"
	EventGroupChatHistory   = "group_chat_history"
	EventNewMessage         = "new_message"
	EventNewGroupMessage    = "new_group_message"
	EventLastMessageUpdate  = "last_message_update"
	EventChatHistoryUpdate  = "chat_history_update"
	EventGroupHistoryUpdate = "group_history_update"
	EventStatusUpdate       = "status_update"
	EventNewNotification    = "new_notification"
	EventMessageRead        = "message_read"
	EventReactionUpdate     = "reaction_update"
	EventMessageDeleted     = "message_deleted"
	EventError              = "error"
)

// Error codes carried on error frames.
const (
	CodeNotFound           = "not_found"
	CodeUnauthorized       = "unauthorized"
	CodeValidation         = "validation_error"
	CodePersistenceFailure = "persistence_failure"
)

// Event is the wire frame for every message exchanged over a connection.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ErrorPayload is reported to the originating connection only, never
// broadcast, and never fatal to the connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *ErrorPayload) Error() string {
	return e.Code + ": " + e.Message
}

func errNotFound(format string, args ...interface{}) *ErrorPayload {
	return &ErrorPayload{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func errUnauthorized(format string, args ...interface{}) *ErrorPayload {
	return &ErrorPayload{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func errValidation(format string, args ...interface{}) *ErrorPayload {
	return &ErrorPayload{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func errPersistence(format string, args ...interface{}) *ErrorPayload {
	return &ErrorPayload{Code: CodePersistenceFailure, Message: fmt.Sprintf(format, args...)}
}

// Outbound payloads.

type StatusUpdatePayload struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen,omitempty"`
}

type ChatHistoryPayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
}

type GroupChatHistoryPayload struct {
	GroupID        string           `json:"group_id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []models.Message `json:"messages"`
}

type NewMessagePayload struct {
	MessageID       string `json:"message_id"`
	ConversationID  string `json:"conversation_id"`
	SenderID        string `json:"sender_id"`
	ReceiverID      string `json:"receiver_id,omitempty"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
	LastMessageDate string `json:"last_message_date"`
}

type NewGroupMessagePayload struct {
	MessageID      string `json:"message_id"`
	GroupID        string `json:"group_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

type LastMessageUpdatePayload struct {
	ConversationID  string `json:"conversation_id"`
	LastMessage     string `json:"last_message"`
	LastMessageDate string `json:"last_message_date"`
}

type ChatHistoryUpdatePayload struct {
	ConversationID string `json:"conversation_id"`
}

type GroupHistoryUpdatePayload struct {
	GroupID        string `json:"group_id"`
	ConversationID string `json:"conversation_id"`
}

type NewNotificationPayload struct {
	NotificationID string `json:"notification_id"`
	Message        string `json:"message"`
	Type           string `json:"type"`
	Timestamp      string `json:"timestamp"`
}

type MessageReadPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
}

type ReactionUpdatePayload struct {
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	Reactions      map[string]string `json:"reactions"`
}

type MessageDeletedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// parseFrame validates the outer frame shape and returns the event type and
// payload value. Field-by-field payload checks happen in the handlers.
func parseFrame(p *fastjson.Parser, data []byte) (string, *fastjson.Value, *ErrorPayload) {
	v, err := p.ParseBytes(data)
	if err != nil {
		return "", nil, errValidation("malformed JSON frame")
	}

	typeValue := v.Get("type")
	if typeValue == nil || typeValue.Type() != fastjson.TypeString {
		return "", nil, errValidation(`missing field "type"`)
	}

	eventType := string(typeValue.GetStringBytes())
	return eventType, v.Get("payload"), nil
}

// payloadString extracts a required non-empty string field from an event
// payload.
func payloadString(payload *fastjson.Value, field string) (string, *ErrorPayload) {
	if payload == nil {
		return "", errValidation(`missing field %q`, field)
	}
	value := payload.Get(field)
	if value == nil {
		return "", errValidation(`missing field %q`, field)
	}
	if value.Type() != fastjson.TypeString {
		return "", errValidation(`field %q must be a string`, field)
	}
	s := string(value.GetStringBytes())
	if len(s) == 0 {
		return "", errValidation(`field %q must have non-zero length`, field)
	}
	return s, nil
}

// payloadBool extracts an optional bool field, defaulting to false when the
// field is absent.
func payloadBool(payload *fastjson.Value, field string) (bool, *ErrorPayload) {
	if payload == nil {
		return false, nil
	}
	value := payload.Get(field)
	if value == nil {
		return false, nil
	}
	if value.Type() != fastjson.TypeTrue && value.Type() != fastjson.TypeFalse {
		return false, errValidation(`field %q must be a boolean`, field)
	}
	return value.GetBool(), nil
}

// payloadOptionalString extracts an optional string field, returning "" when
// the field is absent or null.
func payloadOptionalString(payload *fastjson.Value, field string) (string, *ErrorPayload) {
	if payload == nil {
		return "", nil
	}
	value := payload.Get(field)
	if value == nil || value.Type() == fastjson.TypeNull {
		return "", nil
	}
	if value.Type() != fastjson.TypeString {
		return "", errValidation(`field %q must be a string`, field)
	}
	return string(value.GetStringBytes()), nil
}
