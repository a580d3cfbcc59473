package models

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type User struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	Password          string    `json:"-" db:"password"`
	ProfilePicture    string    `json:"profile_picture" db:"profile_picture"`
	Status            string    `json:"status" db:"status"`
	CustomStatus      string    `json:"custom_status" db:"custom_status"`
	LastSeen          time.Time `json:"last_seen" db:"last_seen"`
	LastSeenIsPrivate bool      `json:"last_seen_is_private" db:"last_seen_is_private"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

type Conversation struct {
	ID              string    `json:"id" db:"id"`
	Type            string    `json:"type" db:"type"` // "private" or "group"
	User1ID         string    `json:"user1_id" db:"user1_id"`
	User2ID         string    `json:"user2_id" db:"user2_id"`
	GroupID         string    `json:"group_id" db:"group_id"`
	LastMessage     string    `json:"last_message" db:"last_message"`
	LastMessageDate time.Time `json:"last_message_date" db:"last_message_date"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

type Group struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type GroupMembership struct {
	GroupID  string    `json:"group_id" db:"group_id"`
	UserID   string    `json:"user_id" db:"user_id"`
	Role     string    `json:"role" db:"role"` // "owner" or "member"
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

type Message struct {
	ID             string            `json:"id" db:"id"`
	ConversationID string            `json:"conversation_id" db:"conversation_id"`
	GroupID        string            `json:"group_id,omitempty" db:"group_id"`
	SenderID       string            `json:"sender_id" db:"sender_id"`
	ReceiverID     string            `json:"receiver_id,omitempty" db:"receiver_id"`
	Content        string            `json:"content" db:"content"`
	Timestamp      time.Time         `json:"timestamp" db:"timestamp"`
	IsRead         bool              `json:"is_read" db:"is_read"`
	Reactions      map[string]string `json:"reactions,omitempty" db:"reactions"`
	MediaType      string            `json:"media_type,omitempty" db:"media_type"`
	MediaURL       string            `json:"media_url,omitempty" db:"media_url"`
}

type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	Type      string    `json:"type" db:"type"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
