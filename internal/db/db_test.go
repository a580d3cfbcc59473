package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AbdullahHR10/ChatFlow/internal/models"
)

func bootstrap(t *testing.T) *DB {
	t.Helper()
	logger := zap.NewNop().Sugar()
	database, err := NewDB(filepath.Join(t.TempDir(), "chatflow.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func seedPair(t *testing.T, database *DB) (u1, u2 *models.User, conv *models.Conversation) {
	t.Helper()
	ctx := context.Background()
	u1, err := database.CreateUser(ctx, "alice", "secret", "")
	require.NoError(t, err)
	u2, err = database.CreateUser(ctx, "bob", "secret", "")
	require.NoError(t, err)
	conv, err = database.CreatePrivateConversation(ctx, u1.ID, u2.ID)
	require.NoError(t, err)
	return u1, u2, conv
}

func TestCreateUserAndLookup(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()

	created, err := database.CreateUser(ctx, "alice", "secret", "avatar.png")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	user, err := database.UserByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", user.Name)
	require.Equal(t, models.StatusOffline, user.Status)
	require.NotEqual(t, "secret", user.Password, "password must be stored hashed")
}

func TestUserByIDNotExist(t *testing.T) {
	database := bootstrap(t)
	_, err := database.UserByID(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUserNotExist)
}

func TestSetPresence(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, _, _ := seedPair(t, database)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, database.SetPresence(ctx, u1.ID, models.StatusOnline, now))

	user, err := database.UserByID(ctx, u1.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusOnline, user.Status)
	require.Equal(t, now, user.LastSeen.UTC().Truncate(time.Second))

	require.ErrorIs(t, database.SetPresence(ctx, "nope", models.StatusOnline, now), ErrUserNotExist)
}

func TestFriendIDsOfBothDirections(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, u2, _ := seedPair(t, database)
	u3, err := database.CreateUser(ctx, "carol", "secret", "")
	require.NoError(t, err)

	require.NoError(t, database.AddFriendship(ctx, u1.ID, u2.ID))
	require.NoError(t, database.AddFriendship(ctx, u3.ID, u1.ID))

	friends, err := database.FriendIDsOf(ctx, u1.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{u2.ID, u3.ID}, friends)
}

func TestConversationsOf(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, u2, conv := seedPair(t, database)

	for _, userID := range []string{u1.ID, u2.ID} {
		conversations, err := database.ConversationsOf(ctx, userID)
		require.NoError(t, err)
		require.Len(t, conversations, 1)
		require.Equal(t, conv.ID, conversations[0].ID)
	}

	_, err := database.ConversationByID(ctx, "nope")
	require.ErrorIs(t, err, ErrConversationNotExist)
}

func TestAppendMessageUpdatesConversation(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, u2, conv := seedPair(t, database)

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       u1.ID,
		ReceiverID:     u2.ID,
		Content:        "hi there",
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, database.AppendMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	updated, err := database.ConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "hi there", updated.LastMessage)
	require.False(t, updated.LastMessageDate.IsZero())
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	database := bootstrap(t)
	u1, _, _ := seedPair(t, database)

	err := database.AppendMessage(context.Background(), &models.Message{
		ConversationID: "nope",
		SenderID:       u1.ID,
		Content:        "hi",
		Timestamp:      time.Now().UTC(),
	})
	require.Error(t, err)

	// Nothing may persist when the conversation update fails.
	history, err := database.OrderedHistory(context.Background(), "nope")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestOrderedHistoryTiesBrokenByInsertion(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, u2, conv := seedPair(t, database)

	// Identical timestamps: insertion order must win.
	shared := time.Now().UTC().Truncate(time.Second)
	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, database.AppendMessage(ctx, &models.Message{
			ConversationID: conv.ID,
			SenderID:       u1.ID,
			ReceiverID:     u2.ID,
			Content:        content,
			Timestamp:      shared,
		}))
	}

	history, err := database.OrderedHistory(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "first", history[0].Content)
	require.Equal(t, "second", history[1].Content)
	require.Equal(t, "third", history[2].Content)
}

func TestEnsureGroupConversationExactlyOnce(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, _, _ := seedPair(t, database)

	group, err := database.CreateGroup(ctx, "gophers", "", u1.ID)
	require.NoError(t, err)

	_, err = database.ConversationForGroup(ctx, group.ID)
	require.ErrorIs(t, err, ErrConversationNotExist)

	first, err := database.EnsureGroupConversation(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, models.ConversationGroup, first.Type)

	second, err := database.EnsureGroupConversation(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestGroupMembership(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, u2, _ := seedPair(t, database)

	group, err := database.CreateGroup(ctx, "gophers", "a study group", u1.ID)
	require.NoError(t, err)
	require.NoError(t, database.AddGroupMember(ctx, group.ID, u2.ID))

	member, err := database.IsGroupMember(ctx, group.ID, u2.ID)
	require.NoError(t, err)
	require.True(t, member)

	member, err = database.IsGroupMember(ctx, group.ID, "stranger")
	require.NoError(t, err)
	require.False(t, member)

	groups, err := database.GroupIDsOf(ctx, u2.ID)
	require.NoError(t, err)
	require.Equal(t, []string{group.ID}, groups)

	members, err := database.GroupMemberIDs(ctx, group.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{u1.ID, u2.ID}, members)

	_, err = database.GroupByID(ctx, "nope")
	require.ErrorIs(t, err, ErrGroupNotExist)
}

func TestMarkReadAndDelete(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, u2, conv := seedPair(t, database)

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       u1.ID,
		ReceiverID:     u2.ID,
		Content:        "hi",
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, database.AppendMessage(ctx, msg))

	require.NoError(t, database.MarkRead(ctx, msg.ID))
	stored, err := database.MessageByID(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, stored.IsRead)

	require.NoError(t, database.DeleteMessage(ctx, msg.ID))
	_, err = database.MessageByID(ctx, msg.ID)
	require.ErrorIs(t, err, ErrMessageNotExist)

	require.ErrorIs(t, database.MarkRead(ctx, msg.ID), ErrMessageNotExist)
	require.ErrorIs(t, database.DeleteMessage(ctx, msg.ID), ErrMessageNotExist)
}

func TestSetReaction(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, u2, conv := seedPair(t, database)

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       u1.ID,
		ReceiverID:     u2.ID,
		Content:        "hi",
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, database.AppendMessage(ctx, msg))

	reactions, err := database.SetReaction(ctx, msg.ID, u2.ID, "👍")
	require.NoError(t, err)
	require.Equal(t, map[string]string{u2.ID: "👍"}, reactions)

	// Re-reacting replaces, removing clears.
	reactions, err = database.SetReaction(ctx, msg.ID, u2.ID, "❤️")
	require.NoError(t, err)
	require.Equal(t, map[string]string{u2.ID: "❤️"}, reactions)

	reactions, err = database.SetReaction(ctx, msg.ID, u2.ID, "")
	require.NoError(t, err)
	require.Empty(t, reactions)

	_, err = database.SetReaction(ctx, "nope", u2.ID, "👍")
	require.ErrorIs(t, err, ErrMessageNotExist)
}

func TestNotificationsLifecycle(t *testing.T) {
	database := bootstrap(t)
	ctx := context.Background()
	u1, _, _ := seedPair(t, database)

	n := &models.Notification{
		UserID:  u1.ID,
		Message: "bob accepted your friend request",
		Type:    "friend_request_accepted",
	}
	require.NoError(t, database.CreateNotification(ctx, n))
	require.NotEmpty(t, n.ID)

	unread, err := database.UnreadNotifications(ctx, u1.ID)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, n.Message, unread[0].Message)

	require.NoError(t, database.MarkNotificationRead(ctx, n.ID))
	unread, err = database.UnreadNotifications(ctx, u1.ID)
	require.NoError(t, err)
	require.Empty(t, unread)

	require.True(t, errors.Is(database.MarkNotificationRead(ctx, "nope"), ErrNotificationNotExist))
}
