package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/AbdullahHR10/ChatFlow/internal/models"
)

// User directory methods. The signup and login flows live in the web layer;
// the realtime core only reads users and mutates their presence fields.

// CreateUser inserts a user with a bcrypt password hash. Used by seeding
// and by the web layer, never by the realtime core.
func (db *DB) CreateUser(ctx context.Context, name, password, profilePicture string) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:             uuid.NewString(),
		Name:           name,
		Password:       string(hashed),
		ProfilePicture: profilePicture,
		Status:         models.StatusOffline,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (id, name, password, profile_picture, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Password, user.ProfilePicture, user.Status, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *DB) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	var lastSeen sql.NullTime
	err := db.QueryRowContext(ctx, `
		SELECT id, name, password, profile_picture, status, custom_status,
		       last_seen, last_seen_is_private, created_at
		FROM users
		WHERE id = ?
	`, id).Scan(&user.ID, &user.Name, &user.Password, &user.ProfilePicture,
		&user.Status, &user.CustomStatus, &lastSeen, &user.LastSeenIsPrivate,
		&user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotExist
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	user.LastSeen = lastSeen.Time
	return &user, nil
}

// SetPresence stamps a user's status and last-seen. Only the presence
// tracker writes these fields.
func (db *DB) SetPresence(ctx context.Context, userID, status string, lastSeen time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET status = ?, last_seen = ? WHERE id = ?`,
		status, lastSeen, userID)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotExist
	}

	db.logger.Debugf("Presence for user %s set to %s", userID, status)
	return nil
}

// FriendIDsOf returns the ids of every confirmed friend of the user.
func (db *DB) FriendIDsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT friend_id FROM friendships WHERE user_id = ?
		UNION
		SELECT user_id FROM friendships WHERE friend_id = ?
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friendships: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// AddFriendship records a confirmed friendship between two users.
func (db *DB) AddFriendship(ctx context.Context, userID, friendID string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO friendships (user_id, friend_id) VALUES (?, ?)`,
		userID, friendID)
	if err != nil {
		return fmt.Errorf("failed to add friendship: %w", err)
	}
	return nil
}

// CreateGroup creates a group owned by ownerID and records the owner
// membership in the same transaction.
func (db *DB) CreateGroup(ctx context.Context, name, description, ownerID string) (*models.Group, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	group := &models.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, group.ID, group.Name, group.Description, group.OwnerID, group.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role) VALUES (?, ?, ?)
	`, group.ID, ownerID, models.RoleOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to add group owner: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return group, nil
}

func (db *DB) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role) VALUES (?, ?, ?)
	`, groupID, userID, models.RoleMember)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

func (db *DB) GroupByID(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	err := db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, created_at
		FROM groups
		WHERE id = ?
	`, id).Scan(&group.ID, &group.Name, &group.Description, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotExist
		}
		return nil, fmt.Errorf("failed to look up group: %w", err)
	}
	return &group, nil
}

// GroupIDsOf returns the ids of every group the user is a member of.
func (db *DB) GroupIDsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group memberships: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// GroupMemberIDs returns the ids of every member of the group.
func (db *DB) GroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func (db *DB) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return true, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}
