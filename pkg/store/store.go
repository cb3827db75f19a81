package store

import (
	"context"
	"time"

	"cubechat/pkg/domain"
)

// UserStore defines persistence operations for anonymous identities.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	UserByID(ctx context.Context, id string) (domain.User, bool, error)
	UserByFingerprint(ctx context.Context, fingerprint string) (domain.User, bool, error)
	// UserByBackupID matches users whose backup-identifier map contains the
	// given key/value pair.
	UserByBackupID(ctx context.Context, key, value string) (domain.User, bool, error)
	// UpdateUserSeen bumps last_seen and merges backup identifiers.
	UpdateUserSeen(ctx context.Context, id string, backupIDs map[string]string) error
	// UpdateUserFingerprint refreshes a drifted fingerprint and bumps last_seen.
	UpdateUserFingerprint(ctx context.Context, id, fingerprint string) error
	UpdateNickname(ctx context.Context, id, nickname string) error
	// RecordActivity bumps last_seen and increments message_count.
	RecordActivity(ctx context.Context, id string) error
	CountUsersActiveSince(ctx context.Context, since time.Time) (int, error)
}

// CubeUpdate carries the mutable cube fields; nil means "leave unchanged".
type CubeUpdate struct {
	Name        *string
	Description *string
	Color       *string
	Opacity     *float64
}

// CubeStore defines persistence operations for cubes. Read operations only
// see active cubes.
type CubeStore interface {
	CreateCube(ctx context.Context, c domain.Cube) error
	ActiveCubes(ctx context.Context) ([]domain.Cube, error)
	CubeByID(ctx context.Context, id string) (domain.Cube, bool, error)
	CubeByPosition(ctx context.Context, position int) (domain.Cube, bool, error)
	// MaxCubePosition returns the highest position index across all cubes,
	// active or not; ok is false when no cubes exist.
	MaxCubePosition(ctx context.Context) (position int, ok bool, err error)
	UpdateCube(ctx context.Context, id string, update CubeUpdate) (domain.Cube, error)
	DeactivateCube(ctx context.Context, id string) error
	CubeStats(ctx context.Context, id string) (domain.CubeStats, error)
}

// MessageStore defines persistence operations for messages. Rows returned by
// reads are joined with the author nickname and cube metadata.
type MessageStore interface {
	InsertMessage(ctx context.Context, m domain.Message) error
	MessageByID(ctx context.Context, id string) (domain.Message, bool, error)
	RecentMessages(ctx context.Context, limit int, cubeID string) ([]domain.Message, error)
	MessagesByUser(ctx context.Context, userID, cubeID string) ([]domain.Message, error)
	Replies(ctx context.Context, parentID string) ([]domain.Message, error)
	// SoftDeleteMessage flags the row deleted only when authorID matches the
	// stored author; matching zero rows is not an error.
	SoftDeleteMessage(ctx context.Context, id, authorID string) error
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	CubeStore
	MessageStore
}
