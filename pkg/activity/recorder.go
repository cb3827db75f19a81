// Package activity records user activity after each message send: last_seen
// is bumped and message_count incremented. Recording is fire-and-forget from
// the sender's point of view; a failed update never fails the send.
package activity

import (
	"context"

	"cubechat/pkg/store"
)

// Recorder applies an activity update for a user.
type Recorder interface {
	Record(ctx context.Context, userID string) error
}

// StoreRecorder applies activity updates directly against the user store.
type StoreRecorder struct {
	users store.UserStore
}

// NewStoreRecorder builds the direct recorder.
func NewStoreRecorder(users store.UserStore) *StoreRecorder {
	return &StoreRecorder{users: users}
}

func (r *StoreRecorder) Record(ctx context.Context, userID string) error {
	return r.users.RecordActivity(ctx, userID)
}
