// Package identity maps browser fingerprints to persistent anonymous users.
package identity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cubechat/pkg/domain"
	"cubechat/pkg/store"
)

// backupKey names the client-local storage slot inside the user's
// backup-identifier map.
const backupKey = "localStorage"

// Hints carries everything the client can tell us about itself. Fingerprint
// is the client-computed device fingerprint; the remaining fields feed the
// weaker heuristic fingerprint used when it is absent.
type Hints struct {
	Fingerprint     string `json:"fingerprint"`
	BackupID        string `json:"backupId"`
	UserAgent       string `json:"userAgent"`
	Language        string `json:"language"`
	ScreenSize      string `json:"screenSize"`
	TimezoneOffset  int    `json:"timezoneOffset"`
	CanvasSignature string `json:"canvasSignature"`
}

// Resolved is the outcome of a resolution. BackupID echoes the identifier the
// client should persist locally; it is minted here when the client sent none.
type Resolved struct {
	User     domain.User
	BackupID string
}

// Resolver finds or creates the anonymous user behind a fingerprint. Results
// are memoized per fingerprint until Clear, so repeated resolutions within a
// session cost nothing and return the same user.
type Resolver struct {
	users store.UserStore

	mu    sync.Mutex
	cache map[string]Resolved
}

// NewResolver builds a resolver over the given user store.
func NewResolver(users store.UserStore) *Resolver {
	return &Resolver{users: users, cache: make(map[string]Resolved)}
}

// Resolve runs the lookup chain: by fingerprint, then by backup identifier,
// then create. Backend errors propagate; no fallback identity is fabricated
// beyond the heuristic fingerprint.
func (r *Resolver) Resolve(ctx context.Context, hints Hints) (Resolved, error) {
	fingerprint := strings.TrimSpace(hints.Fingerprint)
	if fingerprint == "" {
		fingerprint = FallbackFingerprint(hints)
	}

	r.mu.Lock()
	if cached, ok := r.cache[fingerprint]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	backupID := strings.TrimSpace(hints.BackupID)
	if backupID == "" {
		backupID = uuid.NewString()
	}

	resolved, err := r.lookupOrCreate(ctx, fingerprint, backupID)
	if err != nil {
		return Resolved{}, err
	}

	r.mu.Lock()
	r.cache[fingerprint] = resolved
	r.mu.Unlock()
	return resolved, nil
}

func (r *Resolver) lookupOrCreate(ctx context.Context, fingerprint, backupID string) (Resolved, error) {
	user, found, err := r.users.UserByFingerprint(ctx, fingerprint)
	if err != nil {
		return Resolved{}, fmt.Errorf("lookup by fingerprint: %w", err)
	}
	if found {
		if err := r.users.UpdateUserSeen(ctx, user.ID, map[string]string{backupKey: backupID}); err != nil {
			return Resolved{}, fmt.Errorf("update last seen: %w", err)
		}
		return Resolved{User: user, BackupID: backupID}, nil
	}

	user, found, err = r.users.UserByBackupID(ctx, backupKey, backupID)
	if err != nil {
		return Resolved{}, fmt.Errorf("lookup by backup id: %w", err)
	}
	if found {
		// Fingerprints drift; trust the backup identifier and refresh.
		if err := r.users.UpdateUserFingerprint(ctx, user.ID, fingerprint); err != nil {
			return Resolved{}, fmt.Errorf("refresh fingerprint: %w", err)
		}
		user.Fingerprint = fingerprint
		return Resolved{User: user, BackupID: backupID}, nil
	}

	now := time.Now().UTC()
	user = domain.User{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		BackupIDs:   map[string]string{backupKey: backupID},
		CreatedAt:   now,
		LastSeen:    now,
		// No nickname: the client sets one during onboarding.
	}
	if err := r.users.CreateUser(ctx, user); err != nil {
		return Resolved{}, fmt.Errorf("create user: %w", err)
	}
	return Resolved{User: user, BackupID: backupID}, nil
}

// Clear drops all memoized identities; the next Resolve re-runs the chain.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.cache = make(map[string]Resolved)
	r.mu.Unlock()
}

// FallbackFingerprint derives a weak but stable fingerprint from request
// heuristics, hashed the same way the browser fallback does: a 32-bit
// accumulator rendered in base 36.
func FallbackFingerprint(hints Hints) string {
	joined := strings.Join([]string{
		hints.UserAgent,
		hints.Language,
		hints.ScreenSize,
		strconv.Itoa(hints.TimezoneOffset),
		hints.CanvasSignature,
	}, "|")

	var hash int32
	for _, c := range joined {
		hash = (hash << 5) - hash + int32(c)
	}
	v := int64(hash)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
