package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"cubechat/pkg/domain"
)

// MemoryStore keeps everything in-process. It mirrors GormStore semantics
// closely enough for app and server tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	cubes    map[string]domain.Cube
	messages map[string]domain.Message
	order    []string // message insertion order, used as created_at tiebreaker
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		cubes:    make(map[string]domain.Cube),
		messages: make(map[string]domain.Message),
	}
}

// users

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *MemoryStore) UserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return cloneUser(u), ok, nil
}

func (m *MemoryStore) UserByFingerprint(_ context.Context, fingerprint string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Fingerprint == fingerprint {
			return cloneUser(u), true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) UserByBackupID(_ context.Context, key, value string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.BackupIDs[key] == value && value != "" {
			return cloneUser(u), true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) UpdateUserSeen(_ context.Context, id string, backupIDs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if u.BackupIDs == nil {
		u.BackupIDs = make(map[string]string)
	}
	for k, v := range backupIDs {
		u.BackupIDs[k] = v
	}
	u.LastSeen = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *MemoryStore) UpdateUserFingerprint(_ context.Context, id, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Fingerprint = fingerprint
	u.LastSeen = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *MemoryStore) UpdateNickname(_ context.Context, id, nickname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Nickname = nickname
	m.users[id] = u
	return nil
}

func (m *MemoryStore) RecordActivity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.LastSeen = time.Now().UTC()
	u.MessageCount++
	m.users[id] = u
	return nil
}

func (m *MemoryStore) CountUsersActiveSince(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, u := range m.users {
		if !u.LastSeen.Before(since) {
			count++
		}
	}
	return count, nil
}

// cubes

func (m *MemoryStore) CreateCube(_ context.Context, c domain.Cube) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cubes[c.ID] = c
	return nil
}

func (m *MemoryStore) ActiveCubes(_ context.Context) ([]domain.Cube, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Cube, 0, len(m.cubes))
	for _, c := range m.cubes {
		if c.Active {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Position < res[j].Position })
	return res, nil
}

func (m *MemoryStore) CubeByID(_ context.Context, id string) (domain.Cube, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cubes[id]
	if !ok || !c.Active {
		return domain.Cube{}, false, nil
	}
	return c, true, nil
}

func (m *MemoryStore) CubeByPosition(_ context.Context, position int) (domain.Cube, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.cubes {
		if c.Active && c.Position == position {
			return c, true, nil
		}
	}
	return domain.Cube{}, false, nil
}

func (m *MemoryStore) MaxCubePosition(_ context.Context) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max, found := 0, false
	for _, c := range m.cubes {
		if !found || c.Position > max {
			max, found = c.Position, true
		}
	}
	return max, found, nil
}

func (m *MemoryStore) UpdateCube(_ context.Context, id string, update CubeUpdate) (domain.Cube, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cubes[id]
	if !ok || !c.Active {
		return domain.Cube{}, gorm.ErrRecordNotFound
	}
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.Description != nil {
		c.Description = *update.Description
	}
	if update.Color != nil {
		c.Color = *update.Color
	}
	if update.Opacity != nil {
		c.Opacity = *update.Opacity
	}
	c.UpdatedAt = time.Now().UTC()
	m.cubes[id] = c
	return c, nil
}

func (m *MemoryStore) DeactivateCube(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cubes[id]
	if !ok {
		return nil
	}
	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	m.cubes[id] = c
	return nil
}

func (m *MemoryStore) CubeStats(_ context.Context, id string) (domain.CubeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.CubeStats{}
	authors := make(map[string]struct{})
	for _, msg := range m.messages {
		if msg.CubeID == id && !msg.Deleted {
			stats.MessageCount++
			authors[msg.UserID] = struct{}{}
		}
	}
	stats.UserCount = len(authors)
	return stats, nil
}

// messages

func (m *MemoryStore) InsertMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	m.order = append(m.order, msg.ID)
	return nil
}

func (m *MemoryStore) MessageByID(_ context.Context, id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return domain.Message{}, false, nil
	}
	return m.joinLocked(msg), true, nil
}

func (m *MemoryStore) RecentMessages(_ context.Context, limit int, cubeID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := m.filterLocked(func(msg domain.Message) bool {
		return !msg.Deleted && (cubeID == "" || msg.CubeID == cubeID)
	})
	reverse(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) MessagesByUser(_ context.Context, userID, cubeID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := m.filterLocked(func(msg domain.Message) bool {
		return !msg.Deleted && msg.UserID == userID && (cubeID == "" || msg.CubeID == cubeID)
	})
	reverse(res)
	return res, nil
}

func (m *MemoryStore) Replies(_ context.Context, parentID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(msg domain.Message) bool {
		return !msg.Deleted && msg.ParentID == parentID
	}), nil
}

func (m *MemoryStore) SoftDeleteMessage(_ context.Context, id, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.UserID != authorID {
		return nil
	}
	msg.Deleted = true
	m.messages[id] = msg
	return nil
}

// filterLocked returns joined messages in insertion (creation) order.
func (m *MemoryStore) filterLocked(keep func(domain.Message) bool) []domain.Message {
	res := make([]domain.Message, 0)
	for _, id := range m.order {
		msg, ok := m.messages[id]
		if !ok || !keep(msg) {
			continue
		}
		res = append(res, m.joinLocked(msg))
	}
	return res
}

func (m *MemoryStore) joinLocked(msg domain.Message) domain.Message {
	if u, ok := m.users[msg.UserID]; ok {
		msg.AuthorNickname = u.Nickname
	}
	if c, ok := m.cubes[msg.CubeID]; ok {
		msg.CubeName = c.Name
		msg.CubeColor = c.Color
	}
	return msg
}

func cloneUser(u domain.User) domain.User {
	if u.BackupIDs == nil {
		return u
	}
	ids := make(map[string]string, len(u.BackupIDs))
	for k, v := range u.BackupIDs {
		ids[k] = v
	}
	u.BackupIDs = ids
	return u
}

func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
