package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cubechat/pkg/domain"
)

const migrateLockID int64 = 82539154

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent instances do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &CubeModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// users

func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model, err := userToModel(u)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) UserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.userWhere(ctx, "id = ?", id)
}

func (s *GormStore) UserByFingerprint(ctx context.Context, fingerprint string) (domain.User, bool, error) {
	return s.userWhere(ctx, "fingerprint_hash = ?", fingerprint)
}

func (s *GormStore) UserByBackupID(ctx context.Context, key, value string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.WithContext(ctx).
		Where(datatypes.JSONQuery("backup_identifiers").Equals(value, key)).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	user, err := userFromModel(model)
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

func (s *GormStore) userWhere(ctx context.Context, query string, args ...any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	user, err := userFromModel(model)
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

func (s *GormStore) UpdateUserSeen(ctx context.Context, id string, backupIDs map[string]string) error {
	user, found, err := s.UserByID(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return gorm.ErrRecordNotFound
	}
	merged := make(map[string]string, len(user.BackupIDs)+len(backupIDs))
	for k, v := range user.BackupIDs {
		merged[k] = v
	}
	for k, v := range backupIDs {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal backup identifiers: %w", err)
	}
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_seen":          time.Now().UTC(),
			"backup_identifiers": datatypes.JSON(raw),
		}).Error
}

func (s *GormStore) UpdateUserFingerprint(ctx context.Context, id, fingerprint string) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"fingerprint_hash": fingerprint,
			"last_seen":        time.Now().UTC(),
		}).Error
}

func (s *GormStore) UpdateNickname(ctx context.Context, id, nickname string) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Update("session_nickname", nickname).Error
}

func (s *GormStore) RecordActivity(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_seen":     time.Now().UTC(),
			"message_count": gorm.Expr("message_count + 1"),
		}).Error
}

func (s *GormStore) CountUsersActiveSince(ctx context.Context, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("last_seen >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// cubes

func (s *GormStore) CreateCube(ctx context.Context, c domain.Cube) error {
	model := cubeToModel(c)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ActiveCubes(ctx context.Context) ([]domain.Cube, error) {
	var models []CubeModel
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("position_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Cube, 0, len(models))
	for _, m := range models {
		res = append(res, cubeFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CubeByID(ctx context.Context, id string) (domain.Cube, bool, error) {
	return s.cubeWhere(ctx, "id = ? AND is_active = ?", id, true)
}

func (s *GormStore) CubeByPosition(ctx context.Context, position int) (domain.Cube, bool, error) {
	return s.cubeWhere(ctx, "position_index = ? AND is_active = ?", position, true)
}

func (s *GormStore) cubeWhere(ctx context.Context, query string, args ...any) (domain.Cube, bool, error) {
	var model CubeModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Cube{}, false, nil
		}
		return domain.Cube{}, false, err
	}
	return cubeFromModel(model), true, nil
}

func (s *GormStore) MaxCubePosition(ctx context.Context) (int, bool, error) {
	var model CubeModel
	err := s.db.WithContext(ctx).Order("position_index DESC").First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return model.PositionIndex, true, nil
}

func (s *GormStore) UpdateCube(ctx context.Context, id string, update CubeUpdate) (domain.Cube, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		updates["name"] = *update.Name
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Color != nil {
		updates["color"] = *update.Color
	}
	if update.Opacity != nil {
		updates["opacity"] = *update.Opacity
	}
	if err := s.db.WithContext(ctx).Model(&CubeModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return domain.Cube{}, err
	}
	cube, found, err := s.CubeByID(ctx, id)
	if err != nil {
		return domain.Cube{}, err
	}
	if !found {
		return domain.Cube{}, gorm.ErrRecordNotFound
	}
	return cube, nil
}

func (s *GormStore) DeactivateCube(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&CubeModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *GormStore) CubeStats(ctx context.Context, id string) (domain.CubeStats, error) {
	var messageCount int64
	err := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("cube_id = ? AND is_deleted = ?", id, false).
		Count(&messageCount).Error
	if err != nil {
		return domain.CubeStats{}, err
	}
	var userCount int64
	err = s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("cube_id = ? AND is_deleted = ?", id, false).
		Distinct("user_id").
		Count(&userCount).Error
	if err != nil {
		return domain.CubeStats{}, err
	}
	return domain.CubeStats{MessageCount: int(messageCount), UserCount: int(userCount)}, nil
}

// messages

// messageRow is the joined shape returned by message reads.
type messageRow struct {
	MessageModel
	SessionNickname *string
	CubeName        string
	CubeColor       string
}

const messageJoinSelect = "messages.*, users.session_nickname AS session_nickname, cubes.name AS cube_name, cubes.color AS cube_color"

func (s *GormStore) messageQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&MessageModel{}).
		Select(messageJoinSelect).
		Joins("JOIN users ON users.id = messages.user_id").
		Joins("JOIN cubes ON cubes.id = messages.cube_id")
}

func (s *GormStore) InsertMessage(ctx context.Context, m domain.Message) error {
	model := messageToModel(m)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) MessageByID(ctx context.Context, id string) (domain.Message, bool, error) {
	var row messageRow
	err := s.messageQuery(ctx).Where("messages.id = ?", id).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromRow(row), true, nil
}

func (s *GormStore) RecentMessages(ctx context.Context, limit int, cubeID string) ([]domain.Message, error) {
	tx := s.messageQuery(ctx).Where("messages.is_deleted = ?", false)
	if cubeID != "" {
		tx = tx.Where("messages.cube_id = ?", cubeID)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	return s.collectMessages(tx.Order("messages.created_at DESC"))
}

func (s *GormStore) MessagesByUser(ctx context.Context, userID, cubeID string) ([]domain.Message, error) {
	tx := s.messageQuery(ctx).
		Where("messages.user_id = ? AND messages.is_deleted = ?", userID, false)
	if cubeID != "" {
		tx = tx.Where("messages.cube_id = ?", cubeID)
	}
	return s.collectMessages(tx.Order("messages.created_at DESC"))
}

func (s *GormStore) Replies(ctx context.Context, parentID string) ([]domain.Message, error) {
	tx := s.messageQuery(ctx).
		Where("messages.parent_message_id = ? AND messages.is_deleted = ?", parentID, false).
		Order("messages.created_at ASC")
	return s.collectMessages(tx)
}

func (s *GormStore) collectMessages(tx *gorm.DB) ([]domain.Message, error) {
	var rows []messageRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		res = append(res, messageFromRow(row))
	}
	return res, nil
}

func (s *GormStore) SoftDeleteMessage(ctx context.Context, id, authorID string) error {
	// Authorship is enforced by the predicate; zero matched rows is a no-op.
	return s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND user_id = ?", id, authorID).
		Update("is_deleted", true).Error
}

// conversions

func userToModel(u domain.User) (UserModel, error) {
	raw, err := json.Marshal(u.BackupIDs)
	if err != nil {
		return UserModel{}, fmt.Errorf("marshal backup identifiers: %w", err)
	}
	model := UserModel{
		ID:                u.ID,
		FingerprintHash:   u.Fingerprint,
		BackupIdentifiers: datatypes.JSON(raw),
		MessageCount:      u.MessageCount,
		CreatedAt:         u.CreatedAt,
		LastSeen:          u.LastSeen,
	}
	if u.Nickname != "" {
		nickname := u.Nickname
		model.SessionNickname = &nickname
	}
	return model, nil
}

func userFromModel(m UserModel) (domain.User, error) {
	user := domain.User{
		ID:           m.ID,
		Fingerprint:  m.FingerprintHash,
		MessageCount: m.MessageCount,
		CreatedAt:    m.CreatedAt,
		LastSeen:     m.LastSeen,
	}
	if m.SessionNickname != nil {
		user.Nickname = *m.SessionNickname
	}
	if len(m.BackupIdentifiers) > 0 {
		if err := json.Unmarshal(m.BackupIdentifiers, &user.BackupIDs); err != nil {
			return domain.User{}, fmt.Errorf("unmarshal backup identifiers: %w", err)
		}
	}
	return user, nil
}

func cubeToModel(c domain.Cube) CubeModel {
	model := CubeModel{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Color:         c.Color,
		Opacity:       c.Opacity,
		PositionIndex: c.Position,
		IsActive:      c.Active,
		RepoOwner:     c.RepoOwner,
		Language:      c.Language,
		HTMLURL:       c.HTMLURL,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	if c.OwnerUserID != "" {
		owner := c.OwnerUserID
		model.OwnerUserID = &owner
	}
	if c.RepoID != 0 {
		repoID := c.RepoID
		model.GithubRepoID = &repoID
	}
	return model
}

func cubeFromModel(m CubeModel) domain.Cube {
	cube := domain.Cube{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Color:       m.Color,
		Opacity:     m.Opacity,
		Position:    m.PositionIndex,
		Active:      m.IsActive,
		RepoOwner:   m.RepoOwner,
		Language:    m.Language,
		HTMLURL:     m.HTMLURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.OwnerUserID != nil {
		cube.OwnerUserID = *m.OwnerUserID
	}
	if m.GithubRepoID != nil {
		cube.RepoID = *m.GithubRepoID
	}
	return cube
}

func messageToModel(m domain.Message) MessageModel {
	model := MessageModel{
		ID:        m.ID,
		UserID:    m.UserID,
		CubeID:    m.CubeID,
		Content:   m.Content,
		IsDeleted: m.Deleted,
		CreatedAt: m.CreatedAt,
	}
	if m.ParentID != "" {
		parent := m.ParentID
		model.ParentMessageID = &parent
	}
	return model
}

func messageFromRow(row messageRow) domain.Message {
	msg := domain.Message{
		ID:        row.MessageModel.ID,
		UserID:    row.UserID,
		CubeID:    row.CubeID,
		Content:   row.Content,
		Deleted:   row.IsDeleted,
		CreatedAt: row.MessageModel.CreatedAt,
		CubeName:  row.CubeName,
		CubeColor: row.CubeColor,
	}
	if row.ParentMessageID != nil {
		msg.ParentID = *row.ParentMessageID
	}
	if row.SessionNickname != nil {
		msg.AuthorNickname = *row.SessionNickname
	}
	return msg
}
