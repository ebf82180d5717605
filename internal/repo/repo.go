package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/video-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const uploadCacheTTL = 5 * time.Minute

var (
	// ErrNotFound is returned when no upload row exists for an id.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyPublished is returned when an outbox row was flipped before.
	ErrAlreadyPublished = errors.New("outbox event already published")
)

// RepositoryInterface restricts Repo methods so services can be tested with wrappers.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	CreateUpload(ctx context.Context, tx *gorm.DB, u *model.VideoUpload) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	GetUpload(ctx context.Context, id string) (*model.VideoUpload, error)
	UploadExists(ctx context.Context, id string) (bool, error)
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id string) error
	CacheUpload(ctx context.Context, u *model.VideoUpload) error
	GetCachedUpload(ctx context.Context, id string) (*model.VideoUpload, error)
}

// Repository implements RepositoryInterface. rdb may be nil, which disables caching.
type Repository struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.SugaredLogger
}

var _ RepositoryInterface = (*Repository)(nil)

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Transaction runs fn in one database transaction. On postgres it asks for
// read committed so a concurrent relay never sees half of an upload.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts []*sql.TxOptions
	if r.db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	}
	return r.db.WithContext(ctx).Transaction(fn, opts...)
}

// CreateUpload inserts the upload row.
func (r *Repository) CreateUpload(ctx context.Context, tx *gorm.DB, u *model.VideoUpload) error {
	return tx.WithContext(ctx).Create(u).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// GetUpload reads through the cache.
func (r *Repository) GetUpload(ctx context.Context, id string) (*model.VideoUpload, error) {
	if u, err := r.GetCachedUpload(ctx, id); err == nil {
		return u, nil
	}
	var u model.VideoUpload
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("upload %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if err := r.CacheUpload(ctx, &u); err != nil {
		r.log.Warnw("cache upload", "id", id, "err", err)
	}
	return &u, nil
}

// UploadExists checks the database only; the cache may lag behind deletes.
func (r *Repository) UploadExists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.VideoUpload{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// PollOutbox pulls unpublished events, oldest first.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at, id").
		Limit(limit).
		Find(&evts).Error
	return evts, err
}

// MarkOutboxPublished flips the published flag once.
func (r *Repository) MarkOutboxPublished(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ? AND published = ?", id, false).
		Updates(map[string]interface{}{"published": true, "published_at": &now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox %s: %w", id, ErrAlreadyPublished)
	}
	return nil
}

// CacheUpload writes Redis.
func (r *Repository) CacheUpload(ctx context.Context, u *model.VideoUpload) error {
	if r.rdb == nil {
		return nil
	}
	snapshot := *u
	snapshot.UploadedAt = snapshot.UploadedAt.UTC()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, uploadCacheKey(u.ID), string(data), uploadCacheTTL).Err()
}

// GetCachedUpload reads Redis. A miss returns redis.Nil.
func (r *Repository) GetCachedUpload(ctx context.Context, id string) (*model.VideoUpload, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	str, err := r.rdb.Get(ctx, uploadCacheKey(id)).Result()
	if err != nil {
		return nil, err
	}
	var u model.VideoUpload
	if err := json.Unmarshal([]byte(str), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func uploadCacheKey(id string) string { return "upload:" + id }
