package repo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/video-service/internal/model"
	"github.com/richardliu001/video-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedUpload(id string) *model.VideoUpload {
	return &model.VideoUpload{
		ID:          id,
		BlobPath:    id + ".mp4",
		Title:       "demo",
		ContentType: "video/mp4",
		SizeBytes:   42,
		UploadedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRepository_TransactionRollsBackBothRows(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewRepository(db, nil, testutil.Logger(t))
	ctx := context.Background()

	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		require.NoError(t, r.CreateUpload(ctx, tx, seedUpload("u1")))
		// duplicate primary key forces the second insert to fail
		evt := &model.OutboxEvent{ID: "e1", Aggregate: model.AggregateVideoUpload, AggregateID: "u1",
			EventType: model.EventTypeVideoUploaded, Payload: "{}", CreatedAt: time.Now().UTC()}
		require.NoError(t, r.CreateOutboxEvent(ctx, tx, evt))
		return r.CreateOutboxEvent(ctx, tx, evt)
	})
	require.Error(t, err)

	ok, err := r.UploadExists(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	evts, err := r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestRepository_PollAndMarkPublished(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewRepository(db, nil, testutil.Logger(t))
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e2", "e1", "e3"} {
		evt := &model.OutboxEvent{ID: id, Aggregate: model.AggregateVideoUpload, AggregateID: "u",
			EventType: model.EventTypeVideoUploaded, Payload: "{}", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, r.CreateOutboxEvent(ctx, r.DB(ctx), evt))
	}

	evts, err := r.PollOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "e2", evts[0].ID)
	assert.Equal(t, "e1", evts[1].ID)

	require.NoError(t, r.MarkOutboxPublished(ctx, "e2"))
	assert.ErrorIs(t, r.MarkOutboxPublished(ctx, "e2"), ErrAlreadyPublished)

	evts, err = r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "e1", evts[0].ID)
	assert.Equal(t, "e3", evts[1].ID)

	var stored model.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", "e2").Error)
	assert.True(t, stored.Published)
	assert.NotNil(t, stored.PublishedAt)
}

func TestRepository_GetUploadNotFound(t *testing.T) {
	r := NewRepository(testutil.NewDB(t), nil, testutil.Logger(t))

	_, err := r.GetUpload(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_GetUploadFillsCache(t *testing.T) {
	db := testutil.NewDB(t)
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(db, rdb, testutil.Logger(t))
	ctx := context.Background()

	u := seedUpload("u1")
	require.NoError(t, db.Create(u).Error)
	data, err := json.Marshal(u)
	require.NoError(t, err)

	mock.ExpectGet("upload:u1").RedisNil()
	mock.ExpectSet("upload:u1", string(data), uploadCacheTTL).SetVal("OK")

	got, err := r.GetUpload(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1.mp4", got.BlobPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetUploadServedFromCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(testutil.NewDB(t), rdb, testutil.Logger(t))

	data, err := json.Marshal(seedUpload("cached"))
	require.NoError(t, err)
	mock.ExpectGet("upload:cached").SetVal(string(data))

	got, err := r.GetUpload(context.Background(), "cached")
	require.NoError(t, err)
	assert.Equal(t, "cached.mp4", got.BlobPath)
	assert.Equal(t, int64(42), got.SizeBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, isPostgresDSN("postgres://u:p@db/video"))
	assert.True(t, isPostgresDSN("host=localhost user=video"))
	assert.False(t, isPostgresDSN("file::memory:"))
	assert.False(t, isPostgresDSN("data/video.db"))
}
