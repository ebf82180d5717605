package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/video-service/internal/blob"
	"github.com/richardliu001/video-service/internal/model"
	"github.com/richardliu001/video-service/internal/repo"
	"github.com/richardliu001/video-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var errInjected = errors.New("injected failure")

// outboxFailingRepo fails the second insert of the commit transaction.
type outboxFailingRepo struct {
	*repo.Repository
}

func (r outboxFailingRepo) CreateOutboxEvent(context.Context, *gorm.DB, *model.OutboxEvent) error {
	return errInjected
}

// stallingRepo blocks the first insert until the context gives up.
type stallingRepo struct {
	*repo.Repository
}

func (r stallingRepo) CreateUpload(ctx context.Context, _ *gorm.DB, _ *model.VideoUpload) error {
	<-ctx.Done()
	return ctx.Err()
}

// undeletableStore cannot run its compensation.
type undeletableStore struct {
	*blob.Store
}

func (undeletableStore) Delete(context.Context, string) error { return errors.New("disk gone") }

type brokenReader struct {
	data []byte
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, errInjected
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

type uploadFixture struct {
	db    *gorm.DB
	repo  *repo.Repository
	store *blob.Store
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	db := testutil.NewDB(t)
	store, err := blob.NewStore(filepath.Join(t.TempDir(), "videos"), 64<<10)
	require.NoError(t, err)
	return &uploadFixture{db: db, repo: repo.NewRepository(db, nil, testutil.Logger(t)), store: store}
}

func (f *uploadFixture) service(t *testing.T, r repo.RepositoryInterface, blobs BlobWriter) *UploadService {
	if r == nil {
		r = f.repo
	}
	if blobs == nil {
		blobs = f.store
	}
	limits := UploadLimits{MaxTitleLength: 20, MaxBytes: 1 << 20, CommitTimeout: 2 * time.Second}
	return NewUploadService(r, blobs, limits, testutil.Logger(t))
}

func (f *uploadFixture) assertNothingStored(t *testing.T) {
	t.Helper()
	entries, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, entries, "blob store should be empty")

	var uploads, events int64
	require.NoError(t, f.db.Model(&model.VideoUpload{}).Count(&uploads).Error)
	require.NoError(t, f.db.Model(&model.OutboxEvent{}).Count(&events).Error)
	assert.Zero(t, uploads)
	assert.Zero(t, events)
}

func TestSubmit_StoresBlobRecordAndOutboxEvent(t *testing.T) {
	f := newUploadFixture(t)
	svc := f.service(t, nil, nil)
	data := bytes.Repeat([]byte{0x42}, 300_000)

	id, err := svc.Submit(context.Background(), bytes.NewReader(data), "  demo ", "clip.mp4")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var upload model.VideoUpload
	require.NoError(t, f.db.First(&upload, "id = ?", id).Error)
	assert.Equal(t, id+".mp4", upload.BlobPath)
	assert.Equal(t, "demo", upload.Title)
	assert.Equal(t, "video/mp4", upload.ContentType)
	assert.Equal(t, int64(len(data)), upload.SizeBytes)
	assert.False(t, upload.PreviewAvailable)

	obj, err := f.store.Open(upload.BlobPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size())
	require.NoError(t, obj.Close())

	var events []model.OutboxEvent
	require.NoError(t, f.db.Where("aggregate_id = ?", id).Find(&events).Error)
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, model.EventTypeVideoUploaded, evt.EventType)
	assert.False(t, evt.Published)
	assert.NotEqual(t, id, evt.ID)

	var payload model.VideoUploadedPayload
	require.NoError(t, json.Unmarshal([]byte(evt.Payload), &payload))
	assert.Equal(t, id, payload.VideoID)
	assert.Equal(t, "demo", payload.Title)
	assert.Equal(t, upload.BlobPath, payload.BlobPath)
	assert.Equal(t, int64(len(data)), payload.SizeBytes)
}

func TestSubmit_MetadataFailureRemovesBlob(t *testing.T) {
	f := newUploadFixture(t)
	svc := f.service(t, outboxFailingRepo{f.repo}, nil)

	_, err := svc.Submit(context.Background(), bytes.NewReader([]byte("some video bytes")), "demo", "a.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadataWrite)
	assert.ErrorIs(t, err, errInjected)
	var merr *MetadataWriteError
	require.ErrorAs(t, err, &merr)

	f.assertNothingStored(t)
}

func TestSubmit_CompensationFailureKeepsOriginalError(t *testing.T) {
	f := newUploadFixture(t)
	svc := f.service(t, outboxFailingRepo{f.repo}, undeletableStore{f.store})

	_, err := svc.Submit(context.Background(), bytes.NewReader([]byte("bytes")), "demo", "a.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadataWrite)
	assert.ErrorIs(t, err, errInjected)
	assert.NotContains(t, err.Error(), "disk gone")
}

func TestSubmit_CommitTimeoutRemovesBlob(t *testing.T) {
	f := newUploadFixture(t)
	svc := NewUploadService(stallingRepo{f.repo}, f.store,
		UploadLimits{MaxTitleLength: 20, MaxBytes: 1 << 20, CommitTimeout: 50 * time.Millisecond}, testutil.Logger(t))

	_, err := svc.Submit(context.Background(), bytes.NewReader([]byte("bytes")), "demo", "a.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadataWrite)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.assertNothingStored(t)

	// the cancelled transaction must not take the database down with it
	id, err := f.service(t, nil, nil).Submit(context.Background(), bytes.NewReader([]byte("bytes")), "demo", "a.mp4")
	require.NoError(t, err)
	var uploads int64
	require.NoError(t, f.db.Model(&model.VideoUpload{}).Where("id = ?", id).Count(&uploads).Error)
	assert.Equal(t, int64(1), uploads)
}

func TestSubmit_BlobFailureWritesNoMetadata(t *testing.T) {
	f := newUploadFixture(t)
	svc := f.service(t, nil, nil)

	_, err := svc.Submit(context.Background(), &brokenReader{data: bytes.Repeat([]byte("v"), 200_000)}, "demo", "a.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageWrite)
	assert.ErrorIs(t, err, errInjected)

	f.assertNothingStored(t)
}

func TestSubmit_Validation(t *testing.T) {
	cases := []struct {
		name  string
		body  []byte
		title string
	}{
		{name: "empty stream", body: nil, title: "demo"},
		{name: "title too long", body: []byte("data"), title: "this title is far too long for the limit"},
		{name: "invalid utf8 title", body: []byte("data"), title: string([]byte{0xff, 0xfe})},
		{name: "too large", body: make([]byte, (1<<20)+1), title: "demo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newUploadFixture(t)
			svc := f.service(t, nil, nil)

			_, err := svc.Submit(context.Background(), bytes.NewReader(tc.body), tc.title, "a.mp4")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)

			f.assertNothingStored(t)
		})
	}
}

func TestSubmit_TitleLimitCountsRunes(t *testing.T) {
	f := newUploadFixture(t)
	svc := f.service(t, nil, nil)

	// 20 runes, 40 bytes
	_, err := svc.Submit(context.Background(), bytes.NewReader([]byte("data")), "éééééééééééééééééééé", "a.mp4")
	require.NoError(t, err)
}

func TestSubmit_ConcurrentUploadsAreIndependent(t *testing.T) {
	f := newUploadFixture(t)
	svc := f.service(t, nil, nil)

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = svc.Submit(context.Background(), bytes.NewReader(bytes.Repeat([]byte{byte(i)}, 10_000)), "demo", "a.webm")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		seen[ids[i]] = true
	}
	assert.Len(t, seen, n)

	var uploads, events int64
	require.NoError(t, f.db.Model(&model.VideoUpload{}).Count(&uploads).Error)
	require.NoError(t, f.db.Model(&model.OutboxEvent{}).Where("published = ?", false).Count(&events).Error)
	assert.Equal(t, int64(n), uploads)
	assert.Equal(t, int64(n), events)

	entries, err := f.store.List()
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestBlobFormat(t *testing.T) {
	mp4Head := append([]byte{0, 0, 0, 0x0C}, []byte("ftypmp42")...)
	webmHead := []byte{0x1A, 0x45, 0xDF, 0xA3}

	cases := []struct {
		filename string
		head     []byte
		ext, ct  string
	}{
		{"movie.MOV", []byte("x"), ".mov", "video/quicktime"},
		{"movie.webm", []byte("x"), ".webm", "video/webm"},
		{"noext", webmHead, ".webm", "video/webm"},
		{"noext", mp4Head, ".mp4", "video/mp4"},
		{"notes.txt", []byte("plain text"), ".mp4", "video/mp4"},
	}
	for _, tc := range cases {
		ext, ct := blobFormat(tc.filename, tc.head)
		assert.Equal(t, tc.ext, ext, tc.filename)
		assert.Equal(t, tc.ct, ct, tc.filename)
	}
}
