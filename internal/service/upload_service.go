package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/richardliu001/video-service/internal/blob"
	"github.com/richardliu001/video-service/internal/model"
	"github.com/richardliu001/video-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sniffLen = 512

// videoTypes maps accepted file extensions to the content type served back.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".ogv":  "video/ogg",
	".avi":  "video/avi",
}

// BlobWriter is the part of the blob store the upload path needs.
type BlobWriter interface {
	Put(ctx context.Context, name string, r io.Reader, limit int64) (blob.PutResult, error)
	Delete(ctx context.Context, name string) error
}

// UploadLimits bound what Submit accepts and how long the commit may take.
type UploadLimits struct {
	MaxTitleLength int
	MaxBytes       int64
	CommitTimeout  time.Duration
}

// UploadService stores a blob and its upload + outbox rows as one unit.
type UploadService struct {
	repo   repo.RepositoryInterface
	blobs  BlobWriter
	limits UploadLimits
	log    *zap.SugaredLogger

	newID func() string
	now   func() time.Time
}

// NewUploadService returns UploadService.
func NewUploadService(r repo.RepositoryInterface, blobs BlobWriter, limits UploadLimits, logger *zap.SugaredLogger) *UploadService {
	return &UploadService{
		repo:   r,
		blobs:  blobs,
		limits: limits,
		log:    logger,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit streams body into the blob store and commits the upload row and its
// VideoUploaded outbox event in one transaction. On any error nothing stays
// behind: partial or committed blob bytes are removed before returning.
// filename is only used to pick the stored extension and content type.
func (s *UploadService) Submit(ctx context.Context, body io.Reader, title, filename string) (id string, err error) {
	id = s.newID()
	title = strings.TrimSpace(title)
	if err := s.validateTitle(title); err != nil {
		return "", err
	}

	br := bufio.NewReaderSize(body, sniffLen)
	head, perr := br.Peek(sniffLen)
	if len(head) == 0 {
		if perr == nil || errors.Is(perr, io.EOF) {
			return "", &ValidationError{Field: "file", Reason: "empty upload"}
		}
		return "", &StorageWriteError{ID: id, Err: fmt.Errorf("read upload: %w", perr)}
	}
	ext, contentType := blobFormat(filename, head)
	name := id + ext

	sg := newSaga(id, s.log)
	defer sg.finish(ctx, &err)

	sg.advance(stepWrite)
	res, err := s.blobs.Put(ctx, name, br, s.limits.MaxBytes)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return "", &ValidationError{Field: "file", Reason: fmt.Sprintf("larger than %d bytes", s.limits.MaxBytes), Err: err}
		}
		return "", &StorageWriteError{ID: id, Err: err}
	}
	sg.completed("delete blob", func(ctx context.Context) error {
		return s.blobs.Delete(ctx, name)
	})

	sg.advance(stepCommit)
	upload := &model.VideoUpload{
		ID:          id,
		BlobPath:    res.Name,
		Title:       title,
		ContentType: contentType,
		SizeBytes:   res.Size,
		UploadedAt:  s.now(),
	}
	if err := s.commit(ctx, upload); err != nil {
		return "", &MetadataWriteError{ID: id, Err: err}
	}
	sg.advance(stepDone)

	s.log.Infow("upload stored", "upload_id", id, "blob", res.Name, "bytes", res.Size, "content_type", contentType)
	return id, nil
}

func (s *UploadService) commit(ctx context.Context, upload *model.VideoUpload) error {
	payload, err := json.Marshal(model.VideoUploadedPayload{
		VideoID:     upload.ID,
		Title:       upload.Title,
		BlobPath:    upload.BlobPath,
		ContentType: upload.ContentType,
		SizeBytes:   upload.SizeBytes,
		UploadedAt:  upload.UploadedAt,
	})
	if err != nil {
		return err
	}
	evt := &model.OutboxEvent{
		ID:          s.newID(),
		Aggregate:   model.AggregateVideoUpload,
		AggregateID: upload.ID,
		EventType:   model.EventTypeVideoUploaded,
		Payload:     string(payload),
		CreatedAt:   s.now(),
	}

	if s.limits.CommitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.CommitTimeout)
		defer cancel()
	}
	return s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateUpload(ctx, tx, upload); err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
}

func (s *UploadService) validateTitle(title string) error {
	if !utf8.ValidString(title) {
		return &ValidationError{Field: "title", Reason: "not valid UTF-8"}
	}
	if n := utf8.RuneCountInString(title); n > s.limits.MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("%d characters exceeds limit of %d", n, s.limits.MaxTitleLength)}
	}
	return nil
}

// blobFormat picks the stored extension and content type from the client
// file name, then from the sniffed header, defaulting to mp4.
func blobFormat(filename string, head []byte) (ext, contentType string) {
	ext = strings.ToLower(filepath.Ext(filename))
	if ct, ok := videoTypes[ext]; ok {
		return ext, ct
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	for e, ct := range videoTypes {
		if ct == sniffed {
			return e, ct
		}
	}
	return ".mp4", "video/mp4"
}
