package service

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/video-service/internal/blob"
	"go.uber.org/zap"
)

// UploadChecker reports whether an upload row was committed.
type UploadChecker interface {
	UploadExists(ctx context.Context, id string) (bool, error)
}

// BlobSweeper is the part of the blob store the janitor walks.
type BlobSweeper interface {
	List() ([]blob.Entry, error)
	Delete(ctx context.Context, name string) error
	RemoveStaging(name string) error
}

// SweepResult counts what one Sweep removed.
type SweepResult struct {
	Staging int
	Orphans int
}

// Janitor removes blobs a crashed upload left behind: staging files and
// committed blobs with no upload row. Only files older than grace are
// touched, so in-flight uploads are never raced.
type Janitor struct {
	uploads UploadChecker
	blobs   BlobSweeper
	grace   time.Duration
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewJanitor(uploads UploadChecker, blobs BlobSweeper, grace time.Duration, logger *zap.SugaredLogger) *Janitor {
	return &Janitor{uploads: uploads, blobs: blobs, grace: grace, log: logger, now: time.Now}
}

func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	entries, err := j.blobs.List()
	if err != nil {
		return res, err
	}
	cutoff := j.now().Add(-j.grace)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.ModTime.After(cutoff) {
			continue
		}
		if e.Staging {
			if err := j.blobs.RemoveStaging(e.Name); err != nil {
				j.log.Warnw("remove staging file", "file", e.Name, "err", err)
				continue
			}
			res.Staging++
			continue
		}
		id := strings.TrimSuffix(e.Name, filepath.Ext(e.Name))
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		ok, err := j.uploads.UploadExists(ctx, id)
		if err != nil {
			return res, err
		}
		if ok {
			continue
		}
		if err := j.blobs.Delete(ctx, e.Name); err != nil {
			j.log.Warnw("delete orphan blob", "file", e.Name, "err", err)
			continue
		}
		j.log.Infow("deleted orphan blob", "upload_id", id, "file", e.Name)
		res.Orphans++
	}
	return res, nil
}
