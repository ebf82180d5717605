package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/richardliu001/video-service/internal/blob"
	"github.com/richardliu001/video-service/internal/model"
	"github.com/richardliu001/video-service/internal/repo"
	"go.uber.org/zap"
)

const (
	rangeUnit          = "bytes="
	defaultContentType = "video/mp4"
)

// UploadLookup resolves an upload id to its stored metadata.
type UploadLookup interface {
	GetUpload(ctx context.Context, id string) (*model.VideoUpload, error)
}

// BlobOpener is the part of the blob store the read path needs.
type BlobOpener interface {
	Open(name string) (*blob.Object, error)
}

// Chunk is one 206 response. Body yields exactly Length bytes; Close releases
// the underlying blob handle.
type Chunk struct {
	Status int
	Header http.Header
	Body   io.Reader
	Length int64

	closer io.Closer
}

func (c *Chunk) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// StreamService serves stored blobs one bounded chunk at a time.
type StreamService struct {
	uploads   UploadLookup
	blobs     BlobOpener
	chunkSize int64
	log       *zap.SugaredLogger
}

// NewStreamService returns StreamService. chunkSize caps every response body.
func NewStreamService(uploads UploadLookup, blobs BlobOpener, chunkSize int64, logger *zap.SugaredLogger) *StreamService {
	return &StreamService{uploads: uploads, blobs: blobs, chunkSize: chunkSize, log: logger}
}

// Stream answers a ranged GET for upload id. Only the start offset of the
// range is honored: the response always covers at most one chunk from there.
func (s *StreamService) Stream(ctx context.Context, id, rangeHeader string) (*Chunk, error) {
	start, err := ParseRangeStart(rangeHeader)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("no video id: %w", ErrNotFound)
	}

	upload, err := s.uploads.GetUpload(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	obj, err := s.blobs.Open(upload.BlobPath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.log.Errorw("upload row without blob", "upload_id", id, "blob", upload.BlobPath)
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	size := obj.Size()
	end, length, err := ChunkBounds(start, size, s.chunkSize)
	if err != nil {
		obj.Close()
		var rerr *RangeError
		if errors.As(err, &rerr) {
			rerr.Header = rangeHeader
		}
		return nil, err
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	h := http.Header{}
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	h.Set("Content-Type", contentType)

	return &Chunk{
		Status: http.StatusPartialContent,
		Header: h,
		Body:   io.NewSectionReader(obj, start, length),
		Length: length,
		closer: obj,
	}, nil
}

// ParseRangeStart extracts S from "bytes=S-" or "bytes=S-E". An empty header
// is ErrRangeRequired; anything else that does not parse is a *RangeError.
// A present end must be numeric and not before S, but it is not used.
func ParseRangeStart(header string) (int64, error) {
	if header == "" {
		return 0, ErrRangeRequired
	}
	if !strings.HasPrefix(header, rangeUnit) {
		return 0, &RangeError{Header: header, Reason: "missing bytes= unit", Size: -1}
	}
	startStr, endStr, _ := strings.Cut(strings.TrimPrefix(header, rangeUnit), "-")
	start, ok := parseOffset(startStr)
	if !ok {
		return 0, &RangeError{Header: header, Reason: "start is not a non-negative integer", Size: -1}
	}
	if endStr != "" {
		end, ok := parseOffset(endStr)
		if !ok || end < start {
			return 0, &RangeError{Header: header, Reason: "invalid end", Size: -1}
		}
	}
	return start, nil
}

// ChunkBounds returns the inclusive end and length of the chunk starting at
// start in a blob of size bytes.
func ChunkBounds(start, size, chunkSize int64) (end, length int64, err error) {
	if start >= size {
		return 0, 0, &RangeError{Reason: fmt.Sprintf("start %d beyond size %d", start, size), Size: size}
	}
	end = min(start+chunkSize-1, size-1)
	return end, end - start + 1, nil
}

func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
