package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/video-service/internal/service"
	"go.uber.org/zap"
)

// multipartMemory is how much of a form is held in memory; file parts beyond
// it spill to temporary files.
const multipartMemory = 1 << 20

// Uploader is implemented by *service.UploadService.
type Uploader interface {
	Submit(ctx context.Context, body io.Reader, title, filename string) (string, error)
}

// Streamer is implemented by *service.StreamService.
type Streamer interface {
	Stream(ctx context.Context, id, rangeHeader string) (*service.Chunk, error)
}

// Deps are the handlers' collaborators.
type Deps struct {
	Uploads        Uploader
	Streams        Streamer
	Health         func(ctx context.Context) error
	PreviewDir     string
	DefaultVideoID string
	MaxUploadBytes int64
}

func RegisterHandlers(r *gin.Engine, d Deps, uploadLimit gin.HandlerFunc, log *zap.SugaredLogger) {
	api := r.Group("/api")
	api.Use(uploadLimit)
	{
		api.POST("/video/upload", uploadHandler(d.Uploads, d.MaxUploadBytes, log))
	}
	r.GET("/video", streamHandler(d.Streams, d.DefaultVideoID, log))
	r.GET("/video/:id", streamHandler(d.Streams, d.DefaultVideoID, log))
	r.GET("/preview/:id", previewHandler(d.PreviewDir))
	r.GET("/healthz", healthHandler(d.Health))
}

func uploadHandler(up Uploader, maxBytes int64, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// room for the title field and multipart framing
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartMemory)
		if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("upload larger than %d bytes", maxBytes)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Content-Type must be multipart/form-data"})
			return
		}
		defer c.Request.MultipartForm.RemoveAll()

		title := strings.TrimSpace(c.PostForm("title"))
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fh.Size == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			log.Errorw("open multipart file", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}
		defer f.Close()

		id, err := up.Submit(c.Request.Context(), f, title, fh.Filename)
		if err != nil {
			writeError(c, err, log)
			return
		}
		c.JSON(http.StatusOK, gin.H{"videoId": id})
	}
}

func streamHandler(st Streamer, defaultID string, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			id = defaultID
		}
		chunk, err := st.Stream(c.Request.Context(), id, c.GetHeader("Range"))
		if err != nil {
			writeError(c, err, log)
			return
		}
		defer chunk.Close()

		extra := map[string]string{
			"Content-Range": chunk.Header.Get("Content-Range"),
			"Accept-Ranges": chunk.Header.Get("Accept-Ranges"),
		}
		c.DataFromReader(chunk.Status, chunk.Length, chunk.Header.Get("Content-Type"), chunk.Body, extra)
	}
}

func previewHandler(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := uuid.Parse(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		path := filepath.Join(dir, id+".jpg")
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		c.Header("Content-Type", "image/jpeg")
		c.File(path)
	}
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// writeError maps service errors to status codes. Server-side failures are
// logged with their cause and reported without it.
func writeError(c *gin.Context, err error, log *zap.SugaredLogger) {
	var rerr *service.RangeError
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRangeRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requires Range header"})
	case errors.As(err, &rerr):
		if rerr.Size >= 0 {
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", rerr.Size))
		}
		c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{"error": rerr.Reason})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
	case errors.Is(err, service.ErrStorageWrite), errors.Is(err, service.ErrMetadataWrite):
		log.Errorw("upload failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
	default:
		log.Errorw("request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
