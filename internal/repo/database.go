package repo

import (
	"strings"

	"github.com/richardliu001/video-service/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to postgres for postgres URLs and keyword DSNs, and to sqlite
// for anything else (a file path or "file::memory:").
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{PrepareStmt: true, Logger: logger.Default.LogMode(logger.Warn)}
	if isPostgresDSN(dsn) {
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}

// Migrate creates the upload and outbox tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.VideoUpload{}, &model.OutboxEvent{})
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}
