package model

import "time"

const (
	AggregateVideoUpload   = "VideoUpload"
	EventTypeVideoUploaded = "VideoUploaded"
)

// OutboxEvent is a not-yet-relayed domain event. The JSON form is the wire
// contract consumers see.
type OutboxEvent struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Aggregate   string     `gorm:"size:64;not null" json:"-"`
	AggregateID string     `gorm:"size:36;not null;index" json:"-"`
	EventType   string     `gorm:"size:64;not null" json:"eventType"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"createdAt"`
	Published   bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time `json:"-"`
}

func (OutboxEvent) TableName() string { return "event_outbox" }

// VideoUploadedPayload is the self-contained snapshot carried by a
// VideoUploaded event; consumers never need to read the upload row.
type VideoUploadedPayload struct {
	VideoID     string    `json:"videoId"`
	Title       string    `json:"title,omitempty"`
	BlobPath    string    `json:"blobPath"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedAt  time.Time `json:"uploadedAt"`
}
