package model

import "time"

// MaxTitleLength is the width of the title column in characters.
const MaxTitleLength = 512

// VideoUpload is the metadata row for one stored blob.
type VideoUpload struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	BlobPath         string    `gorm:"size:512;not null" json:"blobPath"`
	Title            string    `gorm:"size:512" json:"title,omitempty"`
	ContentType      string    `gorm:"size:128;not null" json:"contentType"`
	SizeBytes        int64     `gorm:"not null" json:"sizeBytes"`
	UploadedAt       time.Time `gorm:"not null" json:"uploadedAt"`
	PreviewAvailable bool      `gorm:"not null;default:false" json:"previewAvailable"`
}

func (VideoUpload) TableName() string { return "video_upload" }
