package models

import "time"

// Document represents the PDF currently loaded into a session.
type Document struct {
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"-"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Pages      int       `json:"pages"`
	TotalChars int       `json:"total_chars"`
	Truncated  bool      `json:"truncated"`
	UploadedAt time.Time `json:"uploaded_at"`
}
