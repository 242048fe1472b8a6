package models

import "time"

// Status of a file-share session.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Session is the persistent record for one file-share attempt. FileName and
// FileType hold envelope ciphertext, never plaintext. FileHash is a
// client-supplied digest and is stored as-is.
type Session struct {
	ID                string
	EncryptedFileName string
	FileSize          int64
	EncryptedFileType string
	FileHash          string
	CodeHash          string
	Status            Status
	CreatedAt         time.Time
}
