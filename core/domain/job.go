package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncJob asks a worker to reconcile one mailbox after a push
// notification. The cursor is the provider's history position at the time
// the notification fired.
type SyncJob struct {
	MailboxAddress string    `json:"mailboxAddress"`
	Cursor         string    `json:"cursorAtNotification"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Key is the queue dedup key. Repeated deliveries of the same push
// collapse onto one job.
func (j *SyncJob) Key() string {
	return fmt.Sprintf("sync:%s:%s", j.MailboxAddress, j.Cursor)
}

// AttachmentJob carries one attachment to the extraction worker. Bytes
// travel base64-encoded inside the payload; metadata is snapshotted at
// sync time so the worker never goes back to the mailbox.
type AttachmentJob struct {
	UserID      uuid.UUID  `json:"userId"`
	MessageID   string     `json:"messageId"`
	Subject     string     `json:"subject"`
	Sender      string     `json:"sender"`
	MessageDate *time.Time `json:"messageDate,omitempty"`
	Filename    string     `json:"filename"`
	MimeType    string     `json:"mimeType"`
	Payload     string     `json:"payload"`
}

// Key is the queue dedup key, one per (message, filename) pair.
func (j *AttachmentJob) Key() string {
	return fmt.Sprintf("att:%s:%s", j.MessageID, j.Filename)
}
