package out

import (
	"context"
	"time"
)

// MailMessage is a provider message reduced to what the pipeline needs.
type MailMessage struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	Date        time.Time
	Snippet     string
	Attachments []MailAttachment
}

// MailAttachment is attachment metadata; bytes are fetched separately.
type MailAttachment struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// WatchResult is the provider's push registration receipt.
type WatchResult struct {
	HistoryID string
	Expiry    time.Time
}

// MailboxClient is a per-user handle onto the provider mailbox. Instances
// come from the client factory with fresh credentials already attached.
type MailboxClient interface {
	// ListUnreadWithAttachments returns up to limit unread inbox messages
	// that carry at least one attachment, newest first.
	ListUnreadWithAttachments(ctx context.Context, limit int64) ([]*MailMessage, error)

	// FetchMessage loads full headers and attachment metadata for one message.
	FetchMessage(ctx context.Context, messageID string) (*MailMessage, error)

	// FetchAttachment returns the decoded attachment bytes.
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)

	// MarkRead clears the unread flag. Returns ErrPermissionDenied when the
	// grant lacks modify scope; callers treat that as non-fatal.
	MarkRead(ctx context.Context, messageID string) error

	// RegisterPushWatch subscribes the mailbox to the push topic.
	RegisterPushWatch(ctx context.Context, topic string) (*WatchResult, error)

	// StopPushWatch tears the subscription down. Stopping an absent watch
	// is not an error.
	StopPushWatch(ctx context.Context) error
}
