// Package provider implements the mailbox provider port for Gmail.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	out "mailsift_server/core/port/out"
)

var (
	// ErrPermissionDenied reports a grant that lacks the scope for the
	// attempted call. Read-path callers treat it as non-fatal.
	ErrPermissionDenied = errors.New("provider permission denied")

	// ErrAuthRevoked reports credentials the provider no longer accepts.
	ErrAuthRevoked = errors.New("provider credentials rejected")
)

// unreadWithAttachmentsQuery selects the messages the pipeline cares about.
const unreadWithAttachmentsQuery = "is:unread has:attachment in:inbox"

// fetchParallelism bounds concurrent per-message Get calls during a list.
const fetchParallelism = 5

// NewOAuthConfig builds the OAuth client for mailbox consent. Offline
// access is required to obtain the refresh token the vault stores.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailModifyScope,
		},
		Endpoint: google.Endpoint,
	}
}

// NewBreaker builds the circuit breaker shared by every mailbox client in
// the process. Server-side failures trip it; client errors pass through.
func NewBreaker(log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// Client is a per-user Gmail handle implementing out.MailboxClient.
type Client struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
	log zerolog.Logger
}

// NewClient builds a client over an authenticated HTTP client.
func NewClient(ctx context.Context, httpClient *http.Client, cb *gobreaker.CircuitBreaker, log zerolog.Logger) (*Client, error) {
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &Client{svc: svc, cb: cb, log: log}, nil
}

var _ out.MailboxClient = (*Client)(nil)

// Profile returns the mailbox address and current history cursor.
func (c *Client) Profile(ctx context.Context) (string, string, error) {
	var profile *gmail.Profile
	err := c.execute("GetProfile", func() error {
		var apiErr error
		profile, apiErr = c.svc.Users.GetProfile("me").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", "", mapError(err)
	}
	return profile.EmailAddress, fmt.Sprintf("%d", profile.HistoryId), nil
}

// ListUnreadWithAttachments returns up to limit unread inbox messages with
// at least one attachment, newest first. Full message fetches run in a
// small parallel window.
func (c *Client) ListUnreadWithAttachments(ctx context.Context, limit int64) ([]*out.MailMessage, error) {
	var list *gmail.ListMessagesResponse
	err := c.execute("ListMessages", func() error {
		var apiErr error
		list, apiErr = c.svc.Users.Messages.List("me").
			Q(unreadWithAttachmentsQuery).
			MaxResults(limit).
			Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(list.Messages) == 0 {
		return nil, nil
	}

	type result struct {
		idx int
		msg *out.MailMessage
		err error
	}

	sem := make(chan struct{}, fetchParallelism)
	results := make(chan result, len(list.Messages))

	for i, ref := range list.Messages {
		sem <- struct{}{}
		go func(idx int, id string) {
			defer func() { <-sem }()
			msg, err := c.FetchMessage(ctx, id)
			results <- result{idx: idx, msg: msg, err: err}
		}(i, ref.Id)
	}

	ordered := make([]*out.MailMessage, len(list.Messages))
	for range list.Messages {
		r := <-results
		if r.err != nil {
			// One bad message should not sink the whole sweep.
			c.log.Warn().Err(r.err).Msg("failed to fetch message during list")
			continue
		}
		ordered[r.idx] = r.msg
	}

	messages := make([]*out.MailMessage, 0, len(ordered))
	for _, m := range ordered {
		if m != nil {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// FetchMessage loads headers and attachment metadata for one message.
func (c *Client) FetchMessage(ctx context.Context, messageID string) (*out.MailMessage, error) {
	var msg *gmail.Message
	err := c.execute("GetMessage", func() error {
		var apiErr error
		msg, apiErr = c.svc.Users.Messages.Get("me", messageID).
			Format("full").
			Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, mapError(err)
	}
	return parseMessage(msg), nil
}

// FetchAttachment returns decoded attachment bytes.
func (c *Client) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var body *gmail.MessagePartBody
	err := c.execute("GetAttachment", func() error {
		var apiErr error
		body, apiErr = c.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).
			Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, mapError(err)
	}

	data, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		// Some responses arrive without padding.
		data, err = base64.RawURLEncoding.DecodeString(body.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment data: %w", err)
		}
	}
	return data, nil
}

// MarkRead clears the unread flag.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	err := c.execute("ModifyMessage", func() error {
		_, apiErr := c.svc.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"UNREAD"},
		}).Context(ctx).Do()
		return apiErr
	})
	return mapError(err)
}

// RegisterPushWatch subscribes the inbox to the push topic. The provider
// returns expiry in epoch milliseconds.
func (c *Client) RegisterPushWatch(ctx context.Context, topic string) (*out.WatchResult, error) {
	var resp *gmail.WatchResponse
	err := c.execute("Watch", func() error {
		var apiErr error
		resp, apiErr = c.svc.Users.Watch("me", &gmail.WatchRequest{
			TopicName: topic,
			LabelIds:  []string{"INBOX"},
		}).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, mapError(err)
	}

	return &out.WatchResult{
		HistoryID: fmt.Sprintf("%d", resp.HistoryId),
		Expiry:    time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopPushWatch tears down the subscription. An absent watch is fine.
func (c *Client) StopPushWatch(ctx context.Context) error {
	err := c.execute("Stop", func() error {
		return c.svc.Users.Stop("me").Context(ctx).Do()
	})
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}
	return mapError(err)
}

// execute wraps an API call with the shared circuit breaker. Server-side
// failures count against the breaker; client errors pass through without
// tripping it.
func (c *Client) execute(operation string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		c.log.Warn().
			Str("operation", operation).
			Str("breaker_state", c.cb.State().String()).
			Err(err).
			Msg("gmail api call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (e *nonCircuitError) Unwrap() error {
	return e.err
}

// mapError converts provider status codes to the sentinels callers branch
// on. Anything else passes through wrapped.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrAuthRevoked, err)
		}
	}
	return err
}

// parseMessage reduces a full Gmail message to pipeline fields.
func parseMessage(msg *gmail.Message) *out.MailMessage {
	parsed := &out.MailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				parsed.Subject = h.Value
			case "From":
				parsed.From = h.Value
			case "Date":
				if t, err := parseDateHeader(h.Value); err == nil {
					parsed.Date = t
				}
			}
		}
		parsed.Attachments = collectAttachments(msg.Payload, nil)
	}

	if parsed.Date.IsZero() && msg.InternalDate > 0 {
		parsed.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	return parsed
}

// collectAttachments walks the MIME part tree. A part is an attachment
// when it has both a filename and an attachment id.
func collectAttachments(part *gmail.MessagePart, acc []out.MailAttachment) []out.MailAttachment {
	if part == nil {
		return acc
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		acc = append(acc, out.MailAttachment{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}
	for _, child := range part.Parts {
		acc = collectAttachments(child, acc)
	}
	return acc
}

// parseDateHeader accepts the common RFC layouts seen in the wild.
func parseDateHeader(value string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date header: %q", value)
}
