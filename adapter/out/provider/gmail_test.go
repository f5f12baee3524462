package provider

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func TestParseMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m-100",
		ThreadId:     "t-1",
		Snippet:      "Please find attached",
		InternalDate: 1760000000000,
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Invoice March"},
				{Name: "From", Value: "Billing <billing@acme.example>"},
				{Name: "Date", Value: "Mon, 02 Mar 2026 10:30:00 +0100"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Size: 120},
				},
				{
					Filename: "invoice.pdf",
					MimeType: "application/pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att-1", Size: 52341},
				},
				{
					MimeType: "multipart/mixed",
					Parts: []*gmail.MessagePart{
						{
							Filename: "scan.png",
							MimeType: "image/png",
							Body:     &gmail.MessagePartBody{AttachmentId: "att-2", Size: 917},
						},
					},
				},
			},
		},
	}

	parsed := parseMessage(msg)

	if parsed.ID != "m-100" || parsed.Subject != "Invoice March" {
		t.Errorf("header parse failed: %+v", parsed)
	}
	if parsed.From != "Billing <billing@acme.example>" {
		t.Errorf("From = %q", parsed.From)
	}
	if parsed.Date.IsZero() {
		t.Error("Date not parsed")
	}
	if want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC); !parsed.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", parsed.Date, want)
	}

	if len(parsed.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2 (nested part must be found)", len(parsed.Attachments))
	}
	if parsed.Attachments[0].ID != "att-1" || parsed.Attachments[0].Filename != "invoice.pdf" {
		t.Errorf("attachment[0] = %+v", parsed.Attachments[0])
	}
	if parsed.Attachments[1].Filename != "scan.png" {
		t.Errorf("attachment[1] = %+v", parsed.Attachments[1])
	}
}

func TestParseMessage_FallsBackToInternalDate(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m-2",
		InternalDate: 1760000000000,
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Date", Value: "not a date"},
			},
		},
	}

	parsed := parseMessage(msg)
	if want := time.UnixMilli(1760000000000).UTC(); !parsed.Date.Equal(want) {
		t.Errorf("Date = %v, want internal date %v", parsed.Date, want)
	}
}

func TestCollectAttachments_SkipsInlineParts(t *testing.T) {
	part := &gmail.MessagePart{
		Parts: []*gmail.MessagePart{
			// Inline image without attachment id must be skipped.
			{Filename: "logo.png", MimeType: "image/png", Body: &gmail.MessagePartBody{}},
			// Filename missing means body part, not attachment.
			{MimeType: "application/pdf", Body: &gmail.MessagePartBody{AttachmentId: "x"}},
			{Filename: "doc.pdf", MimeType: "application/pdf", Body: &gmail.MessagePartBody{AttachmentId: "att-9"}},
		},
	}

	atts := collectAttachments(part, nil)
	if len(atts) != 1 || atts[0].ID != "att-9" {
		t.Errorf("collectAttachments = %+v, want only att-9", atts)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"forbidden", http.StatusForbidden, ErrPermissionDenied},
		{"unauthorized", http.StatusUnauthorized, ErrAuthRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(&googleapi.Error{Code: tt.code})
			if !errors.Is(err, tt.want) {
				t.Errorf("mapError(%d) = %v, want %v", tt.code, err, tt.want)
			}
		})
	}

	if mapError(nil) != nil {
		t.Error("mapError(nil) != nil")
	}

	plain := errors.New("boom")
	if got := mapError(plain); !errors.Is(got, plain) {
		t.Errorf("mapError(plain) = %v, want passthrough", got)
	}
}

func TestParseDateHeader(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"Mon, 02 Mar 2026 10:30:00 +0100", true},
		{"2 Jan 2026 08:00:00 -0500", true},
		{"garbage", false},
	}

	for _, tt := range tests {
		_, err := parseDateHeader(tt.value)
		if tt.ok && err != nil {
			t.Errorf("parseDateHeader(%q) error = %v", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("parseDateHeader(%q) expected error", tt.value)
		}
	}
}
