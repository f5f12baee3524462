package domain

import "testing"

func TestSupportedAttachment(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		mimeType string
		want     bool
	}{
		{"pdf by mime", "statement", "application/pdf", true},
		{"png by mime", "scan", "image/png", true},
		{"jpeg by mime", "photo", "image/jpeg", true},
		{"tiff by mime", "fax", "image/tiff", true},
		{"pdf by extension", "invoice.pdf", "application/octet-stream", true},
		{"uppercase extension", "invoice.PDF", "application/octet-stream", true},
		{"mixed case mime", "doc", "Application/PDF", true},
		{"jpg extension", "receipt.jpg", "", true},
		{"tif extension", "page.tif", "", true},
		{"extension wins over unknown mime", "bill.jpeg", "binary/weird", true},
		{"zip rejected", "archive.zip", "application/zip", false},
		{"docx rejected", "contract.docx",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document", false},
		{"no filename no mime", "", "", false},
		{"html rejected", "body.html", "text/html", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SupportedAttachment(tt.filename, tt.mimeType); got != tt.want {
				t.Errorf("SupportedAttachment(%q, %q) = %v, want %v",
					tt.filename, tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		mimeType string
		want     bool
	}{
		{"mime", "x", "application/pdf", true},
		{"extension", "invoice.PDF", "", true},
		{"png is not pdf", "scan.png", "image/png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPDF(tt.filename, tt.mimeType); got != tt.want {
				t.Errorf("IsPDF(%q, %q) = %v, want %v", tt.filename, tt.mimeType, got, tt.want)
			}
		})
	}
}
