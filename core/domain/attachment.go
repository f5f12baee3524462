package domain

import (
	"path/filepath"
	"strings"
)

// InlineOCRLimit is the largest attachment the OCR service accepts as
// inline bytes. Larger documents go through the staged async path.
const InlineOCRLimit = 10 * 1024 * 1024

var supportedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/tiff":      {},
}

var supportedExtensions = map[string]struct{}{
	".pdf":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".tif":  {},
	".tiff": {},
}

// SupportedAttachment reports whether an attachment is eligible for
// extraction. Either a known MIME type or a known filename extension
// qualifies; both checks ignore case. Mail clients disagree on which of
// the two is reliable, so one match is enough.
func SupportedAttachment(filename, mimeType string) bool {
	if _, ok := supportedMimeTypes[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := supportedExtensions[ext]
	return ok
}

// IsPDF reports whether the attachment should take the staged async OCR
// path regardless of size.
func IsPDF(filename, mimeType string) bool {
	if strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}
