// Package ingestion validates uploaded files and drives them through
// parse, chunk, embed and persist to a completed document.
package ingestion

import (
	"path/filepath"
	"strings"

	"github.com/quillworks/kbchat/kberr"
)

// MaxSizeBytes is the hard upload cap.
const MaxSizeBytes = 50 << 20

// Format enumerates supported document payload formats.
type Format string

const (
	FormatUnknown  Format = ""
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatPDF      Format = "pdf"
	FormatWord     Format = "word"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
)

// File is an upload payload handed to the pipeline.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Metadata is caller-supplied context attached to the resulting document.
// ChunkMetadata is merged into every stored chunk's metadata.
type Metadata struct {
	OwnerID       string
	Description   string
	Tags          []string
	ChunkMetadata map[string]any
}

var extensionFormats = map[string]Format{
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".txt":      FormatText,
	".pdf":      FormatPDF,
	".doc":      FormatWord,
	".docx":     FormatWord,
	".json":     FormatJSON,
	".csv":      FormatCSV,
}

var mimeFormats = map[string]Format{
	"text/markdown":      FormatMarkdown,
	"text/x-markdown":    FormatMarkdown,
	"text/plain":         FormatText,
	"application/pdf":    FormatPDF,
	"application/msword": FormatWord,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatWord,
	"application/json": FormatJSON,
	"text/csv":         FormatCSV,
}

// DetectFormat infers a format from the mime type, falling back to the file
// extension.
func DetectFormat(name, mimeType string) Format {
	if format, ok := mimeFormats[normalizeMime(mimeType)]; ok {
		return format
	}
	if format, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return format
	}
	return FormatUnknown
}

// Validate rejects oversized or unsupported files. It runs before any
// document row is created, so a rejected file never touches storage.
func Validate(file File, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = MaxSizeBytes
	}
	if int64(len(file.Data)) > maxSize {
		return kberr.New(kberr.KindValidation, "file %s is %d bytes, above the %d byte limit", file.Name, len(file.Data), maxSize)
	}
	if DetectFormat(file.Name, file.MimeType) == FormatUnknown {
		return kberr.New(kberr.KindValidation, "file %s has unsupported type (mime %q)", file.Name, file.MimeType)
	}
	return nil
}

func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return mimeType
}
