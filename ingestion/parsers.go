package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/quillworks/kbchat/kberr"
)

// Parser turns a file payload into raw text, or fails with a parse error.
type Parser interface {
	Parse(ctx context.Context, file File) (string, error)
}

// ParserFor returns the built-in parser for a format, or nil when the format
// has no extractor (unsupported formats fail at the pipeline's parse stage).
func ParserFor(format Format) Parser {
	switch format {
	case FormatMarkdown, FormatText:
		return plainTextParser{}
	case FormatJSON:
		return jsonParser{}
	case FormatPDF:
		return pdfParser{}
	case FormatWord:
		return docxParser{}
	case FormatCSV:
		return csvParser{}
	default:
		return nil
	}
}

type plainTextParser struct{}

func (plainTextParser) Parse(_ context.Context, file File) (string, error) {
	return normalizeText(string(file.Data)), nil
}

type jsonParser struct{}

// Parse re-serializes the payload so malformed JSON is rejected up front and
// downstream chunks see a stable rendering.
func (jsonParser) Parse(_ context.Context, file File) (string, error) {
	var payload any
	if err := json.Unmarshal(file.Data, &payload); err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "parse json %s", file.Name)
	}
	rendered, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "render json %s", file.Name)
	}
	return string(rendered), nil
}

type pdfParser struct{}

func (pdfParser) Parse(_ context.Context, file File) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "open pdf %s", file.Name)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "extract pdf text from %s", file.Name)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "read pdf text from %s", file.Name)
	}

	return normalizeText(buf.String()), nil
}

type docxParser struct{}

// Parse extracts paragraph text from the DOCX main document part. Legacy
// binary .doc payloads are not zip archives and fail here.
func (docxParser) Parse(_ context.Context, file File) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "open word archive %s", file.Name)
	}

	var document *zip.File
	for _, entry := range archive.File {
		if entry.Name == "word/document.xml" {
			document = entry
			break
		}
	}
	if document == nil {
		return "", kberr.New(kberr.KindParse, "word archive %s has no document part", file.Name)
	}

	part, err := document.Open()
	if err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "open document part of %s", file.Name)
	}
	defer part.Close()

	text, err := decodeDocumentXML(part)
	if err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "decode document xml of %s", file.Name)
	}
	return normalizeText(text), nil
}

func decodeDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var builder strings.Builder

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.CharData:
			builder.Write(t)
		case xml.EndElement:
			// Word paragraphs become blank-line separated paragraphs so
			// the chunker sees the document's structure.
			if t.Name.Local == "p" {
				builder.WriteString("\n\n")
			}
		}
	}

	return builder.String(), nil
}

type csvParser struct{}

// Parse renders each row as a header-labeled paragraph.
func (csvParser) Parse(_ context.Context, file File) (string, error) {
	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	if err != nil {
		return "", kberr.Wrap(kberr.KindParse, err, "parse csv %s", file.Name)
	}
	if len(records) == 0 {
		return "", nil
	}

	headers := records[0]
	var builder strings.Builder
	for idx, row := range records[1:] {
		if idx > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(formatCSVRow(headers, row, idx))
	}
	return builder.String(), nil
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "Row %d", idx+1)

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(row[i]))
	}

	for i := len(headers); i < len(row); i++ {
		fmt.Fprintf(builder, "\nExtra %d: %s", i+1, strings.TrimSpace(row[i]))
	}

	return builder.String()
}

func normalizeText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
