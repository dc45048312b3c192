// Package chunker splits raw document text into overlapping segments used as
// the unit of retrieval.
package chunker

import (
	"strings"

	"github.com/quillworks/kbchat/kberr"
)

const (
	// DefaultChunkSize is the nominal chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultOverlap is how many trailing characters are carried into the
	// next chunk so retrieval does not lose meaning at boundaries.
	DefaultOverlap = 200

	paragraphSep = "\n\n"
)

// Options controls how text is segmented.
type Options struct {
	ChunkSize          int
	Overlap            int
	PreserveParagraphs bool
}

// DefaultOptions returns the paragraph-preserving defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:          DefaultChunkSize,
		Overlap:            DefaultOverlap,
		PreserveParagraphs: true,
	}
}

// Chunk is one emitted segment. Index is contiguous from 0. Section carries
// the markdown heading in effect where the chunk started, when one exists.
type Chunk struct {
	Index   int
	Content string
	Section string
}

// Split breaks text into chunks. Empty input yields no chunks and no error.
// An overlap at or above the chunk size cannot make progress and is rejected
// as a configuration error.
func Split(text string, opts Options) ([]Chunk, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.ChunkSize {
		return nil, kberr.New(kberr.KindConfig, "chunk overlap %d must be smaller than chunk size %d", opts.Overlap, opts.ChunkSize)
	}

	clean := strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(clean) == "" {
		return nil, nil
	}

	if !opts.PreserveParagraphs {
		return splitStride(clean, opts.ChunkSize, opts.Overlap), nil
	}
	return splitParagraphs(clean, opts.ChunkSize, opts.Overlap), nil
}

// splitParagraphs greedily packs paragraphs into chunks. When the next
// paragraph would push a non-empty buffer past the chunk size, the buffer is
// emitted and the next one is seeded with the emitted chunk's trailing
// overlap plus the paragraph that triggered the flush. A paragraph larger
// than the chunk size falls back to stride slicing so no single chunk grows
// unbounded.
func splitParagraphs(text string, chunkSize, overlap int) []Chunk {
	paragraphs := strings.Split(text, paragraphSep)

	var (
		chunks  []Chunk
		buffer  string
		section string
		current string
	)

	emit := func(content string) {
		chunks = append(chunks, Chunk{Index: len(chunks), Content: content, Section: section})
	}

	for _, paragraph := range paragraphs {
		// Trimming is only for emptiness and heading checks; the buffer
		// accumulates the raw paragraph so chunk text round-trips exactly.
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			continue
		}
		if heading := headingTitle(trimmed); heading != "" {
			current = heading
		}
		if buffer == "" {
			section = current
		}

		if buffer != "" && len(buffer)+len(paragraphSep)+len(paragraph) > chunkSize && len(paragraph) <= chunkSize {
			emit(buffer)
			buffer = tail(buffer, overlap)
			section = current
		}

		if buffer == "" {
			buffer = paragraph
		} else {
			buffer += paragraphSep + paragraph
		}

		// Oversized accumulations (a paragraph beyond the chunk size on
		// its own) degrade to fixed-stride slices.
		for len(buffer) > chunkSize {
			emit(buffer[:chunkSize])
			buffer = buffer[chunkSize-overlap:]
		}
	}

	if strings.TrimSpace(buffer) != "" {
		emit(buffer)
	}

	return chunks
}

func splitStride(text string, chunkSize, overlap int) []Chunk {
	stride := chunkSize - overlap

	var chunks []Chunk
	for start := 0; start < len(text); start += stride {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Content: text[start:end]})
		if end == len(text) {
			break
		}
	}
	return chunks
}

func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func headingTitle(paragraph string) string {
	line := paragraph
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "#") {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}
