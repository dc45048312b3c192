package ingestion

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quillworks/kbchat/chunker"
	"github.com/quillworks/kbchat/contextstore"
	"github.com/quillworks/kbchat/docstore"
	"github.com/quillworks/kbchat/embedding"
	"github.com/quillworks/kbchat/knowledge"
)

const (
	// DefaultBatchConcurrency bounds how many files of a batch ingest run
	// at once.
	DefaultBatchConcurrency = 3
	// DefaultBatchDelay paces consecutive concurrency groups.
	DefaultBatchDelay = 250 * time.Millisecond

	maxGraphTopics = 10
)

// GraphSyncer mirrors completed documents into the knowledge graph. It is
// optional and best-effort; sync failures never fail an ingest.
type GraphSyncer interface {
	SyncDocument(ctx context.Context, doc knowledge.Document) error
	RemoveDocument(ctx context.Context, id string) error
}

// Pipeline drives a file from validation to a completed, searchable document.
type Pipeline struct {
	store   docstore.Store
	gateway *embedding.Gateway
	graph   GraphSyncer
	logger  *log.Logger

	chunking    chunker.Options
	maxSize     int64
	concurrency int
	limiter     *rate.Limiter
	hub         *progressHub
}

// Option tweaks pipeline behavior.
type Option func(*Pipeline)

// WithChunking overrides the chunking parameters.
func WithChunking(opts chunker.Options) Option {
	return func(p *Pipeline) { p.chunking = opts }
}

// WithMaxSize overrides the upload size cap.
func WithMaxSize(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

// WithGraph attaches a knowledge-graph syncer.
func WithGraph(graph GraphSyncer) Option {
	return func(p *Pipeline) { p.graph = graph }
}

// WithBatchConcurrency overrides how many batch files ingest at once.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithBatchDelay overrides the pause between batch concurrency groups.
func WithBatchDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// New builds a pipeline over the given store and embedding gateway.
func New(store docstore.Store, gateway *embedding.Gateway, logger *log.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}

	p := &Pipeline{
		store:       store,
		gateway:     gateway,
		logger:      logger,
		chunking:    chunker.DefaultOptions(),
		maxSize:     MaxSizeBytes,
		concurrency: DefaultBatchConcurrency,
		limiter:     rate.NewLimiter(rate.Every(DefaultBatchDelay), 1),
		hub:         newProgressHub(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers for a document's progress events. The channel closes
// after the terminal event; cancel drops the subscription early.
func (p *Pipeline) Subscribe(documentID uuid.UUID) (<-chan ProgressEvent, func()) {
	return p.hub.subscribe(documentID)
}

// Ingest validates the file, creates the document record, and drives it to
// completion. On any failure after the record exists, partial state is
// removed and a terminal failed event is emitted; validation failures reject
// the file before anything is written.
func (p *Pipeline) Ingest(ctx context.Context, file File, meta Metadata) (uuid.UUID, error) {
	if err := Validate(file, p.maxSize); err != nil {
		return uuid.Nil, err
	}

	doc := &docstore.Document{
		Name:        file.Name,
		MimeType:    file.MimeType,
		SizeBytes:   int64(len(file.Data)),
		OwnerID:     meta.OwnerID,
		Description: meta.Description,
		Tags:        meta.Tags,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return uuid.Nil, err
	}
	p.emit(doc.ID, StagePending, 0, "document registered")

	parser := ParserFor(DetectFormat(file.Name, file.MimeType))
	if parser == nil {
		return doc.ID, p.fail(ctx, doc.ID, "no parser available for this format", nil)
	}

	if err := p.store.UpdateStatus(ctx, doc.ID, docstore.StatusParsing); err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "update status to parsing", err)
	}
	p.emit(doc.ID, StageParsing, 10, "extracting text")

	text, err := parser.Parse(ctx, file)
	if err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "parse document", err)
	}

	p.emit(doc.ID, StageChunking, 40, "splitting into chunks")
	chunks, err := chunker.Split(text, p.chunking)
	if err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "chunk document", err)
	}

	if len(chunks) == 0 {
		// An empty document completes with nothing to search.
		if err := p.completeEmpty(ctx, doc.ID); err != nil {
			return doc.ID, p.fail(ctx, doc.ID, "complete empty document", err)
		}
		return doc.ID, nil
	}

	if err := p.store.UpdateStatus(ctx, doc.ID, docstore.StatusEmbedding); err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "update status to embedding", err)
	}
	p.emit(doc.ID, StageEmbedding, 60, "generating embeddings")

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := p.gateway.EmbedBatch(ctx, texts)
	if err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "embed chunks", err)
	}

	p.emit(doc.ID, StageStoring, 80, "persisting chunks")
	records := make([]docstore.Chunk, len(chunks))
	for i := range chunks {
		records[i] = docstore.Chunk{
			Index:    chunks[i].Index,
			Content:  chunks[i].Content,
			Metadata: chunkMetadata(chunks[i], meta.ChunkMetadata),
		}
	}
	if err := p.store.PersistChunks(ctx, doc.ID, records, vectors); err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "persist chunks", err)
	}
	if err := p.store.SetCounts(ctx, doc.ID, len(records), len(vectors)); err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "record chunk counts", err)
	}
	if err := p.store.UpdateStatus(ctx, doc.ID, docstore.StatusCompleted); err != nil {
		return doc.ID, p.fail(ctx, doc.ID, "update status to completed", err)
	}

	p.syncGraph(ctx, doc, text, len(records))
	p.emit(doc.ID, StageCompleted, 100, "ingestion complete")
	p.logger.Printf("ingested %s (%d chunks)", file.Name, len(records))

	return doc.ID, nil
}

// BatchResult reports per-file outcomes of a batch ingest.
type BatchResult struct {
	Successful []uuid.UUID
	Failed     []FileFailure
}

// FileFailure pairs a failed file with its error.
type FileFailure struct {
	Name string
	Err  error
}

// IngestBatch runs files through Ingest in bounded concurrency groups with a
// pause between groups. One file's failure never aborts its siblings.
func (p *Pipeline) IngestBatch(ctx context.Context, files []File, meta Metadata) BatchResult {
	var (
		mu     sync.Mutex
		result BatchResult
	)

	for start := 0; start < len(files); start += p.concurrency {
		if start > 0 {
			if err := p.limiter.Wait(ctx); err != nil {
				mu.Lock()
				for _, file := range files[start:] {
					result.Failed = append(result.Failed, FileFailure{Name: file.Name, Err: err})
				}
				mu.Unlock()
				return result
			}
		}

		end := start + p.concurrency
		if end > len(files) {
			end = len(files)
		}

		var wg sync.WaitGroup
		for _, file := range files[start:end] {
			wg.Add(1)
			go func(file File) {
				defer wg.Done()
				id, err := p.Ingest(ctx, file, meta)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed = append(result.Failed, FileFailure{Name: file.Name, Err: err})
					return
				}
				result.Successful = append(result.Successful, id)
			}(file)
		}
		wg.Wait()
	}

	return result
}

// Remove deletes a document from the store and, when a graph is attached,
// from the knowledge graph. Unknown ids are not an error.
func (p *Pipeline) Remove(ctx context.Context, id uuid.UUID) error {
	if err := p.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if p.graph != nil {
		if err := p.graph.RemoveDocument(ctx, id.String()); err != nil {
			p.logger.Printf("knowledge graph removal for %s: %v", id, err)
		}
	}
	return nil
}

func (p *Pipeline) completeEmpty(ctx context.Context, id uuid.UUID) error {
	if err := p.store.SetCounts(ctx, id, 0, 0); err != nil {
		return err
	}
	if err := p.store.UpdateStatus(ctx, id, docstore.StatusCompleted); err != nil {
		return err
	}
	p.emit(id, StageCompleted, 100, "document is empty, nothing to index")
	return nil
}

// fail marks the document failed, removes whatever was written for it, and
// emits the terminal failed event. Cleanup is best-effort; the original
// error is always returned.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, msg string, cause error) error {
	if err := p.store.UpdateStatus(ctx, id, docstore.StatusFailed); err != nil {
		p.logger.Printf("mark document %s failed: %v", id, err)
	}
	if err := p.store.DeleteDocument(ctx, id); err != nil {
		p.logger.Printf("cleanup failed document %s: %v", id, err)
	}
	if p.graph != nil {
		if err := p.graph.RemoveDocument(ctx, id.String()); err != nil {
			p.logger.Printf("cleanup graph node for %s: %v", id, err)
		}
	}

	detail := msg
	if cause != nil {
		detail = msg + ": " + cause.Error()
	}
	p.hub.publish(ProgressEvent{
		DocumentID: id,
		Stage:      StageFailed,
		Progress:   100,
		Message:    msg,
		Error:      detail,
	})

	if cause != nil {
		return cause
	}
	return &failError{msg: msg}
}

type failError struct{ msg string }

func (e *failError) Error() string { return e.msg }

func (p *Pipeline) syncGraph(ctx context.Context, doc *docstore.Document, text string, chunkCount int) {
	if p.graph == nil {
		return
	}

	topics := contextstore.Topics(text)
	if len(topics) > maxGraphTopics {
		topics = topics[:maxGraphTopics]
	}

	err := p.graph.SyncDocument(ctx, knowledge.Document{
		ID:         doc.ID.String(),
		Name:       doc.Name,
		ChunkCount: chunkCount,
		Tags:       doc.Tags,
		Topics:     topics,
	})
	if err != nil {
		p.logger.Printf("knowledge graph sync for %s: %v", doc.ID, err)
	}
}

func (p *Pipeline) emit(id uuid.UUID, stage Stage, progress int, msg string) {
	p.hub.publish(ProgressEvent{
		DocumentID: id,
		Stage:      stage,
		Progress:   progress,
		Message:    msg,
	})
}

func chunkMetadata(chunk chunker.Chunk, extra map[string]any) map[string]any {
	metadata := map[string]any{
		"chunkIndex": chunk.Index,
	}
	if chunk.Section != "" {
		metadata["section"] = chunk.Section
	}
	for key, value := range extra {
		metadata[key] = value
	}
	return metadata
}
