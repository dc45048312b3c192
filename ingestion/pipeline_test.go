package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/kbchat/docstore"
	"github.com/quillworks/kbchat/embedding"
	"github.com/quillworks/kbchat/inference"
	"github.com/quillworks/kbchat/kberr"
	"github.com/quillworks/kbchat/knowledge"
)

type stubProvider struct {
	err error
}

func (s *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func (s *stubProvider) Complete(context.Context, []inference.Message, inference.CompleteOptions) (string, error) {
	return "", nil
}

var _ inference.Provider = (*stubProvider)(nil)

type stubGraph struct {
	mu      sync.Mutex
	synced  []knowledge.Document
	removed []string
	err     error
}

func (g *stubGraph) SyncDocument(_ context.Context, doc knowledge.Document) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.synced = append(g.synced, doc)
	return nil
}

func (g *stubGraph) RemoveDocument(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, id)
	return nil
}

var _ GraphSyncer = (*stubGraph)(nil)

func newTestPipeline(provider inference.Provider, opts ...Option) (*Pipeline, *docstore.MemoryStore) {
	logger := log.New(io.Discard, "", 0)
	store := docstore.NewMemoryStore()
	gateway := embedding.NewGateway(provider, logger, embedding.WithBatchInterval(time.Millisecond))
	return New(store, gateway, logger, opts...), store
}

func TestIngestRejectsOversizedFileBeforeAnyWrite(t *testing.T) {
	pipeline, store := newTestPipeline(&stubProvider{}, WithMaxSize(10))

	file := File{Name: "big.md", Data: bytes.Repeat([]byte("a"), 11)}
	_, err := pipeline.Ingest(context.Background(), file, Metadata{})

	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindValidation))
	assert.Zero(t, store.DocumentCount())
}

func TestIngestRejectsUnsupportedType(t *testing.T) {
	pipeline, store := newTestPipeline(&stubProvider{})

	file := File{Name: "binary.exe", Data: []byte("MZ")}
	_, err := pipeline.Ingest(context.Background(), file, Metadata{})

	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindValidation))
	assert.Zero(t, store.DocumentCount())
}

func TestIngestMarkdownEndToEnd(t *testing.T) {
	graph := &stubGraph{}
	pipeline, store := newTestPipeline(&stubProvider{}, WithGraph(graph))

	file := File{
		Name: "guide.md",
		Data: []byte("# Deployments\n\nDeploy with the blue green strategy.\n\nRollbacks use the previous release."),
	}
	id, err := pipeline.Ingest(context.Background(), file, Metadata{OwnerID: "user-1", Tags: []string{"ops"}})
	require.NoError(t, err)

	doc, err := store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, docstore.StatusCompleted, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, doc.ChunkCount, doc.VectorCount)
	assert.Equal(t, doc.ChunkCount, store.ChunkCount(id))

	results, err := store.Search(context.Background(), []float32{1, 0}, docstore.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].DocumentID)

	require.Len(t, graph.synced, 1)
	assert.Equal(t, id.String(), graph.synced[0].ID)
	assert.Equal(t, []string{"ops"}, graph.synced[0].Tags)
	assert.NotEmpty(t, graph.synced[0].Topics)
}

func TestIngestParseFailureLeavesNoOrphans(t *testing.T) {
	graph := &stubGraph{}
	pipeline, store := newTestPipeline(&stubProvider{}, WithGraph(graph))

	file := File{Name: "broken.json", Data: []byte("{not json")}
	id, err := pipeline.Ingest(context.Background(), file, Metadata{})

	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindParse))
	assert.Zero(t, store.DocumentCount())
	assert.Zero(t, store.ChunkCount(id))
	assert.Contains(t, graph.removed, id.String())
}

func TestIngestEmbeddingFailureLeavesNoOrphans(t *testing.T) {
	pipeline, store := newTestPipeline(&stubProvider{err: errors.New("provider down")})

	file := File{Name: "guide.md", Data: []byte("Deploy with the blue green strategy.")}
	id, err := pipeline.Ingest(context.Background(), file, Metadata{})

	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindEmbedding))
	assert.Zero(t, store.DocumentCount())
	assert.Zero(t, store.ChunkCount(id))
}

func TestIngestEmptyDocumentCompletes(t *testing.T) {
	pipeline, store := newTestPipeline(&stubProvider{})

	file := File{Name: "empty.txt", Data: []byte("   \n\n  ")}
	id, err := pipeline.Ingest(context.Background(), file, Metadata{})
	require.NoError(t, err)

	doc, err := store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, docstore.StatusCompleted, doc.Status)
	assert.Zero(t, doc.ChunkCount)
	assert.Zero(t, store.ChunkCount(id))
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	pipeline, store := newTestPipeline(&stubProvider{},
		WithBatchConcurrency(2),
		WithBatchDelay(time.Millisecond),
	)

	files := []File{
		{Name: "one.md", Data: []byte("First document about deployments.")},
		{Name: "broken.json", Data: []byte("{not json")},
		{Name: "two.md", Data: []byte("Second document about rollbacks.")},
	}

	result := pipeline.IngestBatch(context.Background(), files, Metadata{})

	assert.Len(t, result.Successful, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "broken.json", result.Failed[0].Name)
	assert.Error(t, result.Failed[0].Err)
	assert.Equal(t, 2, store.DocumentCount())
}

func TestRemoveDeletesStoreAndGraph(t *testing.T) {
	graph := &stubGraph{}
	pipeline, store := newTestPipeline(&stubProvider{}, WithGraph(graph))

	file := File{Name: "guide.md", Data: []byte("Deploy with the blue green strategy.")}
	id, err := pipeline.Ingest(context.Background(), file, Metadata{})
	require.NoError(t, err)

	require.NoError(t, pipeline.Remove(context.Background(), id))
	assert.Zero(t, store.DocumentCount())
	assert.Contains(t, graph.removed, id.String())

	// Removing an unknown document is not an error.
	require.NoError(t, pipeline.Remove(context.Background(), uuid.New()))
}

func TestGraphFailureDoesNotFailIngest(t *testing.T) {
	graph := &stubGraph{err: errors.New("neo4j down")}
	pipeline, store := newTestPipeline(&stubProvider{}, WithGraph(graph))

	file := File{Name: "guide.md", Data: []byte("Deploy with the blue green strategy.")}
	id, err := pipeline.Ingest(context.Background(), file, Metadata{})
	require.NoError(t, err)

	doc, err := store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, docstore.StatusCompleted, doc.Status)
}

func TestProgressHubDeliversAndClosesOnTerminal(t *testing.T) {
	hub := newProgressHub()
	id := uuid.New()

	ch, cancel := hub.subscribe(id)
	defer cancel()

	hub.publish(ProgressEvent{DocumentID: id, Stage: StageParsing, Progress: 10})
	hub.publish(ProgressEvent{DocumentID: id, Stage: StageCompleted, Progress: 100})

	event := <-ch
	assert.Equal(t, StageParsing, event.Stage)

	event = <-ch
	assert.Equal(t, StageCompleted, event.Stage)

	_, open := <-ch
	assert.False(t, open)
}

func TestProgressHubFailedEventCarriesError(t *testing.T) {
	hub := newProgressHub()
	id := uuid.New()

	ch, cancel := hub.subscribe(id)
	defer cancel()

	hub.publish(ProgressEvent{DocumentID: id, Stage: StageFailed, Progress: 100, Error: "parse document: bad input"})

	event := <-ch
	assert.Equal(t, StageFailed, event.Stage)
	assert.Equal(t, "parse document: bad input", event.Error)

	_, open := <-ch
	assert.False(t, open)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatMarkdown, DetectFormat("notes.md", ""))
	assert.Equal(t, FormatPDF, DetectFormat("paper.pdf", ""))
	assert.Equal(t, FormatWord, DetectFormat("report.docx", ""))
	assert.Equal(t, FormatCSV, DetectFormat("table.csv", ""))
	assert.Equal(t, FormatText, DetectFormat("unknown.bin", "text/plain; charset=utf-8"))
	assert.Equal(t, FormatUnknown, DetectFormat("binary.exe", "application/octet-stream"))
}
