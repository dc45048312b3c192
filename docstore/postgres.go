package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/quillworks/kbchat/kberr"
)

// PostgresStore keeps documents and chunks in postgres with pgvector-backed
// similarity search.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Status = StatusPending

	tags, err := json.Marshal(tagsOrEmpty(doc.Tags))
	if err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "marshal document tags")
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, name, mime_type, size_bytes, status, owner_id, description, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`, doc.ID, doc.Name, doc.MimeType, doc.SizeBytes, doc.Status, doc.OwnerID, doc.Description, tags).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "insert document %s", doc.Name)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, mime_type, size_bytes, status, COALESCE(owner_id, ''), COALESCE(description, ''),
		       tags, chunk_count, vector_count, created_at, updated_at
		FROM documents
		WHERE id = $1
	`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, kberr.Wrap(kberr.KindStorage, err, "query document %s", id)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, ownerID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, mime_type, size_bytes, status, COALESCE(owner_id, ''), COALESCE(description, ''),
		       tags, chunk_count, vector_count, created_at, updated_at
		FROM documents
		WHERE $1 = '' OR owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindStorage, err, "list documents")
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, kberr.Wrap(kberr.KindStorage, scanErr, "scan document row")
		}
		docs = append(docs, *doc)
	}
	if rows.Err() != nil {
		return nil, kberr.Wrap(kberr.KindStorage, rows.Err(), "iterate document rows")
	}
	return docs, nil
}

// UpdateStatus moves the document through the forward-only lifecycle. The
// update is conditioned on the status read here, so a concurrent transition
// surfaces as an error instead of silently winning.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	var current Status
	err := s.pool.QueryRow(ctx, "SELECT status FROM documents WHERE id = $1", id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return kberr.New(kberr.KindStorage, "document %s not found", id)
	}
	if err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "read document %s status", id)
	}
	if !current.CanTransition(status) {
		return kberr.New(kberr.KindStorage, "invalid status transition %s -> %s for document %s", current, status, id)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3
	`, id, status, current)
	if err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "update document %s status to %s", id, status)
	}
	if tag.RowsAffected() == 0 {
		return kberr.New(kberr.KindStorage, "document %s status changed concurrently", id)
	}
	return nil
}

func (s *PostgresStore) SetCounts(ctx context.Context, id uuid.UUID, chunks, vectors int) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE documents SET chunk_count = $2, vector_count = $3, updated_at = NOW() WHERE id = $1
	`, id, chunks, vectors); err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "update document %s counts", id)
	}
	return nil
}

func (s *PostgresStore) PersistChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return kberr.New(kberr.KindStorage, "chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "begin chunk transaction")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for i := range chunks {
		chunk := &chunks[i]
		if chunk.ID == uuid.Nil {
			chunk.ID = uuid.New()
		}
		chunk.DocumentID = documentID

		metadata, mErr := json.Marshal(metadataOrEmpty(chunk.Metadata))
		if mErr != nil {
			return kberr.Wrap(kberr.KindStorage, mErr, "marshal chunk %d metadata", chunk.Index)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, chunk.ID, documentID, chunk.Index, chunk.Content, pgvector.NewVector(vectors[i]), metadata); err != nil {
			return kberr.Wrap(kberr.KindStorage, err, "insert chunk %d", chunk.Index)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "commit chunk transaction")
	}
	return nil
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID); err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "delete chunks for document %s", documentID)
	}
	return nil
}

// DeleteDocument removes the document's chunks, then its row. Deleting an id
// that does not exist is not an error.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if err := s.DeleteChunks(ctx, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id); err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "delete document %s", id)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, kberr.New(kberr.KindRetrieval, "query vector is empty")
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindRetrieval, err, "acquire connection")
	}
	defer conn.Release()

	probes := opts.limit() * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, kberr.Wrap(kberr.KindRetrieval, err, "set ivfflat probes")
	}

	rows, err := conn.Query(ctx, `
		SELECT
			dc.id,
			dc.document_id,
			d.name,
			dc.content,
			dc.metadata,
			1 - (dc.embedding <=> $1::vector) AS similarity
		FROM document_chunks dc
		JOIN documents d ON d.id = dc.document_id
		WHERE ($3 = '' OR d.owner_id = $3)
		  AND 1 - (dc.embedding <=> $1::vector) >= $4
		ORDER BY dc.embedding <=> $1::vector
		LIMIT $2
	`, pgvector.NewVector(queryVector), opts.limit(), opts.OwnerID, opts.Threshold)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindRetrieval, err, "query similar chunks")
	}
	defer rows.Close()

	results := make([]SearchResult, 0)
	for rows.Next() {
		var (
			item     SearchResult
			metadata []byte
		)
		if scanErr := rows.Scan(&item.ChunkID, &item.DocumentID, &item.DocumentName, &item.Content, &metadata, &item.Similarity); scanErr != nil {
			return nil, kberr.Wrap(kberr.KindRetrieval, scanErr, "scan search result")
		}
		if len(metadata) > 0 {
			if uErr := json.Unmarshal(metadata, &item.Metadata); uErr != nil {
				return nil, kberr.Wrap(kberr.KindRetrieval, uErr, "decode chunk metadata")
			}
		}
		results = append(results, item)
	}
	if rows.Err() != nil {
		return nil, kberr.Wrap(kberr.KindRetrieval, rows.Err(), "iterate search results")
	}

	return results, nil
}

type docScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row docScanner) (*Document, error) {
	var (
		doc  Document
		tags []byte
	)
	if err := row.Scan(&doc.ID, &doc.Name, &doc.MimeType, &doc.SizeBytes, &doc.Status, &doc.OwnerID,
		&doc.Description, &tags, &doc.ChunkCount, &doc.VectorCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &doc.Tags); err != nil {
			return nil, fmt.Errorf("decode document tags: %w", err)
		}
	}
	return &doc, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func metadataOrEmpty(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}

var _ Store = (*PostgresStore)(nil)
