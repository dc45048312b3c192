// Package knowledge maintains a lightweight graph of ingested documents in
// neo4j: tag and topic nodes link documents so chat responses can surface
// related material. The graph is advisory; ingest and chat both treat it as
// best-effort.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Document is the graph projection of an ingested document.
type Document struct {
	ID         string
	Name       string
	ChunkCount int
	Tags       []string
	Topics     []string
}

// SyncDocument upserts the document node and rebuilds its tag and topic
// relations.
func SyncDocument(ctx context.Context, driver neo4j.DriverWithContext, doc Document) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.name = $name,
			    d.chunk_count = $chunk_count,
			    d.updated_at = datetime()
		`, map[string]any{
			"id":          doc.ID,
			"name":        doc.Name,
			"chunk_count": doc.ChunkCount,
		}); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:HAS_TAG]->(:Tag)
			DELETE r
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear tag relations: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:HAS_TOPIC]->(:Topic)
			DELETE r
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear topic relations: %w", err)
		}

		for _, tag := range doc.Tags {
			if tag == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (t:Tag {name: $tag})
				MERGE (d)-[:HAS_TAG]->(t)
			`, map[string]any{"id": doc.ID, "tag": tag}); err != nil {
				return nil, fmt.Errorf("upsert tag %q: %w", tag, err)
			}
		}

		for _, topic := range doc.Topics {
			if topic == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (t:Topic {name: $topic})
				MERGE (d)-[:HAS_TOPIC]->(t)
			`, map[string]any{"id": doc.ID, "topic": topic}); err != nil {
				return nil, fmt.Errorf("upsert topic %q: %w", topic, err)
			}
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	// Orphaned tag and topic nodes accumulate as documents are re-synced;
	// sweep them outside the write transaction.
	if _, err := session.Run(ctx, `
		MATCH (t:Topic)
		WHERE NOT (t)<-[:HAS_TOPIC]-(:Document)
		DELETE t
	`, nil); err != nil {
		return fmt.Errorf("sweep orphaned topics: %w", err)
	}
	if _, err := session.Run(ctx, `
		MATCH (t:Tag)
		WHERE NOT (t)<-[:HAS_TAG]-(:Document)
		DELETE t
	`, nil); err != nil {
		return fmt.Errorf("sweep orphaned tags: %w", err)
	}

	return nil
}

// GraphSync binds the sync operations to one driver so callers can hold a
// single value instead of threading the driver around.
type GraphSync struct {
	driver neo4j.DriverWithContext
}

func NewGraphSync(driver neo4j.DriverWithContext) *GraphSync {
	return &GraphSync{driver: driver}
}

func (g *GraphSync) SyncDocument(ctx context.Context, doc Document) error {
	return SyncDocument(ctx, g.driver, doc)
}

func (g *GraphSync) RemoveDocument(ctx context.Context, id string) error {
	return RemoveDocument(ctx, g.driver, id)
}

// RemoveDocument detaches and deletes the document node.
func RemoveDocument(ctx context.Context, driver neo4j.DriverWithContext, id string) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH (d:Document {id: $id}) DETACH DELETE d", map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete document node: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("consume delete result: %w", err)
	}
	return nil
}
