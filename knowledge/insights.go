package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// RelatedDocument points at a document sharing topics with a source.
type RelatedDocument struct {
	ID           string
	Name         string
	SharedTopics int
}

// Insight enriches a retrieval source with graph context.
type Insight struct {
	ChunkCount int
	Tags       []string
	Topics     []string
	Related    []RelatedDocument
}

// InsightStore answers graph lookups for chat source enrichment.
type InsightStore interface {
	DocumentInsights(ctx context.Context, docIDs []string) (map[string]Insight, error)
}

// Neo4jInsightStore reads insights from the knowledge graph.
type Neo4jInsightStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jInsightStore(driver neo4j.DriverWithContext) *Neo4jInsightStore {
	return &Neo4jInsightStore{driver: driver}
}

func (s *Neo4jInsightStore) DocumentInsights(ctx context.Context, docIDs []string) (map[string]Insight, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(docIDs) == 0 {
		return map[string]Insight{}, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)
		WHERE d.id IN $ids
		OPTIONAL MATCH (d)-[:HAS_TAG]->(tag:Tag)
		OPTIONAL MATCH (d)-[:HAS_TOPIC]->(topic:Topic)
		OPTIONAL MATCH (topic)<-[:HAS_TOPIC]-(related:Document)
		WHERE related.id <> d.id
		WITH d,
		     collect(DISTINCT tag.name) AS tags,
		     collect(DISTINCT topic.name) AS topics,
		     related,
		     count(DISTINCT topic) AS sharedTopics
		WITH d, tags, topics,
		     collect({id: related.id, name: related.name, shared: sharedTopics}) AS relatedRows
		RETURN d.id AS id,
		       d.chunk_count AS chunkCount,
		       [t IN tags WHERE t IS NOT NULL] AS tags,
		       [t IN topics WHERE t IS NOT NULL] AS topics,
		       [r IN relatedRows WHERE r.id IS NOT NULL] AS related
	`, map[string]any{"ids": docIDs})
	if err != nil {
		return nil, fmt.Errorf("run insights query: %w", err)
	}

	insights := make(map[string]Insight, len(docIDs))
	for result.Next(ctx) {
		record := result.Record()
		idVal, _ := record.Get("id")
		countVal, _ := record.Get("chunkCount")
		tagsVal, _ := record.Get("tags")
		topicsVal, _ := record.Get("topics")
		relatedVal, _ := record.Get("related")

		docID, ok := idVal.(string)
		if !ok {
			continue
		}

		insights[docID] = Insight{
			ChunkCount: toInt(countVal),
			Tags:       toStringSlice(tagsVal),
			Topics:     toStringSlice(topicsVal),
			Related:    toRelated(relatedVal),
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("insights result error: %w", err)
	}

	return insights, nil
}

func toStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}

func toRelated(value any) []RelatedDocument {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}

	related := make([]RelatedDocument, 0, len(raw))
	for _, item := range raw {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := data["id"].(string)
		name, _ := data["name"].(string)
		if id == "" {
			continue
		}
		related = append(related, RelatedDocument{
			ID:           id,
			Name:         name,
			SharedTopics: toInt(data["shared"]),
		})
	}
	return related
}

func toInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

var _ InsightStore = (*Neo4jInsightStore)(nil)
