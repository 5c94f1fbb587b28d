// Package knowledge mirrors the provenance of the active index into Neo4j:
// which document every chunk came from and in what order.
package knowledge

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/docqa-agent/index"
)

type GraphRecorder struct {
	driver neo4j.DriverWithContext
	logger *log.Logger
}

func NewGraphRecorder(driver neo4j.DriverWithContext, logger *log.Logger) *GraphRecorder {
	if logger == nil {
		logger = log.Default()
	}
	return &GraphRecorder{driver: driver, logger: logger}
}

// Record replaces the stored graph with the documents and chunks of idx.
func (g *GraphRecorder) Record(ctx context.Context, idx *index.Index) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	if idx == nil {
		return fmt.Errorf("index is nil")
	}

	docs := documentParams(idx.Chunks())

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Document OR n:Chunk
			DETACH DELETE n
		`, nil); err != nil {
			return nil, fmt.Errorf("clear previous generation: %w", err)
		}

		for _, doc := range docs {
			if _, err := tx.Run(ctx, `
				MERGE (d:Document {path: $path})
				SET d.generation = $generation,
				    d.updated_at = datetime()
				WITH d
				UNWIND $chunks AS c
				CREATE (ch:Chunk {id: c.id, position: c.position, text: c.text})
				CREATE (d)-[:HAS_CHUNK {order: c.order}]->(ch)
			`, map[string]any{
				"path":       doc["path"],
				"generation": int64(idx.Generation),
				"chunks":     doc["chunks"],
			}); err != nil {
				return nil, fmt.Errorf("write document %v: %w", doc["path"], err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	g.logger.Debug("provenance graph updated", "generation", idx.Generation, "documents", len(docs))
	return nil
}

// Clear removes every Document and Chunk node.
func (g *GraphRecorder) Clear(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, query := range []string{
		"MATCH (c:Chunk) DETACH DELETE c",
		"MATCH (d:Document) DETACH DELETE d",
	} {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	g.logger.Info("provenance graph cleared")
	return nil
}

// documentParams groups chunks by source, keeping first-seen document order
// and each document's chunk order.
func documentParams(chunks []index.Chunk) []map[string]any {
	docs := make([]map[string]any, 0)
	bySource := make(map[string]int)

	for _, chunk := range chunks {
		i, ok := bySource[chunk.Source]
		if !ok {
			i = len(docs)
			bySource[chunk.Source] = i
			docs = append(docs, map[string]any{
				"path":   chunk.Source,
				"chunks": make([]any, 0),
			})
		}
		list := docs[i]["chunks"].([]any)
		docs[i]["chunks"] = append(list, map[string]any{
			"id":       chunk.ID,
			"position": int64(chunk.Position),
			"order":    int64(len(list)),
			"text":     chunk.Text,
		})
	}
	return docs
}
