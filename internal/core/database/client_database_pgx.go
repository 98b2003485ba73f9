package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// DatabaseClient is the pgvector-backed chunk index.
type DatabaseClient struct {
	db    *sql.DB
	table string
}

func NewDatabaseClient(db *sql.DB, collection string) (*DatabaseClient, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if !identRe.MatchString(collection) {
		return nil, fmt.Errorf("collection %q is not a valid table name", collection)
	}
	return &DatabaseClient{db: db, table: collection}, nil
}

// InsertChunks inserts chunks in a single transaction. Chunk ids are
// deterministic, so rows written by an earlier delivery of the same job are
// skipped.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s
			(id, session_id, job_id, position, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, c.table)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if len(ch.Embedding) == 0 {
			_ = tx.Rollback()
			return fmt.Errorf("chunk %s has no embedding", ch.ID)
		}
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.Metadata.SessionID, ch.Metadata.JobID, ch.Position, ch.PageContent, meta, pgvector.NewVector(ch.Embedding),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SearchChunks returns the limit nearest chunks of one session, closest first.
// Score is the L2 distance.
func (c *DatabaseClient) SearchChunks(ctx context.Context, sessionID string, queryVec []float32, limit int) ([]models.RetrievedDocument, error) {
	q := fmt.Sprintf(`
		SELECT content, metadata, embedding <-> $2 AS distance
		FROM %s
		WHERE session_id = $1
		ORDER BY embedding <-> $2
		LIMIT $3
	`, c.table)
	rows, err := c.db.QueryContext(ctx, q, sessionID, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.RetrievedDocument, 0, limit)
	for rows.Next() {
		var (
			doc  models.RetrievedDocument
			meta []byte
		)
		if err := rows.Scan(&doc.PageContent, &meta, &doc.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

var _ core.VectorStore = (*DatabaseClient)(nil)
