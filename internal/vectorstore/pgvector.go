package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
)

// PgVectorCollection implements Collection using PostgreSQL with the pgvector extension.
// Similarity uses the cosine distance operator (<=>).
type PgVectorCollection struct {
	db *sql.DB
}

// OpenPgVector connects to databaseURL and prepares the collection tables.
func OpenPgVector(ctx context.Context, databaseURL string) (*PgVectorCollection, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c, err := NewPgVectorCollection(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewPgVectorCollection wraps an existing connection, creating the extension and tables if needed.
func NewPgVectorCollection(ctx context.Context, db *sql.DB) (*PgVectorCollection, error) {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS ` + CollectionName + ` (
			id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS collection_meta (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (collection, key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize collection: %w", err)
		}
	}
	return &PgVectorCollection{db: db}, nil
}

// Upsert inserts or replaces documents using ON CONFLICT.
func (p *PgVectorCollection) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO ` + CollectionName + ` (id, document, metadata, embedding, updated_at)
		VALUES ($1, $2, $3::jsonb, $4::vector, NOW())
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`
	for _, doc := range docs {
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, doc.ID, doc.Text, string(metadata), formatVector(doc.Embedding)); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Query returns the closest documents by cosine distance.
func (p *PgVectorCollection) Query(ctx context.Context, embedding []float64, limit int) ([]Match, error) {
	if limit <= 0 {
		return []Match{}, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document, metadata, embedding <=> $1::vector AS distance
		FROM `+CollectionName+`
		WHERE embedding IS NOT NULL
		ORDER BY distance ASC, id ASC
		LIMIT $2
	`, formatVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.Text, &metadata, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return matches, nil
}

// List returns all documents without embeddings.
func (p *PgVectorCollection) List(ctx context.Context) ([]Document, error) {
	return p.selectDocuments(ctx, `SELECT id, document, metadata FROM `+CollectionName+` ORDER BY id`)
}

// Sample returns up to n random documents not listed in exclude.
func (p *PgVectorCollection) Sample(ctx context.Context, n int, exclude []string) ([]Document, error) {
	if n <= 0 {
		return []Document{}, nil
	}
	if exclude == nil {
		exclude = []string{}
	}
	return p.selectDocuments(ctx, `
		SELECT id, document, metadata FROM `+CollectionName+`
		WHERE NOT (id = ANY($1))
		ORDER BY random()
		LIMIT $2
	`, pq.Array(exclude), n)
}

func (p *PgVectorCollection) selectDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var metadata []byte
		if err := rows.Scan(&doc.ID, &doc.Text, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of documents.
func (p *PgVectorCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+CollectionName).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Delete removes the given IDs in one statement.
func (p *PgVectorCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM `+CollectionName+` WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// GetMeta reads a metadata value for this collection.
func (p *PgVectorCollection) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM collection_meta WHERE collection = $1 AND key = $2`,
		CollectionName, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta writes a metadata value for this collection.
func (p *PgVectorCollection) SetMeta(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO collection_meta (collection, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET value = EXCLUDED.value`,
		CollectionName, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

func (p *PgVectorCollection) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PgVectorCollection) Close() error {
	return p.db.Close()
}

// formatVector converts []float64 to the pgvector text format, e.g. "[0.1,0.2,0.3]".
func formatVector(embedding []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, val := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
