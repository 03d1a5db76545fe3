package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCollection stores documents in SQLite and scans them for similarity queries.
// It suits the size of a few days of RSS items; larger corpora belong in pgvector.
type SQLiteCollection struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the collection database inside dataDir.
func OpenSQLite(dataDir string) (*SQLiteCollection, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "articles.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &SQLiteCollection{db: db}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize collection: %w", err)
	}
	return c, nil
}

func (c *SQLiteCollection) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS ` + CollectionName + ` (
			id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			embedding TEXT NOT NULL DEFAULT '[]',
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS collection_meta (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (collection, key)
		);`,
	}
	for _, table := range tables {
		if _, err := c.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces documents in a single transaction.
func (c *SQLiteCollection) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+CollectionName+` (id, document, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, doc := range docs {
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", doc.ID, err)
		}
		embedding, err := json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding for %s: %w", doc.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Text, string(metadata), string(embedding), now); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Query computes the cosine distance to every stored embedding and returns the closest.
// Ties are broken by ID so results are deterministic.
func (c *SQLiteCollection) Query(ctx context.Context, embedding []float64, limit int) ([]Match, error) {
	if limit <= 0 {
		return []Match{}, nil
	}

	rows, err := c.db.QueryContext(ctx, `SELECT id, document, metadata, embedding FROM `+CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var doc Document
		var metadata, raw string
		if err := rows.Scan(&doc.ID, &doc.Text, &metadata, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &doc.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding for %s: %w", doc.ID, err)
		}
		if len(doc.Embedding) == 0 {
			continue
		}
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", doc.ID, err)
		}

		distance, err := CosineDistance(embedding, doc.Embedding)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		matches = append(matches, Match{Document: doc, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// List returns all documents without embeddings.
func (c *SQLiteCollection) List(ctx context.Context) ([]Document, error) {
	return c.selectDocuments(ctx, `SELECT id, document, metadata FROM `+CollectionName+` ORDER BY id`)
}

// Sample returns up to n random documents not listed in exclude.
func (c *SQLiteCollection) Sample(ctx context.Context, n int, exclude []string) ([]Document, error) {
	if n <= 0 {
		return []Document{}, nil
	}

	query := `SELECT id, document, metadata FROM ` + CollectionName
	args := make([]any, 0, len(exclude)+1)
	if len(exclude) > 0 {
		placeholders := make([]string, len(exclude))
		for i, id := range exclude {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " WHERE id NOT IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY RANDOM() LIMIT ?"
	args = append(args, n)

	return c.selectDocuments(ctx, query, args...)
}

func (c *SQLiteCollection) selectDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var metadata string
		if err := rows.Scan(&doc.ID, &doc.Text, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of documents.
func (c *SQLiteCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+CollectionName).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Delete removes the given IDs.
func (c *SQLiteCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+CollectionName+` WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetMeta reads a metadata value for this collection.
func (c *SQLiteCollection) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM collection_meta WHERE collection = ? AND key = ?`,
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
func (c *SQLiteCollection) SetMeta(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO collection_meta (collection, key, value) VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value`,
		CollectionName, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// Ping checks the database connection.
func (c *SQLiteCollection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *SQLiteCollection) Close() error {
	return c.db.Close()
}
