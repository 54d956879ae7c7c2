package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	apperrors "github.com/novelnest/bookmatch/pkg/errors"
	"github.com/novelnest/bookmatch/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id     BIGINT PRIMARY KEY,
	title  TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	intro  TEXT NOT NULL DEFAULT '',
	tags   TEXT NOT NULL DEFAULT ''
)`

const selectBooks = `SELECT id, title, author, intro, tags FROM books`

// PostgresStore reads the catalog from the books table. Catalog order is
// ascending id.
type PostgresStore struct {
	client *postgres.Client
}

func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{client: client}
}

// EnsureSchema creates the books table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating books table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Documents(ctx context.Context) ([]Document, error) {
	return s.query(ctx, selectBooks+` ORDER BY id`)
}

func (s *PostgresStore) Get(ctx context.Context, ids []int64) (map[int64]Document, error) {
	out := make(map[int64]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	docs, err := s.query(ctx, selectBooks+` WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		out[d.ID] = d
	}
	return out, nil
}

func (s *PostgresStore) FindByTitle(ctx context.Context, title string) (Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Document{}, apperrors.InvalidInputf("title required")
	}
	row := s.client.DB.QueryRowContext(ctx,
		selectBooks+` WHERE strpos(lower(title), lower($1)) > 0 ORDER BY id LIMIT 1`, title)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, apperrors.NotFoundf("no book title contains %q", title)
	}
	if err != nil {
		return Document{}, fmt.Errorf("finding book by title: %w", err)
	}
	return d, nil
}

// Upsert writes docs in one transaction. Text fields beyond the first are
// stored together as tags.
func (s *PostgresStore) Upsert(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if err := ValidateDocument(d); err != nil {
			return fmt.Errorf("%w: book %d: %v", apperrors.ErrInvalidInput, d.ID, err)
		}
	}
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO books (id, title, author, intro, tags)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET title = EXCLUDED.title, author = EXCLUDED.author,
			    intro = EXCLUDED.intro, tags = EXCLUDED.tags`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, d := range docs {
			var intro, tags string
			if len(d.TextFields) > 0 {
				intro = d.TextFields[0]
				tags = strings.Join(d.TextFields[1:], " ")
			}
			if _, err := stmt.ExecContext(ctx, d.ID, d.Title, d.Author, intro, tags); err != nil {
				return fmt.Errorf("upserting book %d: %w", d.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Document, error) {
	rows, err := s.client.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying books: %w", err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating books: %w", err)
	}
	return docs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		d           Document
		intro, tags string
	)
	if err := row.Scan(&d.ID, &d.Title, &d.Author, &intro, &tags); err != nil {
		return Document{}, err
	}
	d.TextFields = []string{intro, tags}
	return d, nil
}
