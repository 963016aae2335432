package document

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("document: no document stored for invoice")

// Stored is one rendered artifact keyed by its invoice.
type Stored struct {
	InvoiceID   int64
	FileName    string
	ContentType string
	Data        []byte
	UpdatedAt   time.Time
}

// Store keeps exactly one document per invoice; Put replaces.
type Store interface {
	Put(ctx context.Context, doc Stored) error
	Get(ctx context.Context, invoiceID int64) (*Stored, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore builds the pgx-backed document store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Put(ctx context.Context, doc Stored) error {
	const query = `
		INSERT INTO invoice_documents (invoice_id, file_name, content_type, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (invoice_id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		doc.InvoiceID, doc.FileName, doc.ContentType, doc.Data, doc.UpdatedAt)
	return err
}

func (s *pgStore) Get(ctx context.Context, invoiceID int64) (*Stored, error) {
	const query = `
		SELECT invoice_id, file_name, content_type, data, updated_at
		FROM invoice_documents WHERE invoice_id = $1`
	var doc Stored
	err := s.pool.QueryRow(ctx, query, invoiceID).Scan(
		&doc.InvoiceID, &doc.FileName, &doc.ContentType, &doc.Data, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}
