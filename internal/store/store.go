package store

import (
	"context"

	"github.com/joescharf/prepx/internal/models"
)

// Store is the upload catalog.
type Store interface {
	CreateDocument(ctx context.Context, d *models.Document) error
	// ListDocuments returns the documents for one (session, course, type),
	// oldest first. An empty docType matches every type.
	ListDocuments(ctx context.Context, sessionID, course string, docType models.DocType) ([]*models.Document, error)
	ListSessionDocuments(ctx context.Context, sessionID string) ([]*models.Document, error)
	DeleteSessionDocuments(ctx context.Context, sessionID string) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
