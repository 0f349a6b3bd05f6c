package pipeline

import (
	"context"

	"github.com/joescharf/prepx/internal/docs"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/store"
)

// DocumentSource lists the stored documents of one course and type.
type DocumentSource interface {
	Documents(ctx context.Context, session, course string, docType models.DocType) ([]string, error)
}

// StorageSource lists documents straight from the upload directory.
type StorageSource struct {
	Storage *docs.Storage
}

func (s StorageSource) Documents(_ context.Context, session, course string, docType models.DocType) ([]string, error) {
	return s.Storage.List(session, course, string(docType))
}

// CatalogSource lists documents recorded in the upload catalog, consulting
// Fallback when the catalog has none (files placed without an upload).
type CatalogSource struct {
	Store    store.Store
	Fallback DocumentSource
}

func (c CatalogSource) Documents(ctx context.Context, session, course string, docType models.DocType) ([]string, error) {
	recs, err := c.Store.ListDocuments(ctx, session, course, docType)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 && c.Fallback != nil {
		return c.Fallback.Documents(ctx, session, course, docType)
	}
	// Re-uploading a file name overwrites the file but adds a row.
	seen := make(map[string]bool, len(recs))
	paths := make([]string, 0, len(recs))
	for _, d := range recs {
		if seen[d.Path] {
			continue
		}
		seen[d.Path] = true
		paths = append(paths, d.Path)
	}
	return paths, nil
}

// courseDocuments looks documents up under the course id and then under the
// course code, since uploads may be keyed by either.
func courseDocuments(ctx context.Context, src DocumentSource, session string, course models.Course, docType models.DocType) ([]string, error) {
	var lastErr error
	tried := map[string]bool{}
	for _, key := range []string{course.ID, course.Code} {
		if key == "" || tried[key] {
			continue
		}
		tried[key] = true
		paths, err := src.Documents(ctx, session, key, docType)
		if err != nil {
			lastErr = err
			continue
		}
		if len(paths) > 0 {
			return paths, nil
		}
	}
	return nil, lastErr
}
