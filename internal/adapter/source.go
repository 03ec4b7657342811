package adapter

import (
	"context"
	"fmt"
	"io"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

// SourceClient fetches a store's catalog one page at a time
type SourceClient interface {
	// Platform returns the platform this client talks to
	Platform() types.Platform

	// FetchPage retrieves page req.PageNumber (1-indexed) of req.PageSize products.
	// Page.ReportedTotal is set when req.IncludeCount is true and the platform reports it.
	FetchPage(ctx context.Context, creds Credentials, req PageRequest) (*Page, error)
}

// BulkSource is implemented by platforms that run asynchronous catalog exports
type BulkSource interface {
	// SubmitBulkExport starts one export job covering product identity,
	// variants, images and descriptive fields.
	SubmitBulkExport(ctx context.Context, creds Credentials) (*models.BulkOperation, error)

	// GetBulkOperation returns the current state of a submitted job
	GetBulkOperation(ctx context.Context, creds Credentials, id string) (*models.BulkOperation, error)

	// CancelBulkOperation asks the platform to stop a submitted job
	CancelBulkOperation(ctx context.Context, creds Credentials, id string) error

	// DownloadBulkResult opens the JSONL result file. The caller closes it.
	DownloadBulkResult(ctx context.Context, url string) (io.ReadCloser, error)
}

// PageRequest selects one page of the catalog
type PageRequest struct {
	PageSize     int
	PageNumber   int
	IncludeCount bool
}

// Page is one page of source records
type Page struct {
	Items         []SourceRecord
	ReportedTotal *int
	// HasNext is the platform's own hint; the syncer does not rely on it
	HasNext bool
}

// Validate checks the request bounds
func (r PageRequest) Validate() error {
	if r.PageNumber < 1 {
		return apperrors.NewInvalidParameterError("page", "must be 1 or greater")
	}
	if r.PageSize < 1 {
		return apperrors.NewInvalidParameterError("page_size", "must be 1 or greater")
	}
	return nil
}

// AdapterError wraps errors with the platform and operation that failed
type AdapterError struct {
	Platform types.Platform
	Op       string // e.g. "FetchPage", "SubmitBulkExport"
	Err      error
	Details  map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("source adapter error [%s:%s]: %v (details: %+v)", e.Platform, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("source adapter error [%s:%s]: %v", e.Platform, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(platform types.Platform, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Platform: platform,
		Op:       op,
		Err:      err,
		Details:  details,
	}
}

// Registry resolves the client for a platform
type Registry struct {
	clients map[types.Platform]SourceClient
}

// NewRegistry creates a registry from the given clients
func NewRegistry(clients ...SourceClient) *Registry {
	r := &Registry{clients: make(map[types.Platform]SourceClient, len(clients))}
	for _, c := range clients {
		r.clients[c.Platform()] = c
	}
	return r
}

// Client returns the paginated client for platform
func (r *Registry) Client(platform types.Platform) (SourceClient, error) {
	c, ok := r.clients[platform]
	if !ok {
		return nil, apperrors.NewUnsupportedPlatformError(platform, "catalog sync")
	}
	return c, nil
}

// Bulk returns the bulk export capability for platform
func (r *Registry) Bulk(platform types.Platform) (BulkSource, error) {
	c, ok := r.clients[platform]
	if !ok {
		return nil, apperrors.NewUnsupportedPlatformError(platform, "catalog sync")
	}
	b, ok := c.(BulkSource)
	if !ok {
		return nil, apperrors.NewUnsupportedPlatformError(platform, "bulk export")
	}
	return b, nil
}

// SupportsBulk reports whether platform can run bulk exports
func (r *Registry) SupportsBulk(platform types.Platform) bool {
	_, err := r.Bulk(platform)
	return err == nil
}
