package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/types"
)

// wooMaxPerPage is the largest per_page WooCommerce accepts
const wooMaxPerPage = 100

// WooCommerceClient reads catalogs from the WooCommerce REST API (wc/v3).
// WooCommerce has no bulk export, so it only implements SourceClient.
type WooCommerceClient struct {
	transport *transport
}

// NewWooCommerceClient creates a WooCommerce client
func NewWooCommerceClient(cfg *ClientConfig) (*WooCommerceClient, error) {
	t, err := newTransport(types.PlatformWooCommerce, cfg)
	if err != nil {
		return nil, err
	}
	return &WooCommerceClient{transport: t}, nil
}

// Platform implements SourceClient
func (c *WooCommerceClient) Platform() types.Platform {
	return types.PlatformWooCommerce
}

// FetchPage implements SourceClient. Page sizes above 100 are clamped, so
// page numbers always refer to the clamped size.
func (c *WooCommerceClient) FetchPage(ctx context.Context, creds Credentials, req PageRequest) (*Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(min(req.PageSize, wooMaxPerPage)))
	q.Set("page", strconv.Itoa(req.PageNumber))
	q.Set("orderby", "id")
	q.Set("order", "asc")
	q.Set("status", "any")
	endpoint := creds.BaseURL + "/wp-json/wc/v3/products?" + q.Encode()

	resp, err := c.transport.do(ctx, creds.StoreKey(), "FetchPage", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		r.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)
		r.Header.Set("Accept", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	var products []*WooProduct
	if err := json.Unmarshal(resp.body, &products); err != nil {
		return nil, apperrors.NewProviderError(string(types.PlatformWooCommerce), fmt.Errorf("failed to parse products: %w", err))
	}

	page := &Page{Items: make([]SourceRecord, 0, len(products))}
	for _, p := range products {
		page.Items = append(page.Items, p)
	}
	if pages, err := strconv.Atoi(resp.header.Get("X-WP-TotalPages")); err == nil {
		page.HasNext = req.PageNumber < pages
	}
	if req.IncludeCount {
		if total, err := strconv.Atoi(resp.header.Get("X-WP-Total")); err == nil {
			page.ReportedTotal = &total
		}
	}
	return page, nil
}

var _ SourceClient = (*WooCommerceClient)(nil)
