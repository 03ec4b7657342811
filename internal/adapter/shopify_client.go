package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

// DefaultShopifyAPIVersion is the Admin API version used when none is configured
const DefaultShopifyAPIVersion = "2024-10"

// shopifyBulkQuery is the export submitted as one bulk job. Connections
// are flattened by Shopify into child lines carrying __parentId.
const shopifyBulkQuery = `{
  products {
    edges {
      node {
        id
        handle
        title
        vendor
        productType
        tags
        descriptionHtml
        status
        seo { title description }
        createdAt
        updatedAt
        variants {
          edges {
            node {
              id
              sku
              price
              compareAtPrice
              inventoryQuantity
              barcode
              taxable
              inventoryItem {
                requiresShipping
                measurement { weight { value unit } }
              }
            }
          }
        }
        images {
          edges {
            node { id url }
          }
        }
      }
    }
  }
}`

const shopifyBulkRunMutation = `mutation bulkRun($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation { id status createdAt }
    userErrors { field message }
  }
}`

const shopifyBulkCancelMutation = `mutation bulkCancel($id: ID!) {
  bulkOperationCancel(id: $id) {
    bulkOperation { id status }
    userErrors { field message }
  }
}`

const shopifyBulkStatusQuery = `query bulkStatus($id: ID!) {
  node(id: $id) {
    ... on BulkOperation {
      id
      status
      errorCode
      objectCount
      url
      createdAt
      completedAt
    }
  }
}`

// ShopifyClient reads catalogs from the Shopify Admin API. Pages come from
// the REST products endpoint; bulk exports go through GraphQL.
type ShopifyClient struct {
	transport  *transport
	download   *http.Client
	apiVersion string

	// Shopify paginates with opaque cursors; page numbers are mapped onto
	// the cursor that starts them.
	mu       sync.Mutex
	cursors  map[string]map[int]string
	lastPage map[string]int
}

// NewShopifyClient creates a Shopify client
func NewShopifyClient(cfg *ClientConfig) (*ShopifyClient, error) {
	t, err := newTransport(types.PlatformShopify, cfg)
	if err != nil {
		return nil, err
	}
	version := DefaultShopifyAPIVersion
	if cfg != nil && cfg.APIVersion != "" {
		version = cfg.APIVersion
	}
	return &ShopifyClient{
		transport:  t,
		download:   &http.Client{},
		apiVersion: version,
		cursors:    make(map[string]map[int]string),
		lastPage:   make(map[string]int),
	}, nil
}

// Platform implements SourceClient
func (c *ShopifyClient) Platform() types.Platform {
	return types.PlatformShopify
}

func (c *ShopifyClient) adminURL(creds Credentials, resource string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", creds.BaseURL, c.apiVersion, resource)
}

func (c *ShopifyClient) get(ctx context.Context, creds Credentials, op, rawURL string) (*response, error) {
	return c.transport.do(ctx, creds.StoreKey(), op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Shopify-Access-Token", creds.AccessToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

type shopifyProductsResponse struct {
	Products []*ShopifyProduct `json:"products"`
}

// FetchPage implements SourceClient
func (c *ShopifyClient) FetchPage(ctx context.Context, creds Credentials, req PageRequest) (*Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limit := min(req.PageSize, 250)
	if req.PageNumber == 1 {
		c.forget(creds, limit)
	}

	cursor, err := c.cursorFor(ctx, creds, limit, req.PageNumber)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	if cursor == nil {
		// walked past the last page
		page.Items = []SourceRecord{}
	} else {
		products, next, err := c.fetchProducts(ctx, creds, limit, *cursor, "")
		if err != nil {
			return nil, err
		}
		c.rememberCursor(creds, limit, req.PageNumber, next)
		page.HasNext = next != ""
		page.Items = make([]SourceRecord, 0, len(products))
		for _, p := range products {
			page.Items = append(page.Items, p)
		}
	}

	if req.IncludeCount {
		total, err := c.countProducts(ctx, creds)
		if err != nil {
			return nil, err
		}
		page.ReportedTotal = &total
	}
	return page, nil
}

// fetchProducts fetches one page starting at cursor ("" for the first page)
// and returns the cursor of the following page ("" when none).
func (c *ShopifyClient) fetchProducts(ctx context.Context, creds Credentials, limit int, cursor, fields string) ([]*ShopifyProduct, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("page_info", cursor)
	} else {
		q.Set("status", "any")
		q.Set("order", "id asc")
	}
	if fields != "" {
		q.Set("fields", fields)
	}

	resp, err := c.get(ctx, creds, "FetchPage", c.adminURL(creds, "products.json")+"?"+q.Encode())
	if err != nil {
		return nil, "", err
	}

	var body shopifyProductsResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, "", apperrors.NewProviderError(string(types.PlatformShopify), fmt.Errorf("failed to parse products: %w", err))
	}
	return body.Products, nextPageInfo(resp.header.Get("Link")), nil
}

// cursorFor returns the cursor that starts page n, walking forward from
// the nearest known page when needed. A nil cursor means page n does not exist.
func (c *ShopifyClient) cursorFor(ctx context.Context, creds Credentials, limit, n int) (*string, error) {
	if n == 1 {
		empty := ""
		return &empty, nil
	}

	c.mu.Lock()
	key := cursorKey(creds, limit)
	if last, ok := c.lastPage[key]; ok && n > last {
		c.mu.Unlock()
		return nil, nil
	}
	known := c.cursors[key]
	start, cursor := 1, ""
	for p, cur := range known {
		if p <= n && p > start {
			start, cursor = p, cur
		}
	}
	c.mu.Unlock()

	if start == n {
		return &cursor, nil
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"from": start,
		"to":   n,
	}).Debug("Walking Shopify cursors to resume page")

	for p := start; p < n; p++ {
		_, next, err := c.fetchProducts(ctx, creds, limit, cursor, "id")
		if err != nil {
			return nil, err
		}
		c.rememberCursor(creds, limit, p, next)
		if next == "" {
			return nil, nil
		}
		cursor = next
	}
	return &cursor, nil
}

// rememberCursor records what fetching page taught us: the cursor of the
// following page, or that page is the last one.
func (c *ShopifyClient) rememberCursor(creds Credentials, limit, page int, next string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cursorKey(creds, limit)
	if next == "" {
		c.lastPage[key] = page
		return
	}
	delete(c.lastPage, key)
	if c.cursors[key] == nil {
		c.cursors[key] = make(map[int]string)
	}
	c.cursors[key][page+1] = next
}

// forget drops cached cursors so a fresh run sees catalog changes
func (c *ShopifyClient) forget(creds Credentials, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cursorKey(creds, limit)
	delete(c.cursors, key)
	delete(c.lastPage, key)
}

func cursorKey(creds Credentials, limit int) string {
	return fmt.Sprintf("%s|%d", creds.BaseURL, limit)
}

// nextPageInfo extracts page_info from the rel="next" entry of a Link header
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 || !strings.Contains(segs[1], `rel="next"`) {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segs[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		return u.Query().Get("page_info")
	}
	return ""
}

func (c *ShopifyClient) countProducts(ctx context.Context, creds Credentials) (int, error) {
	resp, err := c.get(ctx, creds, "CountProducts", c.adminURL(creds, "products/count.json"))
	if err != nil {
		return 0, err
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return 0, apperrors.NewProviderError(string(types.PlatformShopify), fmt.Errorf("failed to parse count: %w", err))
	}
	return body.Count, nil
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// graphql runs a query and decodes data into out. THROTTLED errors are
// retried after backing off like an HTTP 429.
func (c *ShopifyClient) graphql(ctx context.Context, creds Credentials, op, query string, vars map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"query": query, "variables": vars})
	if err != nil {
		return apperrors.NewInternalError("failed to marshal GraphQL request", err)
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.transport.do(ctx, creds.StoreKey(), op, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL(creds, "graphql.json"), bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("X-Shopify-Access-Token", creds.AccessToken)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			return req, nil
		})
		if err != nil {
			return err
		}

		var gql graphQLResponse
		if err := json.Unmarshal(resp.body, &gql); err != nil {
			return apperrors.NewProviderError(string(types.PlatformShopify), fmt.Errorf("failed to parse GraphQL response: %w", err))
		}

		if len(gql.Errors) > 0 {
			if isThrottled(gql.Errors) && attempt < maxThrottleRetries {
				if err := c.transport.controller.Throttled(ctx, 0); err != nil {
					return cancelled(ctx, err)
				}
				continue
			}
			msgs := make([]string, 0, len(gql.Errors))
			for _, e := range gql.Errors {
				msgs = append(msgs, e.Message)
			}
			if isThrottled(gql.Errors) {
				return apperrors.NewProviderRateLimitError(string(types.PlatformShopify), 0)
			}
			return apperrors.NewProviderError(string(types.PlatformShopify),
				fmt.Errorf("GraphQL errors: %s", strings.Join(msgs, "; ")))
		}

		if err := json.Unmarshal(gql.Data, out); err != nil {
			return apperrors.NewProviderError(string(types.PlatformShopify), fmt.Errorf("failed to parse GraphQL data: %w", err))
		}
		return nil
	}
}

func isThrottled(errs []graphQLError) bool {
	for _, e := range errs {
		if e.Extensions.Code == "THROTTLED" {
			return true
		}
	}
	return false
}

type shopifyBulkOperation struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ErrorCode   string     `json:"errorCode"`
	ObjectCount string     `json:"objectCount"` // UnsignedInt64 is serialized as a string
	URL         string     `json:"url"`
	CreatedAt   *time.Time `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

func (op *shopifyBulkOperation) toModel() *models.BulkOperation {
	m := &models.BulkOperation{
		ID:          op.ID,
		State:       bulkState(op.Status),
		ResultURL:   op.URL,
		ErrorCode:   op.ErrorCode,
		CreatedAt:   op.CreatedAt,
		CompletedAt: op.CompletedAt,
	}
	if op.ObjectCount != "" {
		if n, err := strconv.ParseInt(op.ObjectCount, 10, 64); err == nil {
			m.ObjectCount = &n
		}
	}
	return m
}

// bulkState maps Shopify's BulkOperationStatus onto the job state machine
func bulkState(status string) types.BulkState {
	switch strings.ToUpper(status) {
	case "CREATED":
		return types.BulkStateCreated
	case "RUNNING":
		return types.BulkStateRunning
	case "COMPLETED":
		return types.BulkStateCompleted
	case "CANCELED", "CANCELING", "CANCELLED":
		return types.BulkStateCancelled
	default: // FAILED, EXPIRED
		return types.BulkStateFailed
	}
}

// SubmitBulkExport implements BulkSource
func (c *ShopifyClient) SubmitBulkExport(ctx context.Context, creds Credentials) (*models.BulkOperation, error) {
	var data struct {
		BulkOperationRunQuery struct {
			BulkOperation *shopifyBulkOperation `json:"bulkOperation"`
			UserErrors    []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}

	err := c.graphql(ctx, creds, "SubmitBulkExport", shopifyBulkRunMutation,
		map[string]interface{}{"query": shopifyBulkQuery}, &data)
	if err != nil {
		return nil, err
	}

	run := data.BulkOperationRunQuery
	if len(run.UserErrors) > 0 {
		msgs := make([]string, 0, len(run.UserErrors))
		for _, e := range run.UserErrors {
			msgs = append(msgs, e.Message)
		}
		return nil, apperrors.NewInvalidParameterError("bulk_query", strings.Join(msgs, "; "))
	}
	if run.BulkOperation == nil || run.BulkOperation.ID == "" {
		return nil, apperrors.NewProviderError(string(types.PlatformShopify), fmt.Errorf("bulk operation missing from response"))
	}
	return run.BulkOperation.toModel(), nil
}

// CancelBulkOperation implements BulkSource. A job that already finished
// is reported by Shopify as a user error and returned as a validation error.
func (c *ShopifyClient) CancelBulkOperation(ctx context.Context, creds Credentials, id string) error {
	var data struct {
		BulkOperationCancel struct {
			UserErrors []struct {
				Message string `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationCancel"`
	}
	if err := c.graphql(ctx, creds, "CancelBulkOperation", shopifyBulkCancelMutation,
		map[string]interface{}{"id": id}, &data); err != nil {
		return err
	}
	if errs := data.BulkOperationCancel.UserErrors; len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Message)
		}
		return apperrors.NewInvalidParameterError("bulk_operation", strings.Join(msgs, "; "))
	}
	return nil
}

// GetBulkOperation implements BulkSource
func (c *ShopifyClient) GetBulkOperation(ctx context.Context, creds Credentials, id string) (*models.BulkOperation, error) {
	var data struct {
		Node *shopifyBulkOperation `json:"node"`
	}
	if err := c.graphql(ctx, creds, "GetBulkOperation", shopifyBulkStatusQuery,
		map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Node == nil {
		return nil, apperrors.NewNotFoundError("bulk operation", id)
	}
	return data.Node.toModel(), nil
}

// DownloadBulkResult implements BulkSource. The URL is pre-signed, so no
// credentials are sent and the per-call timeout does not apply; the caller
// bounds the download with its own deadline.
func (c *ShopifyClient) DownloadBulkResult(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("result_url", err.Error())
	}
	resp, err := c.download.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewProviderError(string(types.PlatformShopify), fmt.Errorf("failed to download bulk result: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, apperrors.NewProviderError(string(types.PlatformShopify),
			fmt.Errorf("bulk result download HTTP %d: %s", resp.StatusCode, body))
	}
	return resp.Body, nil
}

var (
	_ SourceClient = (*ShopifyClient)(nil)
	_ BulkSource   = (*ShopifyClient)(nil)
)
