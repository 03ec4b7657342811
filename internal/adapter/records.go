package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/catalog-sync/internal/types"
)

// SourceRecord is one product as the platform returned it. The set of
// implementations is closed: ShopifyProduct, ShopifyBulkProduct and WooProduct.
type SourceRecord interface {
	Platform() types.Platform
	SourceID() string
	sourceRecord()
}

// Numeric holds a JSON number that platforms send either as a number or a
// string ("19.99"). Null and "" decode to the empty value.
type Numeric string

// UnmarshalJSON implements json.Unmarshaler
func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Numeric(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("invalid numeric value %s: %w", data, err)
	}
	*n = Numeric(num)
	return nil
}

// String returns the raw value
func (n Numeric) String() string {
	return string(n)
}

// Shopify REST shapes (Admin API products.json)

// ShopifyProduct is a product from the Shopify REST products endpoint
type ShopifyProduct struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html"`
	Vendor      string           `json:"vendor"`
	ProductType string           `json:"product_type"`
	Handle      string           `json:"handle"`
	Status      string           `json:"status"`
	Tags        string           `json:"tags"` // comma separated
	CreatedAt   *time.Time       `json:"created_at"`
	UpdatedAt   *time.Time       `json:"updated_at"`
	Variants    []ShopifyVariant `json:"variants"`
	Images      []ShopifyImage   `json:"images"`
	Image       *ShopifyImage    `json:"image"`
}

// ShopifyVariant is a variant of a REST product
type ShopifyVariant struct {
	ID                int64   `json:"id"`
	SKU               string  `json:"sku"`
	Price             Numeric `json:"price"`
	CompareAtPrice    Numeric `json:"compare_at_price"`
	InventoryQuantity Numeric `json:"inventory_quantity"`
	Weight            Numeric `json:"weight"`
	WeightUnit        string  `json:"weight_unit"`
	Grams             Numeric `json:"grams"`
	Barcode           string  `json:"barcode"`
	RequiresShipping  *bool   `json:"requires_shipping"`
	Taxable           *bool   `json:"taxable"`
}

// ShopifyImage is a product image
type ShopifyImage struct {
	ID       int64  `json:"id"`
	Src      string `json:"src"`
	Position int    `json:"position"`
}

func (p *ShopifyProduct) Platform() types.Platform { return types.PlatformShopify }
func (p *ShopifyProduct) SourceID() string         { return fmt.Sprintf("%d", p.ID) }
func (p *ShopifyProduct) sourceRecord()            {}

// Shopify bulk export shapes (GraphQL nodes flattened to JSONL)

// ShopifyBulkProduct is a Product line of a bulk result with its child
// lines attached.
type ShopifyBulkProduct struct {
	ID              string     `json:"id"` // gid://shopify/Product/<n>
	Handle          string     `json:"handle"`
	Title           string     `json:"title"`
	Vendor          string     `json:"vendor"`
	ProductType     string     `json:"productType"`
	Tags            []string   `json:"tags"`
	DescriptionHTML string     `json:"descriptionHtml"`
	Status          string     `json:"status"` // ACTIVE, DRAFT, ARCHIVED
	SEO             ShopifySEO `json:"seo"`
	CreatedAt       *time.Time `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt"`

	Variants []ShopifyBulkVariant `json:"-"`
	Images   []ShopifyBulkImage   `json:"-"`
}

// ShopifySEO holds search engine overrides
type ShopifySEO struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ShopifyBulkVariant is a ProductVariant line
type ShopifyBulkVariant struct {
	ID                string               `json:"id"`
	SKU               string               `json:"sku"`
	Price             Numeric              `json:"price"`
	CompareAtPrice    Numeric              `json:"compareAtPrice"`
	InventoryQuantity Numeric              `json:"inventoryQuantity"`
	Barcode           string               `json:"barcode"`
	Taxable           *bool                `json:"taxable"`
	InventoryItem     ShopifyInventoryItem `json:"inventoryItem"`
	ParentID          string               `json:"__parentId"`
}

// ShopifyInventoryItem carries shipping and weight data of a variant
type ShopifyInventoryItem struct {
	RequiresShipping *bool `json:"requiresShipping"`
	Measurement      struct {
		Weight *ShopifyWeight `json:"weight"`
	} `json:"measurement"`
}

// ShopifyWeight is a GraphQL Weight value
type ShopifyWeight struct {
	Value Numeric `json:"value"`
	Unit  string  `json:"unit"` // GRAMS, KILOGRAMS, OUNCES, POUNDS
}

// ShopifyBulkImage is a ProductImage or MediaImage line
type ShopifyBulkImage struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	ParentID string `json:"__parentId"`
	Image    *struct {
		URL string `json:"url"`
	} `json:"image"` // MediaImage nests the file
}

// ImageURL returns the URL for either image shape
func (i ShopifyBulkImage) ImageURL() string {
	if i.URL != "" {
		return i.URL
	}
	if i.Image != nil {
		return i.Image.URL
	}
	return ""
}

func (p *ShopifyBulkProduct) Platform() types.Platform { return types.PlatformShopify }
func (p *ShopifyBulkProduct) SourceID() string         { return gidNumber(p.ID) }
func (p *ShopifyBulkProduct) sourceRecord()            {}

// WooCommerce shapes (wc/v3)

// WooProduct is a product from the WooCommerce REST API
type WooProduct struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Slug             string      `json:"slug"`
	Status           string      `json:"status"` // publish, draft, pending, private
	Description      string      `json:"description"`
	ShortDescription string      `json:"short_description"`
	SKU              string      `json:"sku"`
	Price            Numeric     `json:"price"`
	RegularPrice     Numeric     `json:"regular_price"`
	SalePrice        Numeric     `json:"sale_price"`
	StockQuantity    Numeric     `json:"stock_quantity"`
	Weight           Numeric     `json:"weight"`
	Virtual          bool        `json:"virtual"`
	TaxStatus        string      `json:"tax_status"` // taxable, shipping, none
	Categories       []WooTerm   `json:"categories"`
	Tags             []WooTerm   `json:"tags"`
	Images           []WooImage  `json:"images"`
	DateCreatedGMT   WooTime     `json:"date_created_gmt"`
	DateModifiedGMT  WooTime     `json:"date_modified_gmt"`
	MetaData         []WooMeta   `json:"meta_data"`
	Attributes       []WooAttrib `json:"attributes"`
}

// WooTerm is a category or tag reference
type WooTerm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// WooImage is a product image
type WooImage struct {
	ID       int64  `json:"id"`
	Src      string `json:"src"`
	Position int    `json:"position"`
}

// WooMeta is a product meta entry; SEO plugins store titles here
type WooMeta struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// WooAttrib is a product attribute; brand plugins store the vendor here
type WooAttrib struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// WooTime parses WooCommerce's zone-less timestamps as UTC
type WooTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (t *WooTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid WooCommerce timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// Ptr returns nil for the zero time
func (t WooTime) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	tt := t.Time
	return &tt
}

// MetaString returns a string meta value
func (p *WooProduct) MetaString(key string) string {
	for _, m := range p.MetaData {
		if m.Key == key {
			var s string
			if json.Unmarshal(m.Value, &s) == nil {
				return s
			}
		}
	}
	return ""
}

func (p *WooProduct) Platform() types.Platform { return types.PlatformWooCommerce }
func (p *WooProduct) SourceID() string         { return fmt.Sprintf("%d", p.ID) }
func (p *WooProduct) sourceRecord()            {}

// gidNumber returns the trailing id of a Shopify global id
func gidNumber(gid string) string {
	if i := strings.LastIndexByte(gid, '/'); i >= 0 {
		return gid[i+1:]
	}
	return gid
}

// gidKind returns the resource type of a Shopify global id
// (gid://shopify/ProductVariant/1 -> ProductVariant)
func gidKind(gid string) types.RecordKind {
	rest, ok := strings.CutPrefix(gid, "gid://shopify/")
	if !ok {
		return types.RecordKindUnrecognized
	}
	kind, _, _ := strings.Cut(rest, "/")
	return types.RecordKind(kind)
}
