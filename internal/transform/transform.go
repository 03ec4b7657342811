// Package transform converts platform product records into canonical products.
package transform

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catalog-sync/internal/adapter"
	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

// Options carries the per-store context a record does not contain
type Options struct {
	AccountID string
	// WeightUnit applies to platforms whose products carry a bare number (WooCommerce)
	WeightUnit types.WeightUnit
	Now        func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// extracted is the platform-independent intermediate every extractor fills
type extracted struct {
	platform       types.Platform
	sourceID       string
	slug           string
	title          string
	vendor         string
	productType    string
	tags           []string
	description    string
	seoTitle       string
	seoDescription string
	status         string

	sku              string
	price            adapter.Numeric
	compareAtPrice   adapter.Numeric
	inventory        adapter.Numeric
	weight           adapter.Numeric
	weightUnit       string
	barcode          string
	requiresShipping bool
	taxable          bool

	imageURL      string
	imagePosition int

	createdAt *time.Time
	updatedAt *time.Time
}

// ToCanonical converts one source record
func ToCanonical(rec adapter.SourceRecord, opts Options) (*models.CanonicalProduct, error) {
	if opts.AccountID == "" {
		return nil, apperrors.NewInvalidParameterError("account_id", "is required")
	}

	var e *extracted
	switch r := rec.(type) {
	case *adapter.ShopifyProduct:
		e = fromShopify(r)
	case *adapter.ShopifyBulkProduct:
		e = fromShopifyBulk(r)
	case *adapter.WooProduct:
		e = fromWoo(r, opts.WeightUnit)
	case nil:
		return nil, apperrors.NewInvalidParameterError("record", "is nil")
	default:
		return nil, apperrors.NewInvalidParameterError("record", fmt.Sprintf("unsupported record type %T", rec))
	}

	return build(e, opts)
}

// Batch converts records, collecting the ones that fail instead of stopping
func Batch(recs []adapter.SourceRecord, opts Options) ([]*models.CanonicalProduct, []models.ItemError) {
	products := make([]*models.CanonicalProduct, 0, len(recs))
	var failed []models.ItemError
	for _, rec := range recs {
		p, err := ToCanonical(rec, opts)
		if err != nil {
			id := ""
			if rec != nil {
				id = rec.SourceID()
			}
			failed = append(failed, models.ItemError{Handle: id, Error: err.Error()})
			continue
		}
		products = append(products, p)
	}
	return products, failed
}

func build(e *extracted, opts Options) (*models.CanonicalProduct, error) {
	handle := Handle(e.platform, e.slug, e.sourceID)
	if handle == "" {
		return nil, apperrors.NewInvalidParameterError("handle", "record has neither slug nor id")
	}

	p := &models.CanonicalProduct{
		AccountID:      opts.AccountID,
		Platform:       e.platform,
		Handle:         handle,
		SourceID:       e.sourceID,
		Title:          strings.TrimSpace(e.title),
		Vendor:         strings.TrimSpace(e.vendor),
		ProductType:    strings.TrimSpace(e.productType),
		Tags:           cleanTags(e.tags),
		Description:    e.description,
		SEOTitle:       e.seoTitle,
		SEODescription: e.seoDescription,
		Status:         strings.ToLower(strings.TrimSpace(e.status)),
		Variant: models.ProductVariant{
			SKU:               strings.TrimSpace(e.sku),
			Price:             Decimal(e.price).Round(2),
			InventoryQuantity: Int(e.inventory),
			WeightGrams:       ToGrams(Decimal(e.weight), ParseWeightUnit(e.weightUnit)),
			Barcode:           strings.TrimSpace(e.barcode),
			RequiresShipping:  e.requiresShipping,
			Taxable:           e.taxable,
		},
		SyncStatus:      types.ProductSynced,
		SyncedAt:        opts.now(),
		SourceCreatedAt: e.createdAt,
		SourceUpdatedAt: e.updatedAt,
	}

	if cmp := Decimal(e.compareAtPrice); cmp.IsPositive() {
		cmp = cmp.Round(2)
		p.Variant.CompareAtPrice = &cmp
	}
	if e.imageURL != "" {
		p.Image = &models.ProductImage{URL: e.imageURL, Position: max(e.imagePosition, 1)}
	}
	return p, nil
}

func fromShopify(r *adapter.ShopifyProduct) *extracted {
	e := &extracted{
		platform:         types.PlatformShopify,
		sourceID:         r.SourceID(),
		slug:             r.Handle,
		title:            r.Title,
		vendor:           r.Vendor,
		productType:      r.ProductType,
		tags:             strings.Split(r.Tags, ","),
		description:      r.BodyHTML,
		status:           r.Status,
		requiresShipping: true,
		taxable:          true,
		createdAt:        r.CreatedAt,
		updatedAt:        r.UpdatedAt,
	}
	if r.ID == 0 {
		e.sourceID = ""
	}

	if len(r.Variants) > 0 {
		v := r.Variants[0]
		e.sku = v.SKU
		e.price = v.Price
		e.compareAtPrice = v.CompareAtPrice
		e.inventory = v.InventoryQuantity
		e.barcode = v.Barcode
		e.weight, e.weightUnit = v.Weight, v.WeightUnit
		if e.weight == "" {
			e.weight, e.weightUnit = v.Grams, string(types.WeightUnitGrams)
		}
		if v.RequiresShipping != nil {
			e.requiresShipping = *v.RequiresShipping
		}
		if v.Taxable != nil {
			e.taxable = *v.Taxable
		}
	}

	img := r.Image
	if img == nil && len(r.Images) > 0 {
		images := append([]adapter.ShopifyImage(nil), r.Images...)
		sort.SliceStable(images, func(i, j int) bool { return images[i].Position < images[j].Position })
		img = &images[0]
	}
	if img != nil {
		e.imageURL, e.imagePosition = img.Src, img.Position
	}
	return e
}

func fromShopifyBulk(r *adapter.ShopifyBulkProduct) *extracted {
	e := &extracted{
		platform:         types.PlatformShopify,
		sourceID:         r.SourceID(),
		slug:             r.Handle,
		title:            r.Title,
		vendor:           r.Vendor,
		productType:      r.ProductType,
		tags:             r.Tags,
		description:      r.DescriptionHTML,
		seoTitle:         r.SEO.Title,
		seoDescription:   r.SEO.Description,
		status:           r.Status,
		requiresShipping: true,
		taxable:          true,
		createdAt:        r.CreatedAt,
		updatedAt:        r.UpdatedAt,
	}

	if len(r.Variants) > 0 {
		v := r.Variants[0]
		e.sku = v.SKU
		e.price = v.Price
		e.compareAtPrice = v.CompareAtPrice
		e.inventory = v.InventoryQuantity
		e.barcode = v.Barcode
		if v.Taxable != nil {
			e.taxable = *v.Taxable
		}
		if v.InventoryItem.RequiresShipping != nil {
			e.requiresShipping = *v.InventoryItem.RequiresShipping
		}
		if w := v.InventoryItem.Measurement.Weight; w != nil {
			e.weight, e.weightUnit = w.Value, w.Unit
		}
	}

	for i, img := range r.Images {
		if url := img.ImageURL(); url != "" {
			e.imageURL, e.imagePosition = url, i+1
			break
		}
	}
	return e
}

func fromWoo(r *adapter.WooProduct, unit types.WeightUnit) *extracted {
	e := &extracted{
		platform:         types.PlatformWooCommerce,
		sourceID:         r.SourceID(),
		slug:             r.Slug,
		title:            r.Name,
		description:      r.Description,
		seoTitle:         r.MetaString("_yoast_wpseo_title"),
		seoDescription:   r.MetaString("_yoast_wpseo_metadesc"),
		status:           r.Status,
		sku:              r.SKU,
		price:            r.Price,
		inventory:        r.StockQuantity,
		weight:           r.Weight,
		weightUnit:       string(unit),
		requiresShipping: !r.Virtual,
		taxable:          r.TaxStatus == "" || r.TaxStatus == "taxable",
		createdAt:        r.DateCreatedGMT.Ptr(),
		updatedAt:        r.DateModifiedGMT.Ptr(),
	}
	if r.ID == 0 {
		e.sourceID = ""
	}
	if e.description == "" {
		e.description = r.ShortDescription
	}
	if e.price == "" {
		e.price = r.RegularPrice
	}
	if r.SalePrice != "" && Decimal(r.RegularPrice).GreaterThan(Decimal(e.price)) {
		e.compareAtPrice = r.RegularPrice
	}
	if len(r.Categories) > 0 {
		e.productType = r.Categories[0].Name
	}
	for _, a := range r.Attributes {
		if strings.EqualFold(a.Name, "brand") && len(a.Options) > 0 {
			e.vendor = a.Options[0]
			break
		}
	}
	for _, t := range r.Tags {
		e.tags = append(e.tags, t.Name)
	}
	if len(r.Images) > 0 {
		// WooCommerce positions start at 0
		e.imageURL, e.imagePosition = r.Images[0].Src, r.Images[0].Position+1
	}
	return e
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Decimal parses a platform number; missing or malformed values are zero
func Decimal(n adapter.Numeric) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(string(n)))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Int parses a platform quantity, truncating fractions; missing values are zero
func Int(n adapter.Numeric) int {
	return int(Decimal(n).IntPart())
}
