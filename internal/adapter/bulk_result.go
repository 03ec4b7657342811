package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/types"
)

// BulkParseStats counts what a bulk result file contained
type BulkParseStats struct {
	Lines     int `json:"lines"`
	Products  int `json:"products"`
	Variants  int `json:"variants"`
	Images    int `json:"images"`
	Malformed int `json:"malformed"`
	Skipped   int `json:"skipped"` // unexpected kinds and orphaned children
}

type bulkLineHeader struct {
	ID       string `json:"id"`
	TypeName string `json:"__typename"`
	ParentID string `json:"__parentId"`
}

// lineKind discriminates a line by __typename, falling back to the gid type
func (h bulkLineHeader) lineKind() types.RecordKind {
	if h.TypeName != "" {
		return types.RecordKind(h.TypeName)
	}
	return gidKind(h.ID)
}

// ParseBulkResult reads a bulk export JSONL file. Each Product line starts a
// product; ProductVariant and ProductImage lines attach to their parent via
// __parentId. Malformed lines are logged and skipped. Products are returned
// in file order.
func ParseBulkResult(ctx context.Context, r io.Reader) ([]*ShopifyBulkProduct, BulkParseStats, error) {
	logger := logging.FromContext(ctx)
	reader := bufio.NewReaderSize(r, 64*1024)

	var stats BulkParseStats
	var products []*ShopifyBulkProduct
	byID := make(map[string]*ShopifyBulkProduct)

	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return products, stats, fmt.Errorf("failed to read bulk result: %w", readErr)
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			stats.Lines++
			if stats.Lines%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return products, stats, err
				}
			}
			if err := parseBulkLine(line, byID, &products, &stats); err != nil {
				stats.Malformed++
				logger.WithError(err).WithField("line", stats.Lines).Warn("Skipping malformed bulk result line")
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	return products, stats, nil
}

func parseBulkLine(line []byte, byID map[string]*ShopifyBulkProduct, products *[]*ShopifyBulkProduct, stats *BulkParseStats) error {
	var head bulkLineHeader
	if err := json.Unmarshal(line, &head); err != nil {
		return err
	}

	switch head.lineKind() {
	case types.RecordKindProduct:
		var p ShopifyBulkProduct
		if err := json.Unmarshal(line, &p); err != nil {
			return err
		}
		if p.ID == "" {
			return fmt.Errorf("product line without id")
		}
		stats.Products++
		*products = append(*products, &p)
		byID[p.ID] = &p

	case types.RecordKindVariant:
		var v ShopifyBulkVariant
		if err := json.Unmarshal(line, &v); err != nil {
			return err
		}
		parent, ok := byID[v.ParentID]
		if !ok {
			stats.Skipped++
			return nil
		}
		stats.Variants++
		parent.Variants = append(parent.Variants, v)

	case types.RecordKindImage, types.RecordKindMedia:
		var img ShopifyBulkImage
		if err := json.Unmarshal(line, &img); err != nil {
			return err
		}
		parent, ok := byID[img.ParentID]
		if !ok {
			stats.Skipped++
			return nil
		}
		stats.Images++
		parent.Images = append(parent.Images, img)

	default:
		stats.Skipped++
	}
	return nil
}
