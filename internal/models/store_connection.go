package models

import (
	"time"

	"github.com/catalog-sync/internal/types"
)

// StoreConnection holds a seller's connection to a source platform
type StoreConnection struct {
	AccountID      string           `json:"accountId" db:"account_id"`
	Platform       types.Platform   `json:"platform" db:"platform"`
	ShopDomain     string           `json:"shopDomain" db:"shop_domain"` // Shopify domain or WooCommerce base URL
	AccessToken    string           `json:"-" db:"access_token"`
	ConsumerKey    string           `json:"-" db:"consumer_key"`
	ConsumerSecret string           `json:"-" db:"consumer_secret"`
	WeightUnit     types.WeightUnit `json:"weightUnit,omitempty" db:"weight_unit"`
	Active         bool             `json:"active" db:"active"`
	AutoSync       bool             `json:"autoSync" db:"auto_sync"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time        `json:"updatedAt" db:"updated_at"`
}
