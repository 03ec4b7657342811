package adapter

import (
	"net/url"
	"strings"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

const shopifyDomainSuffix = ".myshopify.com"

// Credentials are normalized store credentials attached to every source call
type Credentials struct {
	AccountID      string
	Platform       types.Platform
	BaseURL        string // scheme://host[/path], no trailing slash
	AccessToken    string
	ConsumerKey    string
	ConsumerSecret string
	WeightUnit     types.WeightUnit
}

// StoreKey identifies the remote store for shared request budgets
func (c Credentials) StoreKey() string {
	host := c.BaseURL
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return string(c.Platform) + ":" + host
}

// NormalizeCredentials turns a stored connection into request-ready
// credentials. Shopify shop names gain the .myshopify.com suffix and every
// base URL gets a scheme (https unless one is given).
func NormalizeCredentials(conn *models.StoreConnection) (Credentials, error) {
	if conn == nil {
		return Credentials{}, apperrors.NewInvalidParameterError("connection", "is required")
	}
	if !conn.Active {
		return Credentials{}, apperrors.NewConnectionInactiveError(conn.AccountID, conn.Platform)
	}

	creds := Credentials{
		AccountID:      conn.AccountID,
		Platform:       conn.Platform,
		AccessToken:    strings.TrimSpace(conn.AccessToken),
		ConsumerKey:    strings.TrimSpace(conn.ConsumerKey),
		ConsumerSecret: strings.TrimSpace(conn.ConsumerSecret),
		WeightUnit:     conn.WeightUnit,
	}

	base, err := normalizeBaseURL(conn.ShopDomain, conn.Platform)
	if err != nil {
		return Credentials{}, err
	}
	creds.BaseURL = base

	switch conn.Platform {
	case types.PlatformShopify:
		if creds.AccessToken == "" {
			return Credentials{}, apperrors.NewCredentialError(conn.Platform, "missing access token", nil)
		}
	case types.PlatformWooCommerce:
		if creds.ConsumerKey == "" || creds.ConsumerSecret == "" {
			return Credentials{}, apperrors.NewCredentialError(conn.Platform, "missing consumer key or secret", nil)
		}
		if creds.WeightUnit == "" {
			creds.WeightUnit = types.WeightUnitKilograms
		}
	default:
		return Credentials{}, apperrors.NewUnsupportedPlatformError(conn.Platform, "catalog sync")
	}

	return creds, nil
}

func normalizeBaseURL(domain string, platform types.Platform) (string, error) {
	d := strings.TrimSpace(domain)
	if d == "" {
		return "", apperrors.NewCredentialError(platform, "missing store domain", nil)
	}

	scheme := "https"
	if i := strings.Index(d, "://"); i >= 0 {
		scheme = strings.ToLower(d[:i])
		d = d[i+3:]
	}
	d = strings.TrimRight(d, "/")

	host, path, _ := strings.Cut(d, "/")
	host = strings.ToLower(host)
	if platform == types.PlatformShopify {
		// Shopify API paths are fixed; anything after the host is dropped
		path = ""
		if !strings.Contains(host, ".") && !strings.Contains(host, ":") {
			host += shopifyDomainSuffix
		}
	}

	u := &url.URL{Scheme: scheme, Host: host}
	if path != "" {
		u.Path = "/" + path
	}
	if _, err := url.Parse(u.String()); err != nil || host == "" {
		return "", apperrors.NewCredentialError(platform, "invalid store domain", err)
	}
	return u.String(), nil
}
