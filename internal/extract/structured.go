package extract

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/SnapPrice/PriceBox/internal/browser"
	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/pkg/errors"
)

// StructuredDataStrategy extracts a product from machine-readable page data
// (JSON-LD product blocks, then OpenGraph/meta tags as a fallback). The
// marketplace-specific part is reduced to host patterns and an id pattern,
// which keeps CSS selectors out of this core.
type StructuredDataStrategy struct {
	marketplace string
	hosts       []string
	idPattern   *regexp.Regexp
}

func NewStructuredDataStrategy(marketplace string, hosts []string, idPattern string) (*StructuredDataStrategy, error) {
	re, err := regexp.Compile(idPattern)
	if err != nil {
		return nil, errors.Wrap(err, "compile id pattern")
	}
	return &StructuredDataStrategy{marketplace: marketplace, hosts: hosts, idPattern: re}, nil
}

func (s *StructuredDataStrategy) Marketplace() string { return s.marketplace }

func (s *StructuredDataStrategy) Matches(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range s.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (s *StructuredDataStrategy) ResolveID(raw string) (string, bool) {
	if !s.Matches(raw) {
		return "", false
	}
	m := s.idPattern.FindStringSubmatch(raw)
	if len(m) == 0 || m[len(m)-1] == "" {
		return "", false
	}
	// With a capture group the group is the id, otherwise the whole match.
	return m[len(m)-1], true
}

func (s *StructuredDataStrategy) Extract(ctx context.Context, page browser.Page, _ string) (*models.ProductSnapshot, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}

	if snap := snapshotFromJSONLD(doc); snap != nil {
		return snap, nil
	}
	if snap := snapshotFromMeta(doc); snap != nil {
		return snap, nil
	}
	return nil, errors.New("no product data found in page")
}

// ldProduct mirrors the subset of a schema.org Product block we consume.
// Offers may be a single object or an array; both appear in the wild.
type ldProduct struct {
	Type   string          `json:"@type"`
	Name   string          `json:"name"`
	Image  any             `json:"image"`
	Brand  any             `json:"brand"`
	Offers json.RawMessage `json:"offers"`
}

type ldOffer struct {
	Price         any    `json:"price"`
	PriceCurrency string `json:"priceCurrency"`
	Availability  string `json:"availability"`
	Seller        struct {
		Name string `json:"name"`
	} `json:"seller"`
}

func snapshotFromJSONLD(doc *goquery.Document) *models.ProductSnapshot {
	var snap *models.ProductSnapshot
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var p ldProduct
		if json.Unmarshal([]byte(sel.Text()), &p) != nil {
			return true
		}
		if !strings.EqualFold(p.Type, "Product") || len(p.Offers) == 0 {
			return true
		}

		offer, ok := firstOffer(p.Offers)
		if !ok {
			return true
		}
		price, ok := asPrice(offer.Price)
		if !ok {
			return true
		}

		snap = &models.ProductSnapshot{
			Title:        p.Name,
			Price:        price,
			Currency:     offer.PriceCurrency,
			Availability: normalizeAvailability(offer.Availability),
		}
		if img := asString(p.Image); img != "" {
			snap.ImageURL = &img
		}
		if b := brandName(p.Brand); b != "" {
			snap.Brand = &b
		}
		if offer.Seller.Name != "" {
			seller := offer.Seller.Name
			snap.SellerName = &seller
		}
		return false
	})
	return snap
}

func snapshotFromMeta(doc *goquery.Document) *models.ProductSnapshot {
	meta := func(prop string) string {
		v, _ := doc.Find(`meta[property="` + prop + `"]`).Attr("content")
		return strings.TrimSpace(v)
	}

	priceStr := meta("product:price:amount")
	if priceStr == "" {
		priceStr = meta("og:price:amount")
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return nil
	}

	title := meta("og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	currency := meta("product:price:currency")
	if currency == "" {
		currency = meta("og:price:currency")
	}

	snap := &models.ProductSnapshot{
		Title:        title,
		Price:        price,
		Currency:     currency,
		Availability: normalizeAvailability(meta("product:availability")),
	}
	if img := meta("og:image"); img != "" {
		snap.ImageURL = &img
	}
	return snap
}

func firstOffer(raw json.RawMessage) (ldOffer, bool) {
	var one ldOffer
	if json.Unmarshal(raw, &one) == nil && one.Price != nil {
		return one, true
	}
	var many []ldOffer
	if json.Unmarshal(raw, &many) == nil && len(many) > 0 {
		return many[0], true
	}
	return ldOffer{}, false
}

func asPrice(v any) (float64, bool) {
	switch p := v.(type) {
	case float64:
		return p, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(p, ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		if len(s) > 0 {
			if str, ok := s[0].(string); ok {
				return str
			}
		}
	}
	return ""
}

func brandName(v any) string {
	switch b := v.(type) {
	case string:
		return b
	case map[string]any:
		if n, ok := b["name"].(string); ok {
			return n
		}
	}
	return ""
}

func normalizeAvailability(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "instock") || strings.Contains(lower, "in_stock") || strings.Contains(lower, "in stock"):
		return models.AvailabilityInStock
	case strings.Contains(lower, "outofstock") || strings.Contains(lower, "out_of_stock") || strings.Contains(lower, "out of stock") || strings.Contains(lower, "soldout"):
		return models.AvailabilityOutOfStock
	default:
		return models.AvailabilityUnknown
	}
}
