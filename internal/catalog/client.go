package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"orderdesk/internal"
	"orderdesk/internal/config"
)

// Client reads the upstream product feed page by page.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type scrollPayload struct {
	Products []feedProduct `json:"products"`
	ScrollID *string       `json:"scrollId"`
	Total    *int          `json:"total"`
}

type feedProduct struct {
	Code             string           `json:"code"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	Category         string           `json:"category"`
	Price            *decimal.Decimal `json:"price"`
	UnitsPerCarton   int              `json:"unitsPerCarton"`
	UnitsPerPacket   *int             `json:"unitsPerPacket"`
	PacketsPerCarton *int             `json:"packetsPerCarton"`
	Active           *bool            `json:"active"`
}

func NewClient(cfg config.Config) *Client {
	rps := cfg.CatalogRateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL:    cfg.CatalogAPIBaseURL,
		token:      cfg.CatalogAPIToken,
		httpClient: &http.Client{Timeout: time.Duration(cfg.CatalogTimeoutMs) * time.Millisecond},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Products pages through the whole feed. Entries without a code or name are skipped.
func (c *Client) Products(ctx context.Context, tenantID string) ([]internal.CatalogProduct, error) {
	all := make([]internal.CatalogProduct, 0)
	seen := map[string]struct{}{}
	var scrollID string

	for {
		query := map[string]string{}
		if scrollID != "" {
			query["scrollId"] = scrollID
		}

		body, err := c.fetchJSON(ctx, "products/scroll", query)
		if err != nil {
			return nil, err
		}

		var payload scrollPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode product page: %w", err)
		}

		for _, raw := range payload.Products {
			product, ok := raw.toProduct(tenantID)
			if !ok {
				continue
			}
			all = append(all, product)
		}

		if payload.ScrollID == nil || *payload.ScrollID == "" || len(payload.Products) == 0 {
			break
		}
		if _, ok := seen[*payload.ScrollID]; ok {
			break
		}
		seen[*payload.ScrollID] = struct{}{}
		scrollID = *payload.ScrollID
	}

	return all, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	if strings.TrimSpace(c.token) == "" {
		return nil, errors.New("missing CATALOG_API_TOKEN")
	}

	baseURL := strings.TrimRight(c.baseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), maxRetries), ctx)
	return backoff.RetryWithData(func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("catalog feed error: status=%d body=%s", resp.StatusCode, string(body))
			if isRetryableStatus(resp.StatusCode) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		var apiResp apiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, backoff.Permanent(err)
		}
		if !apiResp.Success {
			return nil, backoff.Permanent(fmt.Errorf("catalog feed unsuccessful: %s %s", apiResp.Message, string(apiResp.Errors)))
		}
		return apiResp.Data, nil
	}, policy)
}

const maxRetries = 4

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 4 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func (f feedProduct) toProduct(tenantID string) (internal.CatalogProduct, bool) {
	code := strings.TrimSpace(f.Code)
	name := strings.TrimSpace(f.Name)
	if code == "" || name == "" {
		return internal.CatalogProduct{}, false
	}
	p := internal.CatalogProduct{
		TenantID:         tenantID,
		Code:             code,
		Name:             name,
		Description:      strings.TrimSpace(f.Description),
		Category:         strings.TrimSpace(f.Category),
		UnitsPerCarton:   f.UnitsPerCarton,
		UnitsPerPacket:   f.UnitsPerPacket,
		PacketsPerCarton: f.PacketsPerCarton,
		IsActive:         f.Active == nil || *f.Active,
	}
	if f.Price != nil {
		p.Price = *f.Price
	}
	return p, true
}
