// Package renderapi talks to the external rendering service that returns
// server-rendered HTML with JavaScript executed. It is the preferred fetch
// path for marketplaces with heavy anti-bot defenses; callers fall back to
// direct browser navigation when it fails.
package renderapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 45 * time.Second,
		},
	}
}

type renderResp struct {
	Status string `json:"status"`
	HTML   string `json:"html"`
	Error  string `json:"error"`
}

// Render fetches server-rendered markup for the URL, with JS execution and
// the given country/locale applied by the service.
func (c *Client) Render(ctx context.Context, target, country string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/render"

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("url", target)
	q.Set("render_js", "true")
	if country != "" {
		q.Set("country", country)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("render api http %d", resp.StatusCode)
	}

	var r renderResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return "", fmt.Errorf("render api status=%s error=%s", r.Status, r.Error)
	}
	if r.HTML == "" {
		return "", errors.New("render api returned empty html")
	}
	return r.HTML, nil
}
