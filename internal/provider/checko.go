package provider

import (
	"context"
	"net/http"
	"net/url"
)

// Checko queries api.checko.ru v2. Organizations and sole proprietors live on
// different paths, chosen by tax id length.
type Checko struct {
	endpoint
}

func NewChecko(o Options) *Checko {
	if o.Name == "" {
		o.Name = "checko"
	}
	if o.BaseURL == "" {
		o.BaseURL = "https://api.checko.ru"
	}
	return &Checko{endpoint: newEndpoint(o)}
}

func checkoPath(inn string) string {
	if len(inn) == 12 {
		return "/v2/entrepreneur"
	}
	return "/v2/company"
}

func (c *Checko) Lookup(ctx context.Context, inn string) Result {
	return c.call(ctx, func(ctx context.Context) (*http.Request, error) {
		q := url.Values{}
		q.Set("key", c.apiKey)
		q.Set("inn", inn)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+checkoPath(inn)+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}
