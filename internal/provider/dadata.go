package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

const dadataPartyPath = "/suggestions/api/4_1/rs/findById/party"

// DaData queries the findById/party suggestions endpoint. The call is a POST
// but read-only, so it is retried like a GET.
type DaData struct {
	endpoint
}

func NewDaData(o Options) *DaData {
	if o.Name == "" {
		o.Name = "dadata"
	}
	if o.BaseURL == "" {
		o.BaseURL = "https://suggestions.dadata.ru"
	}
	return &DaData{endpoint: newEndpoint(o)}
}

func (d *DaData) Lookup(ctx context.Context, inn string) Result {
	return d.call(ctx, func(ctx context.Context) (*http.Request, error) {
		body, err := json.Marshal(map[string]any{"query": inn, "count": 1})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+dadataPartyPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Token "+d.apiKey)
		return req, nil
	})
}
