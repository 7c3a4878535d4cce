package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(n int) RetryPolicy {
	return RetryPolicy{MaxAttempts: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDaDataLookupSendsTokenAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, dadataPartyPath, r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "7707083893", body["query"])

		_, _ = io.WriteString(w, `{"suggestions":[{"value":"ПАО СБЕРБАНК"}]}`)
	}))
	defer srv.Close()

	p := NewDaData(Options{BaseURL: srv.URL, APIKey: "secret", Retry: fastRetry(1)})
	res := p.Lookup(context.Background(), "7707083893")

	require.Equal(t, KindSuccess, res.Kind, res.String())
	assert.Equal(t, "dadata", res.Provider)
	assert.JSONEq(t, `{"suggestions":[{"value":"ПАО СБЕРБАНК"}]}`, string(res.Payload))
}

func TestCheckoPathByTaxIDLength(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		_, _ = io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()

	p := NewChecko(Options{BaseURL: srv.URL, APIKey: "k", Retry: fastRetry(1)})
	p.Lookup(context.Background(), "7707083893")
	p.Lookup(context.Background(), "500100732259")

	assert.Equal(t, []string{"/v2/company", "/v2/entrepreneur"}, paths)
}

func TestLookupWithoutKeyIsNotConfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewDaData(Options{BaseURL: srv.URL})
	res := p.Lookup(context.Background(), "7707083893")

	assert.Equal(t, KindNotConfigured, res.Kind)
	assert.NotEmpty(t, res.Reason)
	assert.True(t, p.Ready())
	assert.Zero(t, hits.Load())
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"name":"ok"}`)
	}))
	defer srv.Close()

	p := NewChecko(Options{BaseURL: srv.URL, APIKey: "k", Retry: fastRetry(3)})
	res := p.Lookup(context.Background(), "7707083893")

	assert.Equal(t, KindSuccess, res.Kind, res.String())
	assert.EqualValues(t, 3, hits.Load())
}

func TestLookupGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer srv.Close()

	p := NewChecko(Options{BaseURL: srv.URL, APIKey: "k", Retry: fastRetry(2)})
	res := p.Lookup(context.Background(), "7707083893")

	assert.Equal(t, KindUpstreamError, res.Kind)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "boom", res.Body)
	assert.EqualValues(t, 2, hits.Load())
}

func TestLookupDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewDaData(Options{BaseURL: srv.URL, APIKey: "bad", Retry: fastRetry(5)})
	res := p.Lookup(context.Background(), "7707083893")

	assert.Equal(t, KindUpstreamError, res.Kind)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.EqualValues(t, 1, hits.Load())
}

func TestLookupNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewDaData(Options{BaseURL: url, APIKey: "k", Retry: fastRetry(2)})
	res := p.Lookup(context.Background(), "7707083893")

	assert.Equal(t, KindNetworkError, res.Kind)
	assert.Error(t, res.Err)
}

func TestLookupTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewDaData(Options{BaseURL: srv.URL, APIKey: "k", Timeout: 20 * time.Millisecond, Retry: fastRetry(1)})
	res := p.Lookup(context.Background(), "7707083893")

	assert.Equal(t, KindNetworkError, res.Kind)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewDaData(Options{BaseURL: srv.URL, APIKey: "k", FailThreshold: 2, OpenFor: time.Hour, Retry: fastRetry(1)})
	p.Lookup(context.Background(), "7707083893")
	p.Lookup(context.Background(), "7707083893")

	assert.False(t, p.Ready())
	res := p.Lookup(context.Background(), "7707083893")
	assert.Equal(t, KindNetworkError, res.Kind)
	assert.True(t, errors.Is(res.Err, ErrBreakerOpen))
	assert.EqualValues(t, 2, hits.Load())
}

func TestUpstreamErrorBodyKeepsRunesWhole(t *testing.T) {
	// "ИНН " is seven bytes, so 512 falls inside a two-byte rune
	body := []byte(strings.Repeat("ИНН ", 100))

	r := UpstreamError("dadata", http.StatusBadGateway, body)
	assert.True(t, utf8.ValidString(r.Body))
	assert.LessOrEqual(t, len(r.Body), 512)
	assert.True(t, strings.HasPrefix(string(body), r.Body))
	assert.Equal(t, 511, len(r.Body))

	short := UpstreamError("dadata", http.StatusBadGateway, []byte("нет"))
	assert.Equal(t, "нет", short.Body)
}
