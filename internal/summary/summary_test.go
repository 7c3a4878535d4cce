package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/model"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutKeyIsDisabled(t *testing.T) {
	s := New(config.SummaryConfig{Enabled: true, BaseURL: "http://llm"})
	_, err := s.Summarize(context.Background(), model.CompanyRecord{Name: "x"})
	require.ErrorIs(t, err, ErrUnavailable)

	s = New(config.SummaryConfig{Enabled: false, BaseURL: "http://llm", APIKey: "k"})
	assert.IsType(t, Disabled{}, s)
}

func TestClientSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Equal(t, 300, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "ООО Ромашка")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" <b>Ромашка</b> действует. "}}]}`))
	}))
	defer srv.Close()

	s := New(config.SummaryConfig{Enabled: true, BaseURL: srv.URL + "/v1", APIKey: "secret", Model: "gpt-test"})
	got, err := s.Summarize(context.Background(), model.CompanyRecord{Name: "ООО Ромашка"})
	require.NoError(t, err)
	assert.Equal(t, "<b>Ромашка</b> действует.", got)
}

func TestClientFailuresAreUnavailable(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"empty":  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"choices":[]}`)) },
		"junk":   func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`<html>`)) },
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			s := New(config.SummaryConfig{Enabled: true, BaseURL: srv.URL, APIKey: "k"})
			_, err := s.Summarize(context.Background(), model.CompanyRecord{Name: "x"})
			require.ErrorIs(t, err, ErrUnavailable)
		})
	}
}
