package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/service/queue"
	"github.com/jmehdipour/innbot/internal/worker"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIntake struct {
	mu  sync.Mutex
	got []tgbotapi.Update
	err error
}

func (f *fakeIntake) Enqueue(_ context.Context, upd tgbotapi.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, upd)
	return f.err
}

const updateJSON = `{"update_id":42,"message":{"message_id":7,"date":1700000000,"chat":{"id":1001,"type":"private"},"from":{"id":1001,"is_bot":false,"first_name":"Иван"},"text":"7707083893"}}`

func postWebhook(t *testing.T, h echo.HandlerFunc, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestWebhookAcceptsUpdate(t *testing.T) {
	in := &fakeIntake{}
	rec := postWebhook(t, webhookHandler("s3cret", in, zap.NewNop()), updateJSON, "s3cret")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, in.got, 1)
	assert.Equal(t, 42, in.got[0].UpdateID)
	assert.Equal(t, "7707083893", in.got[0].Message.Text)
}

func TestWebhookSecretMismatchStillOK(t *testing.T) {
	in := &fakeIntake{}
	h := webhookHandler("s3cret", in, zap.NewNop())

	for _, secret := range []string{"", "wrong"} {
		rec := postWebhook(t, h, updateJSON, secret)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, in.got)
}

func TestWebhookWithoutSecretConfigured(t *testing.T) {
	in := &fakeIntake{}
	rec := postWebhook(t, webhookHandler("", in, zap.NewNop()), updateJSON, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, in.got, 1)
}

func TestWebhookBadBodyStillOK(t *testing.T) {
	in := &fakeIntake{}
	rec := postWebhook(t, webhookHandler("", in, zap.NewNop()), `{"update_id":`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, in.got)
}

func TestWebhookEnqueueErrorsStillOK(t *testing.T) {
	for _, err := range []error{queue.ErrDuplicate, assert.AnError} {
		in := &fakeIntake{err: err}
		rec := postWebhook(t, webhookHandler("", in, zap.NewNop()), updateJSON, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, in.got, 1)
	}
}

func TestExtendPro(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(10 * 24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	free := model.User{Plan: model.PlanFree}
	assert.Equal(t, now.Add(30*24*time.Hour), extendPro(free, 30, now))

	active := model.User{Plan: model.PlanPro, ProUntil: &later}
	assert.Equal(t, later.Add(30*24*time.Hour), extendPro(active, 30, now), "stacks on active subscription")

	expired := model.User{Plan: model.PlanPro, ProUntil: &past}
	assert.Equal(t, now.Add(7*24*time.Hour), extendPro(expired, 7, now))
}

func TestReportsDisabledWithoutClickHouse(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/checks", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, listChecksHandler(nil)(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseChecksFilter(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet,
		"/v1/reports/checks?limit=5000&offset=20&user_id=77&outcome=cached&inn=+7707083893+", nil)
	f := parseChecksFilter(e.NewContext(req, httptest.NewRecorder()))

	assert.Equal(t, 50, f.Limit, "out of range limit keeps default")
	assert.Equal(t, 20, f.Offset)
	assert.EqualValues(t, 77, f.UserID)
	assert.Equal(t, model.OutcomeCached, f.Outcome)
	assert.Equal(t, "7707083893", f.INN)

	req = httptest.NewRequest(http.MethodGet, "/v1/reports/checks?outcome=bogus&inn=123", nil)
	f = parseChecksFilter(e.NewContext(req, httptest.NewRecorder()))
	assert.Empty(t, f.Outcome)
	assert.Empty(t, f.INN)
}

type parkedHandler struct{ release chan struct{} }

func (h parkedHandler) HandleUpdate(ctx context.Context, _ tgbotapi.Update) error {
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return nil
}

func TestWebhookAcksWhileLaneIsFull(t *testing.T) {
	h := parkedHandler{release: make(chan struct{})}
	pool := worker.NewPool(h, 1, 1, time.Minute, nil)
	pool.Start(context.Background())
	t.Cleanup(func() {
		close(h.release)
		pool.Stop()
	})

	intake := queue.New(nil, 0, nil, pool, zap.NewNop())
	intake.Budget = 50 * time.Millisecond
	handler := webhookHandler("", intake, zap.NewNop())

	for id := 1; id <= 4; id++ {
		body := fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1700000000,"chat":{"id":1001,"type":"private"},"text":"hi"}}`, id, id)

		start := time.Now()
		rec := postWebhook(t, handler, body, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Less(t, time.Since(start), time.Second, "update %d", id)
	}
}
