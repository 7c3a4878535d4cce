package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/quota"
	"github.com/jmehdipour/innbot/internal/render"
	"github.com/jmehdipour/innbot/internal/service/lookup"
	"github.com/jmehdipour/innbot/internal/util"
	"go.uber.org/zap"
)

// Sender is the subset of *tgbotapi.BotAPI the handler needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Users interface {
	Upsert(ctx context.Context, u model.User) (*model.User, error)
}

// Checker is the lookup pipeline.
type Checker interface {
	Check(ctx context.Context, u model.User, raw string) (*lookup.Result, error)
	Status(ctx context.Context, u model.User) model.QuotaState
	Cached(ctx context.Context, inn string) (*model.CacheEntry, error)
	Limit() int
}

// Handler turns one Telegram update into replies.
type Handler struct {
	sender  Sender
	users   Users
	checker Checker
	states  *StateStore
	flood   *FloodGuard
	log     *zap.Logger
}

func NewHandler(sender Sender, users Users, checker Checker, states *StateStore, flood *FloodGuard, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{sender: sender, users: users, checker: checker, states: states, flood: flood, log: log}
}

func updateKind(upd tgbotapi.Update) string {
	switch {
	case upd.Message != nil:
		return "message"
	case upd.CallbackQuery != nil:
		return "callback"
	default:
		return "other"
	}
}

// ChatID returns the chat an update belongs to, 0 when there is none.
func ChatID(upd tgbotapi.Update) int64 {
	switch {
	case upd.Message != nil && upd.Message.Chat != nil:
		return upd.Message.Chat.ID
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil && upd.CallbackQuery.Message.Chat != nil:
		return upd.CallbackQuery.Message.Chat.ID
	default:
		return 0
	}
}

// HandleUpdate never panics; failures are logged and the user gets a generic reply.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) (err error) {
	kind := updateKind(upd)
	chatID := ChatID(upd)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling update %d: %v", upd.UpdateID, r)
			h.log.Error("update handler panic",
				zap.Int("update_id", upd.UpdateID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
		if err != nil {
			metrics.UpdatesTotal.WithLabelValues("failed", kind).Inc()
			if chatID != 0 {
				h.reply(chatID, render.Failure(), nil)
			}
			return
		}
		metrics.UpdatesTotal.WithLabelValues("handled", kind).Inc()
	}()

	switch {
	case upd.CallbackQuery != nil:
		return h.onCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		return h.onMessage(ctx, upd.Message)
	default:
		return nil
	}
}

func toUser(from *tgbotapi.User) model.User {
	return model.User{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Plan:      model.PlanFree,
	}
}

// ensureUser creates or refreshes the profile.
func (h *Handler) ensureUser(ctx context.Context, from *tgbotapi.User) (model.User, error) {
	u := toUser(from)
	u.FreeChecksLeft = h.checker.Limit()
	stored, err := h.users.Upsert(ctx, u)
	if err != nil {
		return model.User{}, fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	if stored == nil {
		return u, nil
	}
	return *stored, nil
}

func (h *Handler) onMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return nil
	}
	chatID := msg.Chat.ID

	if !h.flood.Allow(ctx, msg.From.ID) {
		h.reply(chatID, render.SlowDown(), nil)
		return nil
	}

	u, err := h.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	if msg.IsCommand() {
		return h.onCommand(ctx, chatID, u, msg.Command())
	}

	text := strings.TrimSpace(msg.Text)
	state := h.states.Get(ctx, chatID)
	h.setState(ctx, chatID, StateIdle)

	inn, attempt, perr := util.ParseTaxID(text)
	switch {
	case attempt && perr == nil:
		return h.runCheck(ctx, chatID, u, inn)
	case attempt, state == StateAwaitingTaxID:
		h.reply(chatID, render.InvalidTaxID(), nil)
	default:
		h.reply(chatID, render.Hint(), nil)
	}
	return nil
}

func (h *Handler) onCommand(ctx context.Context, chatID int64, u model.User, cmd string) error {
	switch cmd {
	case "start":
		h.setState(ctx, chatID, StateIdle)
		kb := mainMenuKeyboard()
		h.reply(chatID, render.Greeting(u), &kb)
	case "help":
		h.reply(chatID, render.Help(), nil)
	case "status":
		h.reply(chatID, render.Status(u, h.checker.Status(ctx, u)), nil)
	default:
		h.reply(chatID, render.Hint(), nil)
	}
	return nil
}

func (h *Handler) runCheck(ctx context.Context, chatID int64, u model.User, inn string) error {
	res, err := h.checker.Check(ctx, u, inn)
	switch {
	case err == nil:
		kb := reportKeyboard(res.INN)
		h.reply(chatID, render.Check(res.View()), &kb)
	case errors.Is(err, util.ErrInvalidTaxID):
		h.reply(chatID, render.InvalidTaxID(), nil)
	case errors.Is(err, lookup.ErrQuotaExceeded):
		kb := planKeyboard()
		h.reply(chatID, render.QuotaExceeded(h.checker.Limit()), &kb)
	case errors.Is(err, lookup.ErrNotFound):
		h.reply(chatID, render.NotFound(inn), nil)
	case errors.Is(err, lookup.ErrNotConfigured):
		h.reply(chatID, render.NotConfigured(), nil)
	case errors.Is(err, lookup.ErrUpstream):
		h.reply(chatID, render.UpstreamFailed(), nil)
	case errors.Is(err, quota.ErrUnavailable):
		h.reply(chatID, render.TryLater(), nil)
	default:
		return fmt.Errorf("check %s: %w", inn, err)
	}
	return nil
}

func (h *Handler) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) error {
	h.ack(cq)

	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return nil
	}
	chatID := cq.Message.Chat.ID

	if !h.flood.Allow(ctx, cq.From.ID) {
		return nil
	}

	data := cq.Data
	switch {
	case data == cbCheck:
		h.setState(ctx, chatID, StateAwaitingTaxID)
		h.reply(chatID, render.AskTaxID(), nil)
	case data == cbPlan:
		h.reply(chatID, render.PlanInfo(h.checker.Limit()), nil)
	case data == cbHelp:
		h.reply(chatID, render.Help(), nil)
	case strings.HasPrefix(data, cbXLSXPrefix):
		return h.sendWorkbook(ctx, chatID, strings.TrimPrefix(data, cbXLSXPrefix))
	}
	return nil
}

// sendWorkbook exports a cached report; it never charges quota.
func (h *Handler) sendWorkbook(ctx context.Context, chatID int64, inn string) error {
	e, err := h.checker.Cached(ctx, inn)
	if err != nil || e == nil || e.Record == nil {
		h.reply(chatID, render.ExportMissing(), nil)
		return nil
	}

	raw, err := render.Workbook(*e.Record, e.Provider, e.FetchedAt)
	if err != nil {
		return fmt.Errorf("build workbook %s: %w", inn, err)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: render.WorkbookName(inn), Bytes: raw})
	doc.Caption = e.Record.Title()
	if _, err := h.sender.Send(doc); err != nil {
		h.log.Warn("send document failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return nil
}

func (h *Handler) ack(cq *tgbotapi.CallbackQuery) {
	if _, err := h.sender.Request(tgbotapi.CallbackConfig{CallbackQueryID: cq.ID}); err != nil {
		h.log.Debug("callback ack failed", zap.String("callback_id", cq.ID), zap.Error(err))
	}
}

func (h *Handler) setState(ctx context.Context, chatID int64, st State) {
	if err := h.states.Set(ctx, chatID, st); err != nil {
		h.log.Warn("chat state write failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) reply(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := h.sender.Send(msg); err != nil {
		h.log.Warn("send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
