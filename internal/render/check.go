package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

// View is everything a check reply shows.
type View struct {
	INN       string
	Record    model.CompanyRecord
	Provider  string
	Cached    bool
	FetchedAt time.Time
	Quota     model.QuotaState
	Summary   string         // LLM output, may carry <b>/<i>/<code>
	Location  *time.Location // zone for shown timestamps, UTC when nil
}

var summaryPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "code")
	return p
}()

// esc escapes provider text for Telegram HTML.
func esc(s string) string { return html.EscapeString(s) }

func line(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", label, esc(value))
}

// Check renders the company card as Telegram HTML.
func Check(v View) string {
	rec := v.Record
	var sb strings.Builder

	title := rec.Title()
	if title == "" {
		title = v.INN
	}
	fmt.Fprintf(&sb, "<b>%s</b>\n", esc(title))
	if rec.ShortName != "" && rec.ShortName != title {
		fmt.Fprintf(&sb, "%s\n", esc(rec.ShortName))
	}
	sb.WriteString("\n")

	inn := rec.INN
	if inn == "" {
		inn = v.INN
	}
	fmt.Fprintf(&sb, "ИНН: <code>%s</code>\n", esc(inn))
	if rec.OGRN != "" {
		fmt.Fprintf(&sb, "ОГРН: <code>%s</code>\n", esc(rec.OGRN))
	}
	line(&sb, "КПП", rec.KPP)
	line(&sb, "Статус", rec.Status)
	line(&sb, "Дата регистрации", rec.RegisteredAt)
	line(&sb, "Адрес", rec.Address)
	switch {
	case rec.Head != "" && rec.HeadPost != "":
		fmt.Fprintf(&sb, "Руководитель: %s (%s)\n", esc(rec.Head), esc(rec.HeadPost))
	case rec.Head != "":
		line(&sb, "Руководитель", rec.Head)
	}

	if s := strings.TrimSpace(summaryPolicy.Sanitize(v.Summary)); s != "" {
		fmt.Fprintf(&sb, "\n<i>Кратко:</i> %s\n", s)
	}

	sb.WriteString("\n")
	source := "Источник: " + esc(v.Provider)
	if v.Cached {
		source += " (из кэша"
		if !v.FetchedAt.IsZero() {
			source += " от " + v.FetchedAt.In(zone(v.Location)).Format("02.01.2006 15:04")
		}
		source += ")"
	}
	sb.WriteString(source + "\n")
	sb.WriteString(QuotaLine(v.Quota))

	return sb.String()
}

func zone(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// QuotaLine describes the remaining allowance; empty when unknown.
func QuotaLine(q model.QuotaState) string {
	switch {
	case q.Unlimited && q.ProUntil != nil:
		return fmt.Sprintf("Тариф PRO до %s\n", q.ProUntil.Format("02.01.2006"))
	case q.Unlimited:
		return "Тариф PRO без ограничений\n"
	case q.Remaining < 0:
		return ""
	default:
		return fmt.Sprintf("Бесплатных проверок на сегодня: %d из %d\n", q.Remaining, q.Limit)
	}
}
