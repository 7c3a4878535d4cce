package render

import (
	"fmt"

	"github.com/jmehdipour/innbot/internal/model"
)

const helpText = "Я проверяю компании и ИП по ИНН.\n\n" +
	"Отправьте ИНН: 10 цифр для организации или 12 для ИП.\n" +
	"Команды:\n" +
	"/start - главное меню\n" +
	"/status - тариф и оставшиеся проверки\n" +
	"/help - эта подсказка"

func Greeting(u model.User) string {
	return fmt.Sprintf("Здравствуйте, <b>%s</b>!\n\n%s", esc(u.DisplayName()), esc(helpText))
}

func Help() string { return esc(helpText) }

func Hint() string {
	return "Не понял запрос. Отправьте ИНН из 10 или 12 цифр или нажмите /help."
}

func AskTaxID() string { return "Пришлите ИНН компании или ИП." }

func InvalidTaxID() string {
	return "ИНН должен состоять из 10 цифр (организация) или 12 цифр (ИП). Проверьте номер и отправьте ещё раз."
}

func PlanInfo(limit int) string {
	return fmt.Sprintf("<b>Бесплатно</b>: %d проверки в день.\n"+
		"<b>PRO</b>: без ограничений на весь оплаченный срок.\n\n"+
		"Для подключения PRO напишите администратору.", limit)
}

func Status(u model.User, q model.QuotaState) string {
	plan := "Бесплатный"
	if q.Unlimited {
		plan = "PRO"
	}
	out := fmt.Sprintf("<b>%s</b>\nТариф: %s\n", esc(u.DisplayName()), plan)
	if line := QuotaLine(q); line != "" {
		out += line
	} else {
		out += "Остаток проверок сейчас недоступен.\n"
	}
	return out
}

func QuotaExceeded(limit int) string {
	return fmt.Sprintf("Лимит бесплатных проверок на сегодня исчерпан (%d в день). "+
		"Попробуйте завтра или подключите PRO.", limit)
}

func NotFound(inn string) string {
	return fmt.Sprintf("По ИНН <code>%s</code> ничего не найдено. Проверка не списана.", esc(inn))
}

func NotConfigured() string {
	return "Сервис проверки сейчас не настроен. Проверка не списана, попробуйте позже."
}

func UpstreamFailed() string {
	return "Источник данных временно недоступен. Проверка не списана, попробуйте позже."
}

func TryLater() string { return "Сервис временно недоступен, попробуйте позже." }

func SlowDown() string { return "Слишком много запросов. Подождите минуту." }

func Failure() string { return "Что-то пошло не так. Попробуйте ещё раз." }

func ExportMissing() string {
	return "Данные для выгрузки устарели. Отправьте ИНН ещё раз."
}
