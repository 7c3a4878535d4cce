package bot

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

const (
	cbCheck      = "menu:check"
	cbPlan       = "menu:plan"
	cbHelp       = "menu:help"
	cbXLSXPrefix = "xlsx:"
)

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔎 Проверить ИНН", cbCheck),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Тарифы", cbPlan),
			tgbotapi.NewInlineKeyboardButtonData("❓ Помощь", cbHelp),
		),
	)
}

func reportKeyboard(inn string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📄 Выгрузить в Excel", cbXLSXPrefix+inn),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔎 Проверить ещё", cbCheck),
		),
	)
}

func planKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Тарифы", cbPlan),
		),
	)
}
