package cmd

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmehdipour/innbot/internal/app"
	"github.com/jmehdipour/innbot/internal/config"
	"github.com/spf13/cobra"
)

var dropPending bool

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook registration",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Point Telegram at telegram.public_url + telegram.webhook_path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, bot, err := loadBot()
		if err != nil {
			return err
		}
		if cfg.Telegram.PublicURL == "" {
			return fmt.Errorf("telegram.public_url is not set")
		}

		params := tgbotapi.Params{}
		params["url"] = cfg.Telegram.WebhookURL()
		params.AddNonEmpty("secret_token", cfg.Telegram.WebhookSecret)
		params.AddBool("drop_pending_updates", dropPending)
		if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
			return err
		}

		if _, err := bot.MakeRequest("setWebhook", params); err != nil {
			return fmt.Errorf("setWebhook: %w", err)
		}
		fmt.Printf(">> Webhook set to %s\n", cfg.Telegram.WebhookURL())
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, bot, err := loadBot()
		if err != nil {
			return err
		}
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending}); err != nil {
			return fmt.Errorf("deleteWebhook: %w", err)
		}
		fmt.Println(">> Webhook deleted")
		return nil
	},
}

var webhookInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the current webhook status",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, bot, err := loadBot()
		if err != nil {
			return err
		}
		info, err := bot.GetWebhookInfo()
		if err != nil {
			return fmt.Errorf("getWebhookInfo: %w", err)
		}
		fmt.Printf("url=%q pending=%d last_error=%q\n", info.URL, info.PendingUpdateCount, info.LastErrorMessage)
		return nil
	},
}

func loadBot() (config.Config, *tgbotapi.BotAPI, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	bot, err := app.NewBotAPI(cfg.Telegram)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, bot, nil
}

func init() {
	webhookCmd.PersistentFlags().BoolVar(&dropPending, "drop-pending", false, "drop updates queued on Telegram's side")
	webhookCmd.AddCommand(webhookSetCmd, webhookDeleteCmd, webhookInfoCmd)
}
