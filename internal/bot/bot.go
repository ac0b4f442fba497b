// Package bot implements the Telegram operator bot: it exposes monitor
// status and control plus ad hoc catalog lookups to allow-listed users.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kirjastokaveri/internal/config"
	"kirjastokaveri/internal/model"
	"kirjastokaveri/internal/search"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Searcher serves catalog lookups.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*model.SearchResponse, error)
	Availability(ctx context.Context, recordID string, lat, lon *float64) (*model.AvailabilityResponse, error)
}

// Monitor is the availability job.
type Monitor interface {
	Run(ctx context.Context, triggeredBy string) (*model.JobResult, error)
	Status() model.JobStatus
}

// Notifications lists stored notifications.
type Notifications interface {
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]model.Notification, error)
}

// Bot is the Telegram operator bot.
type Bot struct {
	api           telegramAPI
	search        Searcher
	monitor       Monitor
	notifications Notifications
	cfg           *config.Config
	log           *slog.Logger
}

// New creates a Bot with the given Telegram token.
func New(token string, s Searcher, m Monitor, n Notifications, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:           api,
		search:        s,
		monitor:       m,
		notifications: n,
		cfg:           cfg,
		log:           log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdStatus:
		b.handleStatus(chatID)
	case cmdRun:
		b.handleRun(ctx, chatID)
	case "search":
		b.handleSearch(ctx, chatID, args)
	case cmdAvailability:
		b.handleAvailability(ctx, chatID, args)
	case "notifications":
		b.handleNotifications(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
