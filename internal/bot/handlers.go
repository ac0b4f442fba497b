package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kirjastokaveri/internal/monitor"
	"kirjastokaveri/internal/search"
)

const (
	searchResultLimit = 5
	notificationLimit = 10
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the Kirjastokaveri operator bot!

Watch the availability monitor and look up books in the Finna catalog.

Quick start:
1. /status — see the latest monitor run
2. /run — check wishlist availability now
3. /search <query> — search the catalog

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Monitor:
/status — latest run and whether one is in progress
/run — start an availability check now

Catalog:
/search <query> — search, filters: author:<name> subject:<name> format:<code>
/availability <record_id> — copies per library

Users:
/notifications <user_id> — latest notifications for a user

Quote filter values with spaces: author:"Jansson, Tove"`)
}

func (b *Bot) handleStatus(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, FormatStatus(b.monitor.Status()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Run now", cmdRun+":"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleRun(ctx context.Context, chatID int64) {
	b.reply(chatID, "Starting availability check...")

	res, err := b.monitor.Run(ctx, "telegram")
	switch {
	case errors.Is(err, monitor.ErrAlreadyRunning):
		b.reply(chatID, "An availability check is already running. Try again later.")
	case err != nil:
		b.log.Error("manual availability run", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Availability check failed: %v", err))
	default:
		b.reply(chatID, FormatJobResult(res))
	}
}

func (b *Bot) handleSearch(ctx context.Context, chatID int64, args string) {
	q, err := ParseSearchArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	resp, err := b.search.Search(ctx, q)
	if err != nil {
		b.reply(chatID, searchErrorText(err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatSearchResults(q.Text, resp, searchResultLimit))
	msg.DisableWebPagePreview = true
	if kb, ok := availabilityKeyboard(resp.Records, searchResultLimit); ok {
		msg.ReplyMarkup = kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send search results", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleAvailability(ctx context.Context, chatID int64, args string) {
	recordID, err := ParseRecordArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /availability <record_id>")
		return
	}

	resp, err := b.search.Availability(ctx, recordID, nil, nil)
	if err != nil {
		b.reply(chatID, searchErrorText(err))
		return
	}
	b.reply(chatID, FormatAvailability(resp))
}

func (b *Bot) handleNotifications(ctx context.Context, chatID int64, args string) {
	userID, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /notifications <user_id>")
		return
	}

	notes, err := b.notifications.ListNotifications(ctx, userID, false, notificationLimit)
	if err != nil {
		b.log.Error("list notifications", "user_id", userID, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatNotifications(userID, notes))
}

// searchErrorText keeps upstream details for operators and hides
// everything else behind a generic message.
func searchErrorText(err error) string {
	var ue *search.UpstreamError
	if errors.As(err, &ue) {
		return fmt.Sprintf("%s (HTTP %d)", ue.Detail, ue.StatusCode)
	}
	if errors.Is(err, search.ErrAvailabilityFailed) {
		return "Failed to retrieve availability."
	}
	return "Catalog search failed. Try again later."
}
