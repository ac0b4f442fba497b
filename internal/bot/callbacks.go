package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kirjastokaveri/internal/model"
)

const (
	cmdStatus       = "status"
	cmdRun          = "run"
	cmdAvailability = "availability"
)

// maxCallbackData is Telegram's limit on inline button payloads.
const maxCallbackData = 64

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(data, ":")
	if !ok {
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdStatus:
		b.handleStatus(chatID)
	case cmdRun:
		b.handleRun(ctx, chatID)
	case cmdAvailability:
		b.handleAvailability(ctx, chatID, arg)
	}
}

// availabilityKeyboard offers one availability button per listed record.
// Records whose id does not fit in a callback payload get no button.
func availabilityKeyboard(records []model.SearchRecord, limit int) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, r := range records {
		if i == limit {
			break
		}
		data := cmdAvailability + ":" + r.RecordID
		if r.RecordID == "" || len(data) > maxCallbackData {
			continue
		}
		label := r.RecordID
		if r.Title != nil && *r.Title != "" {
			label = truncate(*r.Title, 40)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, data),
		))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}
