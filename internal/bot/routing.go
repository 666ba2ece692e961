package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const historyLimit = 10 // attempts per /history reply

// onMessage answers commands from the admin chat and ignores everything else.
func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != b.adminChat || !msg.IsCommand() {
		return
	}
	b.handleCommand(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	// what the terminal is doing right now
	case "status":
		if b.status == nil {
			b.send(tgbotapi.NewMessage(chatID, "Status is not available."))
			return
		}
		b.send(tgbotapi.NewMessage(chatID, statusText(b.status())))

	// journal of one order, same data as :history on the terminal
	case "history":
		orderNo := strings.TrimSpace(msg.CommandArguments())
		if orderNo == "" {
			b.send(tgbotapi.NewMessage(chatID, "Usage: /history <order number>"))
			return
		}
		if b.history == nil {
			b.send(tgbotapi.NewMessage(chatID, "Journal is disabled on this terminal."))
			return
		}
		items, err := b.history.ByOrder(ctx, orderNo, historyLimit)
		if err != nil {
			b.log.Error("history lookup failed", "order_no", orderNo, "err", err)
			b.send(tgbotapi.NewMessage(chatID, "Failed to read the journal."))
			return
		}
		b.send(tgbotapi.NewMessage(chatID, historyText(orderNo, items)))

	// /start, /help and anything unknown
	default:
		b.send(tgbotapi.NewMessage(chatID, "Commands: /status, /history <order number>"))
	}
}
