package bot

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	httpx "github.com/Spok95/wms-pda/internal/infra/http"
	"github.com/Spok95/wms-pda/internal/session"
)

// History lists journal entries of an order, newest first.
type History interface {
	ByOrder(ctx context.Context, orderNo string, limit int) ([]session.Attempt, error)
}

// Bot is the supervisor channel: confirmation alerts, exported workbooks and
// a couple of read-only commands answered in the admin chat.
type Bot struct {
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	adminChat  int64  // the only chat the bot talks to
	terminalID string // appears in every alert, several terminals may share one chat
	history    History
	status     httpx.StatusFunc
}

type Option func(*Bot)

// WithHistory enables /history; without a journal the command says so.
func WithHistory(h History) Option { return func(b *Bot) { b.history = h } }

// WithStatus enables /status. It is applied after the terminal exists.
func WithStatus(f httpx.StatusFunc) Option { return func(b *Bot) { b.status = f } }

func New(api *tgbotapi.BotAPI, log *slog.Logger, adminChatID int64, terminalID string, opts ...Option) *Bot {
	b := &Bot{api: api, log: log, adminChat: adminChatID, terminalID: terminalID}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run long-polls updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			// no keyboards here, so callbacks never arrive
			if upd.Message != nil {
				b.onMessage(ctx, upd.Message)
			}
		}
	}
}

// Notify implements session.Notifier.
// The session calls it for confirmed and rejected attempts only.
func (b *Bot) Notify(ctx context.Context, a session.Attempt) error {
	// tgbotapi takes no context
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(b.adminChat, attemptText(b.terminalID, a))); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// SendDocument delivers a file (an order export) to the admin chat.
func (b *Bot) SendDocument(ctx context.Context, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// sent from memory, no temp file
	doc := tgbotapi.NewDocument(b.adminChat, tgbotapi.FileBytes{
		Name:  name,
		Bytes: data,
	})
	doc.Caption = caption // order number, kind and terminal
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("send document %s: %w", name, err)
	}
	return nil
}

// send is for command replies: a failed reply is logged and dropped.
func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}
