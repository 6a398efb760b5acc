package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	updateWorkers  = 8
	handlerTimeout = 30 * time.Second
)

// Handler serves one decoded update.
type Handler interface {
	Handle(ctx context.Context, u Update) Response
}

// Telegram is the chat transport. It long-polls updates, hands them to the
// handler and renders responses with inline keyboards.
type Telegram struct {
	api     *tgbotapi.BotAPI
	handler Handler
}

func NewTelegram(token string, handler Handler) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	slog.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Telegram{api: api, handler: handler}, nil
}

// Run blocks until ctx is cancelled and every update already received has
// been served.
func (t *Telegram) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := t.api.GetUpdatesChan(cfg)
	defer t.api.StopReceivingUpdates()

	servePool(ctx, updates, updateWorkers, t.serve)
	slog.Info("telegram polling stopped")
}

// servePool hands updates to a fixed number of workers until ctx is done or
// updates is closed, then waits for the workers to drain. Handlers run on a
// context detached from ctx cancellation and bounded by handlerTimeout.
func servePool(ctx context.Context, updates <-chan tgbotapi.Update, workers int, serve func(context.Context, tgbotapi.Update)) {
	jobs := make(chan tgbotapi.Update)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for upd := range jobs {
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
				serve(hctx, upd)
				cancel()
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			jobs <- upd
		}
	}
}

func (t *Telegram) serve(ctx context.Context, upd tgbotapi.Update) {
	u, chatID, ok := decode(upd)
	if !ok {
		return
	}
	if upd.CallbackQuery != nil {
		if _, err := t.api.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, "")); err != nil {
			slog.Warn("failed to answer callback", "user_id", u.UserID, "error", err)
		}
	}

	resp := t.handler.Handle(ctx, u)
	if resp.Text == "" {
		return
	}
	if _, err := t.api.Send(render(chatID, resp)); err != nil {
		slog.Error("failed to send telegram message", "chat_id", chatID, "error", err)
	}
}

// decode maps a telegram update onto an Update. Commands arrive either as
// message text or as the caption of an attached photo or document.
func decode(upd tgbotapi.Update) (Update, int64, bool) {
	if cb := upd.CallbackQuery; cb != nil && cb.Message != nil {
		action, payload, _ := strings.Cut(cb.Data, ":")
		return Update{
			UserID:      cb.From.ID,
			DisplayName: displayName(cb.From),
			Action:      action,
			Payload:     payload,
			RequestID:   "cb:" + cb.ID,
		}, cb.Message.Chat.ID, true
	}

	msg := upd.Message
	if msg == nil || msg.From == nil {
		return Update{}, 0, false
	}
	u := Update{
		UserID:      msg.From.ID,
		DisplayName: displayName(msg.From),
		RequestID:   fmt.Sprintf("msg:%d:%d", msg.Chat.ID, msg.MessageID),
	}

	switch {
	case len(msg.Photo) > 0:
		u.FileRef = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		u.FileRef = msg.Document.FileID
	}

	switch {
	case msg.IsCommand():
		u.Action, u.Payload = msg.Command(), msg.CommandArguments()
	case strings.HasPrefix(msg.Caption, "/"):
		u.Action, u.Payload = parseCommand(msg.Caption)
	default:
		u.Action = "help"
	}
	return u, msg.Chat.ID, true
}

func parseCommand(text string) (string, string) {
	cmd, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(args)
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func render(chatID int64, resp Response) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, resp.Text)
	if len(resp.Options) == 0 {
		return msg
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(resp.Options))
	for _, o := range resp.Options {
		data := o.Action
		if o.Payload != "" {
			data += ":" + o.Payload
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(o.Label, data)))
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return msg
}

// Notify sends text to the user's private chat, whose id equals the user id.
func (t *Telegram) Notify(_ context.Context, userID int64, text string) error {
	if _, err := t.api.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		return fmt.Errorf("failed to notify user %d: %w", userID, err)
	}
	return nil
}
