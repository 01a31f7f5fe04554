package delivery

import (
	"context"
	"errors"

	tele "gopkg.in/telebot.v4"

	"pulsesync/internal/notify"
	logx "pulsesync/pkg/logx"
)

// TelegramConfig targets a bot-API chat for outbound delivery.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// telegramSink sends each notification as one text message. The bot is used
// send-only; no poller is started.
type telegramSink struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

func newTelegramSink(cfg TelegramConfig, log logx.Logger) (*telegramSink, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram delivery requires a bot token")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram delivery requires a chat id")
	}

	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}

	return &telegramSink{
		bot:  bot,
		chat: &tele.Chat{ID: cfg.ChatID},
		log:  log,
	}, nil
}

func (s *telegramSink) Deliver(ctx context.Context, req notify.Request) error {
	text := renderText(req)
	if text == "" {
		return nil
	}

	// telebot has no context-aware send; bound the call by racing the context.
	type sendResult struct{ err error }
	done := make(chan sendResult, 1)
	go func() {
		_, err := s.bot.Send(s.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- sendResult{err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res.err != nil {
			s.log.Debug("telegram send failed",
				logx.String("id", req.ID), logx.Int64("chat_id", s.chat.ID), logx.Err(res.err))
			return res.err
		}
	}

	s.log.Trace("telegram notification sent", logx.String("id", req.ID))
	return nil
}
