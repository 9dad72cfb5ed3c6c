package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
)

// Bot connects a Handler to the Telegram Bot API via long polling.
type Bot struct {
	bot *tele.Bot
	h   *Handler
	log zerolog.Logger
}

// NewBot creates a bot. It contacts the API to validate the token.
func NewBot(token string, pollTimeout time.Duration, h *Handler, log zerolog.Logger) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Str("component", "telegram").Msg("bot error")
		},
	})
	if err != nil {
		return nil, err
	}
	return &Bot{bot: b, h: h, log: log.With().Str("component", "telegram").Logger()}, nil
}

// Run polls until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		reply := b.h.Handle(ctx, chat.ID, c.Text())
		if reply == "" {
			return nil
		}
		return c.Send(reply)
	})

	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()
	b.log.Info().Msg("polling started")
	b.bot.Start()
	b.log.Info().Msg("polling stopped")
}
