// Package telegram is the notification sink over the Telegram Bot API and the
// bot's command surface.
package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"

	"github.com/buybot/pkg/alert"
)

// Bot delivers alert payloads and answers commands.
type Bot struct {
	api      *bot.Bot
	commands *Commands
}

func New(token string) (*Bot, error) {
	api, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Bot{api: api}, nil
}

// RegisterCommands installs one handler per command. Call it before Run.
func (b *Bot) RegisterCommands(commands *Commands) {
	b.commands = commands
	for cmd, name := range commandNames {
		b.api.RegisterHandler(bot.HandlerTypeMessageText, name, bot.MatchTypePrefix, b.commandHandler(cmd))
	}
}

// Run polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	log.Info().Msg("🤖 telegram bot started")
	b.api.Start(ctx)
	return nil
}

func (b *Bot) commandHandler(cmd Command) bot.HandlerFunc {
	return func(ctx context.Context, api *bot.Bot, update *models.Update) {
		if update.Message == nil {
			return
		}
		parsed, args, ok := ParseCommand(update.Message.Text)
		if !ok || parsed != cmd {
			// "/pricex" also matches the "/price" prefix.
			return
		}
		reply := b.commands.Reply(ctx, cmd, args)
		_, err := api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    update.Message.Chat.ID,
			Text:      reply,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			log.Warn().Err(err).Int64("chat", update.Message.Chat.ID).Str("cmd", cmd.String()).Msg("command reply failed")
		}
	}
}

// Send implements alert.Sink. A payload with media goes out as a photo with
// the text as its caption.
func (b *Bot) Send(ctx context.Context, p alert.Payload) error {
	var markup models.ReplyMarkup
	if len(p.Buttons) > 0 {
		row := make([]models.InlineKeyboardButton, 0, len(p.Buttons))
		for _, btn := range p.Buttons {
			row = append(row, models.InlineKeyboardButton{Text: btn.Text, URL: btn.URL})
		}
		markup = models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
	}

	var err error
	if p.MediaURL != "" {
		_, err = b.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      p.ChatID,
			Photo:       &models.InputFileString{Data: p.MediaURL},
			Caption:     p.Text,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: markup,
		})
	} else {
		_, err = b.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      p.ChatID,
			Text:        p.Text,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: markup,
		})
	}
	if err != nil {
		if bot.IsTooManyRequestsError(err) {
			return fmt.Errorf("%w: %v", alert.ErrRateLimited, err)
		}
		return err
	}
	return nil
}
