package alert

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	discordMessageLimit  = 2000
	telegramMessageLimit = 4096
)

// Discord posts alerts to one channel over the REST API. No gateway
// connection is opened.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    zerolog.Logger
}

func NewDiscord(token, channelID string, logger zerolog.Logger) (*Discord, error) {
	token = strings.TrimSpace(token)
	channelID = strings.TrimSpace(channelID)
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord token and channel id are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID, logger: logger}, nil
}

func (d *Discord) Notify(msg string) {
	if _, err := d.session.ChannelMessageSend(d.channelID, truncate(msg, discordMessageLimit)); err != nil {
		d.logger.Error().Err(err).Str("channel_id", d.channelID).Msg("discord alert delivery failed")
	}
}

// Telegram sends alerts to one chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

func NewTelegram(token string, chatID int64, logger zerolog.Logger) (*Telegram, error) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) Notify(msg string) {
	if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, truncate(msg, telegramMessageLimit))); err != nil {
		t.logger.Error().Err(err).Int64("chat_id", t.chatID).Msg("telegram alert delivery failed")
	}
}
