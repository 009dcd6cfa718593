package alert

import (
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/config"
)

// FromConfig builds the configured sinks behind one Async queue. Callers must
// Close the result to flush pending alerts.
func FromConfig(cfg *config.Config, logger zerolog.Logger) (*Async, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	sinks := make(Multi, 0, 3)
	for _, name := range cfg.AlertSinkList() {
		switch name {
		case "log":
			sinks = append(sinks, NewLog(logger))
		case "discord":
			d, err := NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID, logger)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, d)
		case "telegram":
			t, err := NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, t)
		default:
			return nil, fmt.Errorf("unknown alert sink %q", name)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewLog(logger))
	}

	logger.Debug().Strs("sinks", cfg.AlertSinkList()).Int("queue_size", cfg.AlertQueueSize).Msg("alert channel ready")
	return NewAsync(sinks, cfg.AlertQueueSize, logger), nil
}
