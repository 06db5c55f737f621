package publish

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram allows about 30 messages per second per bot
const telegramRate = 25

// TelegramSender implements Sender using tgbotapi
type TelegramSender struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

// NewTelegramSender authenticates the bot token against apiEndpoint, a
// format string such as tgbotapi.APIEndpoint
func NewTelegramSender(token, apiEndpoint string, client *http.Client) (*TelegramSender, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}

	return &TelegramSender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(telegramRate), 1),
	}, nil
}

// Username returns the bot account name
func (s *TelegramSender) Username() string {
	return s.api.Self.UserName
}

// Send posts an HTML message. chatID is a numeric chat id or an @channel
// username.
func (s *TelegramSender) Send(ctx context.Context, chatID, text string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	msg, err := newMessage(chatID, text)
	if err != nil {
		return "", err
	}
	msg.ParseMode = tgbotapi.ModeHTML

	resp, err := s.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram send to %s failed: %w", chatID, err)
	}

	return strconv.Itoa(resp.MessageID), nil
}

func newMessage(chatID, text string) (tgbotapi.MessageConfig, error) {
	chatID = strings.TrimSpace(chatID)

	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.NewMessageToChannel(chatID, text), nil
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat id '%s'", chatID)
	}

	return tgbotapi.NewMessage(id, text), nil
}
