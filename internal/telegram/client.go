// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/marketpulse/internal/models"
)

// StatusFunc renders the reply to the /status command.
type StatusFunc func() string

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         StatusFunc
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	return NewClientWithEndpoint(botToken, chatID, tgbotapi.APIEndpoint, maxRetries, retryDelayBase)
}

// NewClientWithEndpoint is NewClient against a custom Bot API endpoint
// of the form "https://host/bot%s/%s".
func NewClientWithEndpoint(botToken, chatID, endpoint string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SetStatusFunc installs the /status command renderer.
func (c *Client) SetStatusFunc(fn StatusFunc) {
	c.status = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if c.status == nil {
			return
		}
		text = c.status()
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	c.bot.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a stream error notification.
// Call this only once per consecutive error sequence.
func (c *Client) SendError(streamErr error) error {
	text := fmt.Sprintf("⚠️ *Market data error*\n`%s`", escapeMarkdownV2(streamErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Market data recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// NotifyReversal sends a reversal event.
func (c *Client) NotifyReversal(n models.ReversalNotification) error {
	return c.sendMarkdownV2(formatReversal(n))
}

// formatReversal formats a reversal event into a Telegram MarkdownV2 message.
func formatReversal(n models.ReversalNotification) string {
	emoji := "🟢"
	title := "Support reversal"
	if n.Kind == models.KindResistance {
		emoji = "🔴"
		title = "Resistance reversal"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", emoji, title)
	issued := time.UnixMilli(n.IssuedAt).UTC().Format("2006-01-02 15:04:05")
	fmt.Fprintf(&b, "📅 Issued: %s UTC\n", escapeMarkdownV2(issued))
	fmt.Fprintf(&b, "📊 Score: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f", n.Score)))
	fmt.Fprintf(&b, "🆔 Session: `%d`\n", n.SessionID)

	if len(n.CompliantSymbols) > 0 {
		b.WriteString("\n")
		shown := n.CompliantSymbols
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for i, symbol := range shown {
			fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(symbol))
		}
		if rest := len(n.CompliantSymbols) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "\\+%d more\n", rest)
		}
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
