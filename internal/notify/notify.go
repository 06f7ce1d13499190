// Package notify sends operator notifications about publish outcomes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/publish"
)

// Event kinds.
const (
	KindPublished = "published"
	KindFailed    = "failed"
)

// Event describes a terminal dispatch outcome.
type Event struct {
	Kind     string
	Post     *model.ScheduledPost
	Artifact *model.ContentArtifact
	Account  *model.SocialAccount
	Result   publish.PostResult
}

// Notifier receives dispatch events. Implementations log their own errors.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// sender is the part of *tgbotapi.BotAPI that Telegram uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts a Markdown message per event to one chat.
type Telegram struct {
	bot    sender
	chatID int64
	logger *slog.Logger
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(bot, chatID, logger), nil
}

func newTelegram(bot sender, chatID int64, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}
}

// Notify sends e. Failures are logged and dropped.
func (t *Telegram) Notify(ctx context.Context, e Event) {
	if ctx.Err() != nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, Format(e))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram notification failed", "kind", e.Kind, "error", err)
	}
}

// Format renders e as a Telegram Markdown message.
func Format(e Event) string {
	var b strings.Builder
	switch e.Kind {
	case KindPublished:
		b.WriteString("*Post published*\n")
	case KindFailed:
		b.WriteString("*Post failed*\n")
	default:
		fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(e.Kind))
	}
	if e.Artifact != nil {
		fmt.Fprintf(&b, "Platform: %s\n", escapeMarkdown(string(e.Artifact.Platform)))
		if e.Artifact.Hook != "" {
			fmt.Fprintf(&b, "Hook: %s\n", escapeMarkdown(e.Artifact.Hook))
		}
	}
	if e.Account != nil {
		fmt.Fprintf(&b, "Account: %s\n", escapeMarkdown(e.Account.DisplayName))
	}
	if e.Post != nil {
		fmt.Fprintf(&b, "Post: `%s`\n", e.Post.ID)
		if e.Kind == KindFailed {
			fmt.Fprintf(&b, "Attempts: %d/%d\n", e.Post.RetryCount, e.Post.MaxRetries)
		}
	}
	if e.Result.ExternalURL != "" {
		fmt.Fprintf(&b, "%s\n", e.Result.ExternalURL)
	}
	if e.Result.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", escapeMarkdown(e.Result.Error))
	}
	return strings.TrimRight(b.String(), "\n")
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`").Replace(s)
}
