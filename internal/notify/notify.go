package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hakosync/hakosync/internal/config"
	"github.com/hakosync/hakosync/internal/logging"
	"github.com/hakosync/hakosync/internal/models"
)

// Notify sends a one-off message without requiring a running bot instance.
func Notify(token string, chatID int64, text string) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 || strings.TrimSpace(text) == "" {
		return
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	_, _ = bot.Send(msg)
}

// Notifier sends optional sync notifications to a Telegram chat. A
// disabled notifier swallows every call, so callers never branch.
type Notifier struct {
	enabled bool
	token   string
	chatID  int64
	logger  *logging.Logger
}

// NewNotifier creates a notifier from the telegram config section.
func NewNotifier(cfg config.TelegramConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Notifier{
		enabled: cfg.Enabled,
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		logger:  logger,
	}
}

// SyncFinished reports a completed entity sync that found new messages.
func (n *Notifier) SyncFinished(group models.Group, result *models.SyncResult) {
	if !n.enabled || result == nil || result.NewCount == 0 {
		return
	}
	n.send(fmt.Sprintf(
		"📥 *%s* member %d: %d new messages, %d media queued",
		group.Config().DisplayName,
		result.Entity.MemberID,
		result.NewCount,
		result.MediaEnqueued,
	))
}

// SessionExpired reports a terminal session failure that needs a manual
// re-login.
func (n *Notifier) SessionExpired(group models.Group) {
	if !n.enabled {
		return
	}
	n.send(fmt.Sprintf(
		"🔒 *%s* session expired, re-login and import fresh credentials",
		group.Config().DisplayName,
	))
}

func (n *Notifier) send(text string) {
	n.logger.Debug("sending telegram notification", "chat_id", n.chatID)
	Notify(n.token, n.chatID, text)
}
