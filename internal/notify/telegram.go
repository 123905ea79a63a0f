package notify

import (
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/trade-engine/pkg/utils"
)

// Notifier отправляет уведомления о событиях движка
type Notifier interface {
	Notify(accountID, eventType string, payload map[string]interface{})
	Alert(message string)
}

// TelegramNotifier шлёт уведомления в чат. Отправка fire-and-forget:
// сбой доставки логируется и не влияет на торговый путь.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *utils.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *utils.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{
		api:    bot,
		chatID: chatID,
		logger: logger.WithPrefix("notify"),
	}, nil
}

// Notify отправляет информационное уведомление о событии
func (n *TelegramNotifier) Notify(accountID, eventType string, payload map[string]interface{}) {
	n.send(formatEvent(accountID, eventType, payload))
}

// Alert отправляет срочное уведомление
func (n *TelegramNotifier) Alert(message string) {
	n.send("🚨 " + message)
}

func (n *TelegramNotifier) send(text string) {
	go func() {
		msg := tgbotapi.NewMessage(n.chatID, text)
		if _, err := n.api.Send(msg); err != nil {
			n.logger.Warn("telegram send failed: %v", err)
		}
	}()
}

func formatEvent(accountID, eventType string, payload map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", eventType, accountID)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, payload[k])
	}
	return b.String()
}

// NoopNotifier заглушка, когда telegram не настроен
type NoopNotifier struct{}

func (NoopNotifier) Notify(accountID, eventType string, payload map[string]interface{}) {}
func (NoopNotifier) Alert(message string)                                               {}
