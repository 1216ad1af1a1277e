package notify

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"regimesync/internal/dispatch"
	"regimesync/internal/domain/regime"
	"regimesync/internal/metrics"
	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

// messageSender is the slice of the bot API the notifier uses
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes an alert when the regime code changes. Repeated
// snapshots carrying the same code stay silent. Sends run on their own
// queue so a slow bot API call never blocks the publishing goroutine.
type TelegramNotifier struct {
	api    messageSender
	chatID int64
	queue  *dispatch.Queue
	log    *logger.Logger

	mu       sync.Mutex
	lastCode int
}

// NewTelegramNotifier creates a notifier backed by the bot API
func NewTelegramNotifier(token string, chatID int64, log *logger.Logger) (*TelegramNotifier, error) {
	if token == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	return newNotifier(api, chatID, log), nil
}

func newNotifier(api messageSender, chatID int64, log *logger.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		api:      api,
		chatID:   chatID,
		queue:    dispatch.NewQueue(16, log),
		log:      log,
		lastCode: -1,
	}
}

// OnSnapshot is the observer hook. The change check runs inline; the send
// itself is queued. Failures are logged, never propagated.
func (n *TelegramNotifier) OnSnapshot(snap regime.Snapshot) {
	n.mu.Lock()
	changed := snap.Record.Code != n.lastCode
	if changed {
		n.lastCode = snap.Record.Code
	}
	n.mu.Unlock()

	if !changed {
		return
	}

	text := fmt.Sprintf(
		"Regime change: %s (was %s)\nCode: %d\nSpread: %.1f\nLevels: %d",
		snap.Record.Current, snap.Record.Previous,
		snap.Record.Code, snap.Prices.Spread, len(snap.Levels),
	)

	n.queue.Post(func() {
		msg := tgbotapi.NewMessage(n.chatID, text)

		_, err := n.api.Send(msg)
		metrics.RecordSinkWrite("telegram", err)
		if err != nil {
			n.log.Warnw("Telegram notification failed", "error", err)
		}
	})
}

// Close drains pending notifications and stops the send queue.
func (n *TelegramNotifier) Close() {
	n.queue.Close()
}
