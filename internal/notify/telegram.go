// Package notify — сводки детектора администраторам в Telegram.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/detector"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/observability"
)

// Sender — часть tgbotapi.BotAPI, которой пользуется уведомитель.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	bot    Sender
	admins []int64
	log    *zap.Logger
}

// NewTelegram — уведомитель через Bot API. Без токена или адресатов — nil.
func NewTelegram(token string, admins []int64, log *zap.Logger) (*Notifier, error) {
	if token == "" || len(admins) == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return New(bot, admins, log), nil
}

func New(bot Sender, admins []int64, log *zap.Logger) *Notifier {
	return &Notifier{bot: bot, admins: admins, log: logging.OrNop(log)}
}

// DetectionDone — хук detector.Service.OnComplete. Пустые прогоны не шлём.
func (n *Notifier) DetectionDone(ctx context.Context, r detector.Result) {
	if n == nil || !worthReporting(r) {
		return
	}
	text := FormatDetection(r)
	for _, chatID := range n.admins {
		if ctx.Err() != nil {
			return
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.log.Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
			if isSystemErr(err) {
				observability.CaptureErr(err)
			}
		}
	}
}

func worthReporting(r detector.Result) bool {
	return !r.Skipped && (r.NewlyMissed > 0 || r.Warnings > 0 || r.Failed > 0)
}

// FormatDetection — текст сводки прогона.
func FormatDetection(r detector.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Пропущенные занятия за %s (%s)\n", models.FormatDate(r.Date), r.Date.Weekday())
	fmt.Fprintf(&b, "Проверено пар: %d\n", r.Scanned)
	fmt.Fprintf(&b, "Новых пропусков: %d\n", r.NewlyMissed)
	if r.AlreadyQueued > 0 {
		fmt.Fprintf(&b, "Уже в очереди: %d\n", r.AlreadyQueued)
	}
	if r.Closed > 0 {
		fmt.Fprintf(&b, "Закрыто праздником/ЧС: %d\n", r.Closed)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&b, "⚠️ Пересекающиеся закрытия: %d\n", r.Warnings)
	}
	if r.Failed > 0 {
		fmt.Fprintf(&b, "❌ Ошибок: %d\n", r.Failed)
		for i, e := range r.Errors {
			if i == 3 {
				fmt.Fprintf(&b, "… и ещё %d\n", len(r.Errors)-i)
				break
			}
			b.WriteString("• " + e + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Системные: 5xx, 429, timeout. Ошибки валидации Telegram в Sentry не шлём.
func isSystemErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "502") ||
		strings.Contains(s, "503") || strings.Contains(s, "timeout")
}
