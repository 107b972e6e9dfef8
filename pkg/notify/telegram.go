// Package notify sends alerts for high-severity lookup results via Telegram.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const (
	queueSize      = 100
	maxRetries     = 3
	retryDelayBase = time.Second
)

// Sender delivers a Telegram message. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type alert struct {
	source string
	event  models.ThreatEvent
}

// Telegram queues high-severity results and delivers them from a single
// worker so lookups never wait on the Bot API.
type Telegram struct {
	sender     Sender
	chatID     int64
	retryDelay time.Duration

	queue   chan alert
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// Stats
	sent    uint64
	failed  uint64
	dropped uint64
}

// NewTelegram connects to the Bot API with botToken.
func NewTelegram(botToken, chatID string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("[notify] authorized as @%s", bot.Self.UserName)
	return NewTelegramWithSender(bot, chatID)
}

// NewTelegramWithSender builds a notifier around an existing sender.
func NewTelegramWithSender(sender Sender, chatID string) (*Telegram, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	return &Telegram{
		sender:     sender,
		chatID:     id,
		retryDelay: retryDelayBase,
		queue:      make(chan alert, queueSize),
		done:       make(chan struct{}),
	}, nil
}

// Start begins the delivery worker.
func (t *Telegram) Start() {
	if t.running.Swap(true) {
		return
	}
	t.wg.Add(1)
	go t.run()
	logger.Info("[notify] telegram notifier started")
}

// Stop delivers what is queued and stops the worker.
func (t *Telegram) Stop() {
	if !t.running.Swap(false) {
		return
	}
	close(t.done)
	t.wg.Wait()
	logger.Info("[notify] telegram notifier stopped (sent=%d, failed=%d, dropped=%d)",
		atomic.LoadUint64(&t.sent), atomic.LoadUint64(&t.failed), atomic.LoadUint64(&t.dropped))
}

// Notify queues ev if it is high severity. It never blocks.
func (t *Telegram) Notify(source string, ev models.ThreatEvent) {
	if ev.Severity.Normalize() != models.SeverityHigh {
		return
	}
	select {
	case t.queue <- alert{source: source, event: ev}:
	default:
		atomic.AddUint64(&t.dropped, 1)
	}
}

// Stats returns current statistics.
func (t *Telegram) Stats() map[string]interface{} {
	return map[string]interface{}{
		"sent":      atomic.LoadUint64(&t.sent),
		"failed":    atomic.LoadUint64(&t.failed),
		"dropped":   atomic.LoadUint64(&t.dropped),
		"queue_len": len(t.queue),
	}
}

func (t *Telegram) run() {
	defer t.wg.Done()
	for {
		select {
		case a := <-t.queue:
			t.deliver(a)
		case <-t.done:
			for {
				select {
				case a := <-t.queue:
					t.deliver(a)
				default:
					return
				}
			}
		}
	}
}

func (t *Telegram) deliver(a alert) {
	if err := t.send(FormatAlert(a.source, a.event)); err != nil {
		atomic.AddUint64(&t.failed, 1)
		logger.Warn("[notify] %v", err)
		return
	}
	atomic.AddUint64(&t.sent, 1)
}

func (t *Telegram) send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		_, err := t.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(t.retryDelay * time.Duration(i+1))
	}
	return fmt.Errorf("send message after %d retries: %w", maxRetries, lastErr)
}

// FormatAlert renders a MarkdownV2 alert for ev.
func FormatAlert(source string, ev models.ThreatEvent) string {
	var b strings.Builder
	b.WriteString("🚨 *High severity indicator*\n\n")
	fmt.Fprintf(&b, "`%s`\n", escapeCode(ev.Indicator))
	fmt.Fprintf(&b, "Source: %s\n", escapeMarkdownV2(source))
	if models.Present(ev.Country) {
		fmt.Fprintf(&b, "Country: %s\n", escapeMarkdownV2(ev.Country))
	}
	if ev.AbuseScore != nil {
		fmt.Fprintf(&b, "Abuse score: %d\n", *ev.AbuseScore)
	}
	if ev.MaliciousScore != nil {
		fmt.Fprintf(&b, "Malicious votes: %d\n", *ev.MaliciousScore)
	}
	if ev.Malware != "" {
		fmt.Fprintf(&b, "Malware: %s\n", escapeMarkdownV2(ev.Malware))
	}
	return b.String()
}

// escapeMarkdownV2 escapes the characters reserved by Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeCode escapes text inside a code span.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}
