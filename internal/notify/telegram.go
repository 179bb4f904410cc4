// Package notify reports upload outcomes and operational alerts to a
// Telegram chat.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"shorts-publisher/internal"
	"shorts-publisher/internal/logging"
	"shorts-publisher/internal/retry"
	"shorts-publisher/internal/uploaders"
)

const (
	separator  = "━━━━━━━━━━━━━━━━━━"
	timeLayout = "2006-01-02 15:04:05"
)

var platformLabels = map[uploaders.Target]string{
	uploaders.Facebook:  "📘 Facebook",
	uploaders.Instagram: "📸 Instagram",
	uploaders.YouTube:   "▶️ YouTube",
}

// Sender is the part of the bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Option func(*Notifier)

// WithEndpoint points the bot at a different Bot API server. The endpoint
// is a format string taking the token and the method, like
// tgbotapi.APIEndpoint.
func WithEndpoint(endpoint string, client *http.Client) Option {
	return func(n *Notifier) {
		n.endpoint = endpoint
		n.client = client
	}
}

// WithSleeper replaces the wait between send attempts.
func WithSleeper(s retry.Sleeper) Option {
	return func(n *Notifier) { n.sleep = s }
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// Notifier sends plain-text messages to one chat. A disabled notifier
// accepts every call and sends nothing.
type Notifier struct {
	bot    Sender
	chatID int64
	token  string
	log    *logging.Logger

	endpoint string
	client   *http.Client
	sleep    retry.Sleeper
	now      func() time.Time
}

// New connects to the Bot API when Telegram is enabled and configured.
// Connection problems disable the notifier instead of failing the run.
func New(cfg internal.Config, log *logging.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		chatID:   cfg.TelegramChatID,
		token:    cfg.TelegramBotToken,
		log:      log,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}

	if !cfg.TelegramEnabled {
		log.Infof("telegram notifications disabled")
		return n
	}
	if n.token == "" || n.chatID == 0 {
		log.Warnf("telegram enabled but credentials missing")
		return n
	}

	api, err := tgbotapi.NewBotAPIWithClient(n.token, n.endpoint, n.client)
	if err != nil {
		log.Warnf("telegram: connect failed, notifications disabled: %s", n.redact(err.Error()))
		return n
	}
	api.Debug = false
	n.bot = api
	return n
}

// NewWithSender builds an enabled notifier around an existing sender.
func NewWithSender(bot Sender, chatID int64, token string, log *logging.Logger, opts ...Option) *Notifier {
	n := &Notifier{bot: bot, chatID: chatID, token: token, log: log, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Enabled() bool {
	return n.bot != nil
}

// SendReport sends the per-platform outcome of one publish run.
func (n *Notifier) SendReport(ctx context.Context, label string, rs *uploaders.ResultSet) bool {
	if !n.Enabled() {
		return false
	}
	return n.send(ctx, formatReport(label, rs, n.now()))
}

// SendAlert sends a titled warning.
func (n *Notifier) SendAlert(ctx context.Context, title, message string) bool {
	if !n.Enabled() {
		return false
	}
	text := fmt.Sprintf("⚠️ %s\n%s\n\n%s\n\n🕒 Time: %s", title, separator, message, n.now().Format(timeLayout))
	return n.send(ctx, text)
}

// SendError reports a run that could not publish at all.
func (n *Notifier) SendError(ctx context.Context, errMsg string) bool {
	if !n.Enabled() {
		return false
	}
	text := fmt.Sprintf("🚨 Pipeline Error Alert\n%s\n\n❌ Error: %s\n🕒 Time: %s\n\nPlease check the logs for details.",
		separator, errMsg, n.now().Format(timeLayout))
	return n.send(ctx, text)
}

func (n *Notifier) send(ctx context.Context, text string) bool {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true

	policy := retry.NotifyPolicy()
	policy.Sleep = n.sleep
	policy.OnRetry = func(attempt int, _ time.Duration, err error) {
		n.log.Warnf("telegram send failed (attempt %d/%d): %s. Retrying...", attempt+1, policy.MaxAttempts, n.redact(err.Error()))
	}

	_, err := retry.Do(ctx, policy, func(context.Context) (tgbotapi.Message, error) {
		return n.bot.Send(msg)
	})
	if err != nil {
		n.log.Errorf("failed to send telegram message after %d attempts: %s", policy.MaxAttempts, n.redact(err.Error()))
		return false
	}
	n.log.Infof("telegram notification sent")
	return true
}

func (n *Notifier) redact(s string) string {
	return uploaders.Redact(s, n.token)
}

func formatReport(label string, rs *uploaders.ResultSet, now time.Time) string {
	var b strings.Builder
	b.WriteString("🎬 Video Upload Report\n")
	b.WriteString(separator + "\n\n")
	if label != "" {
		fmt.Fprintf(&b, "📝 %s\n", label)
	}
	if rs == nil || rs.Len() == 0 {
		b.WriteString("No platforms were attempted.\n")
	}

	results := []*uploaders.UploadResult{}
	if rs != nil {
		results = rs.Results()
	}
	for _, r := range results {
		status := "❌ Failed"
		if r.Success {
			status = "✅ Success"
		}
		fmt.Fprintf(&b, "%s: %s\n", platformName(r.Platform), status)
	}
	fmt.Fprintf(&b, "🕒 Time: %s\n", now.Format(timeLayout))

	links := lo.Filter(results, func(r *uploaders.UploadResult, _ int) bool { return r.Success && r.URL != "" })
	if len(links) > 0 {
		b.WriteString("\n")
		for _, r := range links {
			fmt.Fprintf(&b, "🔗 %s: %s\n", platformName(r.Platform), r.URL)
		}
	}

	failures := lo.Reject(results, func(r *uploaders.UploadResult, _ int) bool { return r.Success })
	if len(failures) > 0 {
		b.WriteString("\n⚠️ Errors:\n")
		for _, r := range failures {
			reason := r.Error
			if reason == "" {
				reason = "Unknown error"
			}
			fmt.Fprintf(&b, "• %s: %s\n", platformName(r.Platform), reason)
		}
	}
	return b.String()
}

func platformName(t uploaders.Target) string {
	if l, ok := platformLabels[t]; ok {
		return l
	}
	return string(t)
}
