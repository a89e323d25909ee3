package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/suspectuso/zeruva-rewards/internal/claims"
)

const queueSize = 256

// Sender delivers a formatted HTML message to a chat
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

// Notifier forwards claim events to the ops chat.
// Notify never blocks the claim path; events are dropped when the queue is full.
type Notifier struct {
	chatID int64
	queue  chan claims.Event
	active atomic.Bool
	log    *slog.Logger
}

// New creates a new Notifier. Events are only logged until Run starts delivering them.
func New(chatID int64, log *slog.Logger) *Notifier {
	return &Notifier{
		chatID: chatID,
		queue:  make(chan claims.Event, queueSize),
		log:    log,
	}
}

// Notify implements claims.Sink
func (n *Notifier) Notify(ctx context.Context, ev claims.Event) {
	n.log.Info("claim event",
		"kind", string(ev.Kind),
		"wallet", ev.WalletID,
		"intent_id", ev.IntentID,
	)

	if !n.active.Load() {
		return
	}

	select {
	case n.queue <- ev:
	default:
		n.log.Warn("notification queue full, dropping event", "kind", string(ev.Kind), "intent_id", ev.IntentID)
	}
}

// Run delivers queued events through sender until ctx is done
func (n *Notifier) Run(ctx context.Context, sender Sender) {
	if sender == nil || n.chatID == 0 {
		n.log.Info("ops notifications disabled")
		return
	}

	n.active.Store(true)
	defer n.active.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			if err := sender.SendNotification(ctx, n.chatID, Format(ev)); err != nil {
				n.log.Error("send notification", "kind", string(ev.Kind), "error", err)
			}
		}
	}
}

// Format renders an event as a Telegram HTML message
func Format(ev claims.Event) string {
	var title string
	switch ev.Kind {
	case claims.EventMismatch:
		title = "⚠️ <b>Claim value mismatch</b>"
	case claims.EventSettlementDrift:
		title = "⚠️ <b>Settlement drift</b>"
	case claims.EventPaymentFailed:
		title = "🟥 <b>Payout failed</b>"
	case claims.EventPaymentUnconfirmed:
		title = "🟨 <b>Payout unconfirmed</b>"
	case claims.EventPaid:
		title = "🟩 <b>Payout sent</b>"
	default:
		title = fmt.Sprintf("<b>%s</b>", html.EscapeString(string(ev.Kind)))
	}

	lines := []string{
		title,
		"",
		fmt.Sprintf("Wallet: <code>%s</code>", html.EscapeString(ev.WalletID)),
	}

	if ev.IntentID != "" {
		lines = append(lines, fmt.Sprintf("Intent: <code>%s</code>", ev.IntentID))
	}

	switch ev.Kind {
	case claims.EventMismatch:
		lines = append(lines,
			fmt.Sprintf("Client: <b>$%s</b>", ev.USD.StringFixed(6)),
			fmt.Sprintf("Server: <b>$%s</b>", ev.Expected.StringFixed(6)),
		)
	default:
		if !ev.USD.IsZero() {
			lines = append(lines, fmt.Sprintf("Amount: <b>$%s</b> (%d lamports)", ev.USD.StringFixed(4), ev.Lamports))
		}
	}

	if ev.Signature != "" {
		lines = append(lines, fmt.Sprintf("Tx: <a href='https://solscan.io/tx/%s'>%s</a>", ev.Signature, shortSig(ev.Signature)))
	}
	if ev.Err != nil {
		lines = append(lines, "", fmt.Sprintf("Error: <code>%s</code>", html.EscapeString(ev.Err.Error())))
	}

	lines = append(lines, "", fmt.Sprintf("<i>%s</i>", ev.At.UTC().Format("2006-01-02 15:04:05 UTC")))
	return strings.Join(lines, "\n")
}

func shortSig(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:8] + "…" + sig[len(sig)-8:]
}
