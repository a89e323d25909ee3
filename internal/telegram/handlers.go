package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/rewards"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

// Ops is the read side of the rewards service the bot exposes to operators
type Ops interface {
	Stats(ctx context.Context) (*storage.Stats, error)
	GetStatus(ctx context.Context, walletID string) (*rewards.Status, error)
	FindIntent(ctx context.Context, intentID string) (*storage.ClaimIntent, error)
}

// Bot is the operator bot. It only answers in the admin chat.
type Bot struct {
	bot         *bot.Bot
	ops         Ops
	adminChatID int64
	log         *slog.Logger
}

// New creates a new telegram bot
func New(token string, adminChatID int64, ops Ops, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		ops:         ops,
		adminChatID: adminChatID,
		log:         log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypeExact, b.statsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/wallet", bot.MatchTypePrefix, b.walletHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/intent", bot.MatchTypePrefix, b.intentHandler)

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if !b.fromAdmin(update) {
		return
	}

	text := "<b>Zeruva rewards ops</b>\n\n" +
		"/stats - ledger totals\n" +
		"/wallet &lt;address&gt; - wallet earnings\n" +
		"/intent &lt;id&gt; - claim intent"
	b.sendMessage(ctx, update.Message.Chat.ID, text, MainKeyboard())
}

func (b *Bot) statsHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if !b.fromAdmin(update) {
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, b.statsText(ctx), MainKeyboard())
}

func (b *Bot) walletHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if !b.fromAdmin(update) {
		return
	}

	walletID := commandArg(update.Message.Text)
	if walletID == "" {
		b.sendMessage(ctx, update.Message.Chat.ID, "Usage: <code>/wallet &lt;address&gt;</code>", nil)
		return
	}

	st, err := b.ops.GetStatus(ctx, walletID)
	if err != nil {
		b.sendMessage(ctx, update.Message.Chat.ID, errorText(err), nil)
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, FormatStatus(st), nil)
}

func (b *Bot) intentHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if !b.fromAdmin(update) {
		return
	}

	intentID := commandArg(update.Message.Text)
	if intentID == "" {
		b.sendMessage(ctx, update.Message.Chat.ID, "Usage: <code>/intent &lt;id&gt;</code>", nil)
		return
	}

	in, err := b.ops.FindIntent(ctx, intentID)
	if err != nil {
		b.sendMessage(ctx, update.Message.Chat.ID, errorText(err), nil)
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, FormatIntent(in), nil)
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}

	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})

	if cq.Message.Message == nil || cq.Message.Message.Chat.ID != b.adminChatID {
		return
	}

	switch cq.Data {
	case callbackStats:
		b.editMessage(ctx, cq.Message, b.statsText(ctx), MainKeyboard())
	}
}

func (b *Bot) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.log.Debug("ignored message", "chat_id", update.Message.Chat.ID)
}

// --- Helpers ---

func (b *Bot) fromAdmin(update *models.Update) bool {
	if update.Message == nil {
		return false
	}
	if b.adminChatID == 0 || update.Message.Chat.ID != b.adminChatID {
		b.log.Warn("command from non-admin chat", "chat_id", update.Message.Chat.ID)
		return false
	}
	return true
}

func (b *Bot) statsText(ctx context.Context) string {
	stats, err := b.ops.Stats(ctx)
	if err != nil {
		b.log.Error("get stats", "error", err)
		return errorText(err)
	}
	return FormatStats(stats)
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Debug("edit message", "error", err)
	}
}

// SendNotification sends an alert to a chat, used by the notifier
func (b *Bot) SendNotification(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}

	_, err := b.bot.SendMessage(ctx, params)
	return err
}

// --- Formatting ---

// FormatStats renders service-wide counters
func FormatStats(s *storage.Stats) string {
	return strings.Join([]string{
		"<b>📊 Ledger stats</b>",
		"",
		fmt.Sprintf("Accounts: <b>%d</b>", s.Accounts),
		fmt.Sprintf("Active expeditions: <b>%d</b>", s.ActiveExpeditions),
		fmt.Sprintf("Pending intents: <b>%d</b>", s.PendingIntents),
		fmt.Sprintf("Paid intents: <b>%d</b>", s.PaidIntents),
		"",
		fmt.Sprintf("Unclaimed: <b>$%s</b>", s.TotalPending.StringFixed(4)),
		fmt.Sprintf("Claimed: <b>$%s</b>", s.TotalClaimed.StringFixed(4)),
	}, "\n")
}

// FormatStatus renders a wallet's earnings
func FormatStatus(st *rewards.Status) string {
	lines := []string{
		fmt.Sprintf("<b>👛 %s</b>", html.EscapeString(st.WalletID)),
		"",
		fmt.Sprintf("Pending: <b>$%s</b>", st.PendingEarnings.StringFixed(6)),
		fmt.Sprintf("Claimed: $%s", st.TotalClaimed.StringFixed(4)),
		fmt.Sprintf("Lifetime: $%s", st.LifetimeAccrued.StringFixed(4)),
		fmt.Sprintf("Fleet ROI: $%s/day, ship level %d", st.FleetROI.StringFixed(2), st.ShipLevel),
	}

	if st.Expedition.Active {
		lines = append(lines, fmt.Sprintf("🚀 On expedition to %s until %s",
			html.EscapeString(st.Expedition.Planet), formatTime(st.Expedition.EndsAt)))
	} else {
		lines = append(lines, "🛬 Docked")
	}

	if st.LastClaimAt != nil {
		lines = append(lines, fmt.Sprintf("Last claim: %s", formatTime(*st.LastClaimAt)))
	}
	return strings.Join(lines, "\n")
}

// FormatIntent renders a claim intent
func FormatIntent(in *storage.ClaimIntent) string {
	lines := []string{
		fmt.Sprintf("<b>🧾 Intent</b> <code>%s</code>", in.ID),
		"",
		fmt.Sprintf("Wallet: <code>%s</code>", html.EscapeString(in.WalletID)),
		fmt.Sprintf("Status: <b>%s</b>", in.Status),
		fmt.Sprintf("Amount: $%s = %s SOL (%d lamports)", in.EarningsUSD.StringFixed(4), in.AmountSOL.String(), in.Lamports),
		fmt.Sprintf("Rate: $%s via %s", in.SolUSDRate.String(), html.EscapeString(in.RateSource)),
		fmt.Sprintf("Created: %s", formatTime(in.CreatedAt)),
		fmt.Sprintf("Expires: %s", formatTime(in.ExpiresAt)),
	}

	if in.Paying {
		lines = append(lines, "⏳ Payment in progress")
	}
	if in.PayoutSignature != "" {
		lines = append(lines, fmt.Sprintf("Tx: <a href='https://solscan.io/tx/%s'>%s</a>", in.PayoutSignature, in.PayoutSignature))
	}
	if in.PaidAt != nil {
		lines = append(lines, fmt.Sprintf("Paid: %s", formatTime(*in.PaidAt)))
	}
	return strings.Join(lines, "\n")
}

func errorText(err error) string {
	switch {
	case errors.Is(err, apperr.ErrUnknownWallet):
		return "Wallet is not registered"
	case errors.Is(err, apperr.ErrIntentNotFound):
		return "Intent not found"
	}
	return fmt.Sprintf("❌ <code>%s</code>", html.EscapeString(err.Error()))
}

func commandArg(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
