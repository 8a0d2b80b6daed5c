package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/registry"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

// Fixed replies
const (
	MsgNotFound       = "❌ Token not found."
	MsgUpstream       = "⚠️ Market data is unavailable right now, please try again later."
	MsgInvalidAddress = "❌ Invalid address. Expected 0x followed by 40 hex characters."
	MsgInvalidQuery   = "❌ Send a contract address (0x followed by 40 hex characters) or a $TICKER."
	MsgDuplicate      = "ℹ️ This wallet is already being tracked."
	MsgRateLimited    = "⏳ Slow down a little, try again in a minute."
	MsgInternal       = "⚠️ Something went wrong, please try again."

	UsageScan   = "Usage: /scan <address or $TICKER>"
	UsageAdd    = "Usage: /add <address> <label>"
	UsageRemove = "Usage: /remove <address>"
)

const refreshAction = "refresh"

// Risk thresholds
const (
	lowLiquidityUSD   = 10_000
	newPairAge        = 24 * time.Hour
	minLiquidityRatio = 0.05
)

// Formatter renders scan results, alerts and wallet lists as Markdown
type Formatter struct {
	referral config.ReferralConfig
	explorer func(chain, hash string) string
	chain    string
	now      func() time.Time
}

// NewFormatter creates a new message formatter
func NewFormatter(cfg *config.Config) *Formatter {
	return &Formatter{
		referral: cfg.Referral,
		explorer: cfg.ExplorerTxURL,
		chain:    cfg.Explorer.Chain,
		now:      time.Now,
	}
}

// Greeting is the /start reply
func (f *Formatter) Greeting() string {
	return "👋 *Welcome to Elite Degen!*\n\n" +
		"Paste a token contract address or a $TICKER and I'll scan it.\n\n" +
		f.Help()
}

// Help lists the commands
func (f *Formatter) Help() string {
	return "*Commands*\n" +
		"/scan <address or $TICKER> - scan a token\n" +
		"/add <address> <label> - track a wallet\n" +
		"/remove <address> - stop tracking a wallet\n" +
		"/list - show tracked wallets\n" +
		"/help - this message"
}

// FormatScan renders a scan result and its buttons
func (f *Formatter) FormatScan(res *models.ScanResult) (string, tgbotapi.InlineKeyboardMarkup) {
	p := res.Pair
	now := f.now()

	var b strings.Builder
	fmt.Fprintf(&b, "🪙 %s (%s) on %s\n", bold(orDash(p.BaseToken.Name)), esc(orDash(p.BaseToken.Symbol)), esc(strings.ToUpper(orDash(p.ChainID))))
	fmt.Fprintf(&b, "`%s`\n\n", p.BaseToken.Address)

	fmt.Fprintf(&b, "💰 *Price:* $%s\n", formatPriceCompact(p.PriceUSD))
	fmt.Fprintf(&b, "📊 *MC:* $%s | *FDV:* $%s\n", formatLargeNumber(p.MarketCap), formatLargeNumber(p.FDV))
	fmt.Fprintf(&b, "💧 *Liquidity:* $%s\n", formatLargeNumber(p.Liquidity.USD))
	fmt.Fprintf(&b, "📈 *Vol 24h:* $%s\n", formatLargeNumber(p.Volume.H24))
	fmt.Fprintf(&b, "📉 *Change:* 5m %s | 1h %s | 6h %s | 24h %s\n",
		formatChange(p.PriceChange.M5),
		formatChange(p.PriceChange.H1),
		formatChange(p.PriceChange.H6),
		formatChange(p.PriceChange.H24),
	)
	fmt.Fprintf(&b, "🔁 *24h Txns:* %s buys / %s sells\n", humanize.Comma(p.Txns24h.Buys), humanize.Comma(p.Txns24h.Sells))
	fmt.Fprintf(&b, "⏱ *Age:* %s\n", FormatAge(p.Age(now)))
	fmt.Fprintf(&b, "🏦 *DEX:* %s\n", esc(orDash(p.DexID)))
	fmt.Fprintf(&b, "💎 %s\n", f.formatPaid(res.Paid, now))
	fmt.Fprintf(&b, "🔗 *Socials:* %s\n\n", formatSocials(res.Profile))

	if flags := RiskFlags(res, now); len(flags) > 0 {
		fmt.Fprintf(&b, "⚠️ *Risk:* %s", strings.Join(flags, ", "))
	} else {
		b.WriteString("✅ No obvious flags")
	}

	if res.Cached {
		fmt.Fprintf(&b, "\n\n_cached %s_", humanize.RelTime(res.FetchedAt, now, "ago", "from now"))
	}

	return b.String(), f.ScanKeyboard(p.ChainID, p.BaseToken.Address, p.URL)
}

// ScanKeyboard builds the refresh, chart and referral buttons
func (f *Formatter) ScanKeyboard(chain, address, chartURL string) tgbotapi.InlineKeyboardMarkup {
	top := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", RefreshData(chain, address)),
	}
	if chartURL != "" {
		top = append(top, tgbotapi.NewInlineKeyboardButtonURL("📊 Chart", chartURL))
	}

	rows := [][]tgbotapi.InlineKeyboardButton{top}
	if link := f.ReferralURL(chain, address); link != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(f.referralLabel(), link),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ReferralURL fills the referral template. Without placeholders the address
// is appended.
func (f *Formatter) ReferralURL(chain, address string) string {
	tmpl := f.referral.LinkTemplate
	if tmpl == "" {
		return ""
	}
	if strings.Contains(tmpl, "{address}") || strings.Contains(tmpl, "{chain}") {
		return strings.NewReplacer("{address}", address, "{chain}", chain).Replace(tmpl)
	}
	return tmpl + address
}

func (f *Formatter) referralLabel() string {
	if f.referral.ButtonLabel == "" {
		return "Buy"
	}
	return f.referral.ButtonLabel
}

func (f *Formatter) formatPaid(status models.PaidStatus, now time.Time) string {
	switch status.State {
	case models.PaidStatePaid:
		if status.At.IsZero() {
			return "*Dex Paid:* 🟢"
		}
		return fmt.Sprintf("*Dex Paid:* 🟢 (%s UTC, %s)",
			status.At.UTC().Format("2006-01-02 15:04"),
			humanize.RelTime(status.At, now, "ago", "from now"),
		)
	case models.PaidStateNotPaid:
		return "*Dex Paid:* 🔴"
	default:
		return "*Dex Paid:* ⚪ unknown"
	}
}

// FormatAlert renders a wallet activity notification
func (f *Formatter) FormatAlert(m registry.Match, tx *models.PendingTx) string {
	to := "contract creation"
	if tx.To != "" {
		to = "`" + tx.To + "`"
	}

	direction := "📤 Outgoing"
	if !strings.EqualFold(tx.From, m.Entry.Address) {
		direction = "📥 Incoming"
	}

	return fmt.Sprintf("🚨 *Wallet Alert:* %s\n%s pending transaction\n\n"+
		"*Tx:* `%s`\n"+
		"*From:* `%s`\n"+
		"*To:* %s\n"+
		"*Value:* %s ETH\n\n"+
		"[View on explorer](%s)",
		esc(m.Entry.Label),
		direction,
		tx.Hash,
		tx.From,
		to,
		tx.ValueEther(),
		f.explorer(f.chain, tx.Hash),
	)
}

// FormatWalletList renders the tracked wallets of one user
func (f *Formatter) FormatWalletList(entries []registry.Entry) string {
	if len(entries) == 0 {
		return "📭 You are not tracking any wallets yet.\n" + UsageAdd
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👀 *Tracked wallets* (%d)\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "\n%d. %s\n`%s`", i+1, bold(e.Label), e.Address)
	}
	return b.String()
}

// FormatWalletAdded confirms an /add
func (f *Formatter) FormatWalletAdded(e registry.Entry) string {
	return fmt.Sprintf("✅ Tracking %s\n`%s`", bold(e.Label), e.Address)
}

// FormatWalletRemoved confirms a /remove
func (f *Formatter) FormatWalletRemoved(address string, removed bool) string {
	if !removed {
		return fmt.Sprintf("ℹ️ `%s` was not being tracked.", address)
	}
	return fmt.Sprintf("🗑 Stopped tracking `%s`", address)
}

// RiskFlags returns the heuristic warnings for a scan
func RiskFlags(res *models.ScanResult, now time.Time) []string {
	p := res.Pair
	var flags []string

	if p.Liquidity.USD < lowLiquidityUSD {
		flags = append(flags, "low liquidity")
	}
	if age := p.Age(now); age > 0 && age < newPairAge {
		flags = append(flags, "new pair")
	}
	if p.MarketCap > 0 && p.Liquidity.USD/p.MarketCap < minLiquidityRatio {
		flags = append(flags, "thin liquidity vs market cap")
	}
	if !res.Profile.HasSocials() {
		flags = append(flags, "no socials")
	}
	if res.Paid.State == models.PaidStateNotPaid {
		flags = append(flags, "dex not paid")
	}
	return flags
}

// FormatAge buckets a pair age into minutes, hours, days or months
func FormatAge(d time.Duration) string {
	switch {
	case d <= 0:
		return "unknown"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dmo", int(d.Hours()/(24*30)))
	}
}

// RefreshData encodes the refresh button payload
func RefreshData(chain, address string) string {
	return refreshAction + "|" + chain + "|" + address
}

// ParseRefreshData decodes a refresh button payload
func ParseRefreshData(data string) (chain, address string, ok bool) {
	parts := strings.Split(data, "|")
	switch {
	case len(parts) == 3 && parts[0] == refreshAction:
		return parts[1], parts[2], parts[2] != ""
	case len(parts) == 2 && parts[0] == refreshAction:
		// refresh|<address> without a chain
		return "", parts[1], parts[1] != ""
	default:
		return "", "", false
	}
}

func formatSocials(p *models.TokenProfile) string {
	if !p.HasSocials() {
		return "none"
	}
	links := make([]string, 0, len(p.Websites)+len(p.Socials))
	for _, l := range append(append([]models.Link{}, p.Websites...), p.Socials...) {
		links = append(links, fmt.Sprintf("[%s](%s)", esc(l.Label), l.URL))
	}
	return strings.Join(links, " | ")
}

func formatChange(pct float64) string {
	return fmt.Sprintf("%+.2f%%", pct)
}

// formatLargeNumber formats a large number with K, M, B, T suffixes
func formatLargeNumber(n float64) string {
	if n == 0 {
		return "0"
	}
	if n >= 1e12 {
		return fmt.Sprintf("%.2fT", n/1e12)
	}
	if n >= 1e9 {
		return fmt.Sprintf("%.2fB", n/1e9)
	}
	if n >= 1e6 {
		return fmt.Sprintf("%.2fM", n/1e6)
	}
	if n >= 1e3 {
		return fmt.Sprintf("%.2fK", n/1e3)
	}
	return fmt.Sprintf("%.2f", n)
}

// formatPriceCompact formats a price with precision that keeps four
// significant digits on sub-cent prices
func formatPriceCompact(price decimal.Decimal) string {
	switch {
	case price.IsZero():
		return "0"
	case price.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return humanize.CommafWithDigits(price.InexactFloat64(), 2)
	case price.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return price.StringFixed(4)
	case price.GreaterThanOrEqual(decimal.New(1, -4)):
		return price.StringFixed(6)
	}
	for places := int32(5); places < 30; places++ {
		if !price.Truncate(places).IsZero() {
			return price.Truncate(places + 3).String()
		}
	}
	return price.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// bold wraps s in bold entities. Markdown escapes are not allowed inside an
// entity, so the entity is closed around each escaped character.
func bold(s string) string {
	var b, run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			b.WriteString("*" + run.String() + "*")
			run.Reset()
		}
	}
	for _, r := range s {
		if strings.ContainsRune("_*`[", r) {
			flush()
			b.WriteString(esc(string(r)))
			continue
		}
		run.WriteRune(r)
	}
	flush()
	return b.String()
}
