// Package bot is the thin Discord surface over the economy API. It
// parses slash commands, forwards them with the shared service token,
// and formats the replies; every balance rule lives server-side.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"moneta/internal/config"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

type Bot struct {
	cfg     config.BotConfig
	log     *slog.Logger
	session *discordgo.Session
	client  *http.Client

	mu   sync.Mutex
	rand *rand.Rand
}

func New(cfg config.BotConfig, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	return &Bot{
		cfg:     cfg,
		log:     logger,
		session: session,
		client:  &http.Client{Timeout: 15 * time.Second},
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

var commands = []*discordgo.ApplicationCommand{
	{Name: "balance", Description: "Show your cash and card balances"},
	{Name: "daily", Description: "Claim your daily reward and extend the streak"},
	{Name: "work", Description: "Work a shift for some cash"},
	{
		Name:        "deposit",
		Description: "Move cash onto your card, clamped to the bank limit",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "amount", Description: "Amount in coins, or 'all'", Required: true},
		},
	},
	{
		Name:        "withdraw",
		Description: "Move card money back to cash",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "amount", Description: "Amount in coins, or 'all'", Required: true},
		},
	},
	{Name: "collect", Description: "Collect pending business income"},
	{
		Name:        "coinflip",
		Description: "Bet on a coin flip, double or nothing",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "stake", Description: "Stake in coins", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "side", Description: "heads or tails", Required: true},
		},
	},
}

// Run opens the gateway, registers the commands and blocks until the
// context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		b.dispatch(s, i)
	})
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer b.session.Close()

	appID := b.session.State.User.ID
	for _, cmd := range commands {
		if _, err := b.session.ApplicationCommandCreate(appID, b.cfg.GuildID, cmd); err != nil {
			return fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	b.log.Info("bot ready", "commands", len(commands))

	<-ctx.Done()
	return nil
}

func (b *Bot) dispatch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	if userID == "" {
		return
	}
	data := i.ApplicationCommandData()

	var reply string
	var err error
	switch data.Name {
	case "balance":
		reply, err = b.balance(userID)
	case "daily":
		reply, err = b.claim(userID, "daily")
	case "work":
		reply, err = b.claim(userID, "work")
	case "deposit":
		reply, err = b.move(userID, "deposit", optionString(data, "amount"))
	case "withdraw":
		reply, err = b.move(userID, "withdraw", optionString(data, "amount"))
	case "collect":
		reply, err = b.collect(userID)
	case "coinflip":
		reply, err = b.coinflip(userID, optionInt(data, "stake"), optionString(data, "side"))
	default:
		return
	}
	if err != nil {
		b.log.Warn("command failed", "command", data.Name, "user", userID, "err", err)
		reply = err.Error()
	}
	respondErr := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: reply},
	})
	if respondErr != nil {
		b.log.Error("respond failed", "command", data.Name, "err", respondErr)
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func optionString(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name {
			return strings.TrimSpace(opt.StringValue())
		}
	}
	return ""
}

func optionInt(data discordgo.ApplicationCommandInteractionData, name string) int64 {
	for _, opt := range data.Options {
		if opt.Name == name {
			return opt.IntValue()
		}
	}
	return 0
}

type accountPayload struct {
	CashCents      int64 `json:"cash_cents"`
	CardCents      int64 `json:"card_cents"`
	BankLimitCents int64 `json:"bank_limit_cents"`
	DailyStreak    int   `json:"daily_streak"`
}

func (b *Bot) balance(userID string) (string, error) {
	if err := b.call(http.MethodPost, "/v1/accounts/"+userID+"/ensure", nil, nil); err != nil {
		return "", err
	}
	var acct accountPayload
	if err := b.call(http.MethodGet, "/v1/accounts/"+userID, nil, &acct); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cash: %s | Card: %s / %s",
		coins(acct.CashCents), coins(acct.CardCents), coins(acct.BankLimitCents)), nil
}

func (b *Bot) claim(userID, kind string) (string, error) {
	var out struct {
		AmountCents int64 `json:"amount_cents"`
		Streak      int   `json:"streak"`
		CashCents   int64 `json:"cash_cents"`
		Won         bool  `json:"won"`
	}
	if err := b.call(http.MethodPost, "/v1/accounts/"+userID+"/claims/"+kind, map[string]any{}, &out); err != nil {
		return "", err
	}
	if kind == "daily" {
		return fmt.Sprintf("Daily claimed: %s (streak %d). Cash: %s",
			coins(out.AmountCents), out.Streak, coins(out.CashCents)), nil
	}
	return fmt.Sprintf("You earned %s. Cash: %s", coins(out.AmountCents), coins(out.CashCents)), nil
}

func (b *Bot) move(userID, direction, raw string) (string, error) {
	body := map[string]any{}
	if strings.EqualFold(raw, "all") {
		body["all"] = true
	} else {
		amount, err := parseCoins(raw)
		if err != nil {
			return "", err
		}
		body["amount_cents"] = amount
	}
	var out struct {
		MovedCents int64 `json:"moved_cents"`
		CashCents  int64 `json:"cash_cents"`
		CardCents  int64 `json:"card_cents"`
	}
	if err := b.call(http.MethodPost, "/v1/accounts/"+userID+"/"+direction, body, &out); err != nil {
		return "", err
	}
	return fmt.Sprintf("Moved %s. Cash: %s | Card: %s",
		coins(out.MovedCents), coins(out.CashCents), coins(out.CardCents)), nil
}

func (b *Bot) collect(userID string) (string, error) {
	var out struct {
		Hours       int64 `json:"hours"`
		AmountCents int64 `json:"amount_cents"`
		CashCents   int64 `json:"cash_cents"`
	}
	if err := b.call(http.MethodPost, "/v1/accounts/"+userID+"/business/collect", map[string]any{}, &out); err != nil {
		return "", err
	}
	return fmt.Sprintf("Collected %s for %d hours. Cash: %s",
		coins(out.AmountCents), out.Hours, coins(out.CashCents)), nil
}

// coinflipSettlement maps a flip result to the settlement call. The stake
// is never escrowed, so the win payout is the net winnings: a win credits
// the stake, a loss debits it, double-or-nothing either way.
func coinflipSettlement(stakeCents int64, won bool) (outcome string, payoutCents int64) {
	if won {
		return "win", stakeCents
	}
	return "loss", 0
}

// coinflip resolves the flip locally and reports the settled outcome;
// the server enforces stake bounds and balances.
func (b *Bot) coinflip(userID string, stakeCoins int64, side string) (string, error) {
	side = strings.ToLower(side)
	if side != "heads" && side != "tails" {
		return "", fmt.Errorf("side must be heads or tails")
	}
	b.mu.Lock()
	heads := b.rand.Intn(2) == 0
	b.mu.Unlock()
	landed := "tails"
	if heads {
		landed = "heads"
	}
	stakeCents := stakeCoins * 100
	outcome, payout := coinflipSettlement(stakeCents, landed == side)
	var out struct {
		DeltaCents int64 `json:"delta_cents"`
		CashCents  int64 `json:"cash_cents"`
	}
	err := b.call(http.MethodPost, "/v1/accounts/"+userID+"/gambles", map[string]any{
		"game":         "coinflip",
		"stake_cents":  stakeCents,
		"outcome":      outcome,
		"payout_cents": payout,
	}, &out)
	if err != nil {
		return "", err
	}
	if outcome == "win" {
		return fmt.Sprintf("The coin landed %s. You won %s! Cash: %s",
			landed, coins(out.DeltaCents), coins(out.CashCents)), nil
	}
	return fmt.Sprintf("The coin landed %s. You lost %s. Cash: %s",
		landed, coins(-out.DeltaCents), coins(out.CashCents)), nil
}

func (b *Bot) call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, b.cfg.APIBaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.ServiceToken)
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("api returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// coins renders cents as a whole-and-fraction coin amount, dropping the
// fraction when it is zero.
func coins(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	if cents%100 == 0 {
		return fmt.Sprintf("%s%d", sign, cents/100)
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func parseCoins(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	whole, frac, hasFrac := strings.Cut(raw, ".")
	n, err := strconv.ParseUint(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	cents := int64(n) * 100
	if hasFrac {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseUint(frac, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", raw)
		}
		cents += int64(f)
	}
	return cents, nil
}
