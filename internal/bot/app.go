package bot

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arashpm/leech-relay-bot/internal/broadcast"
	"github.com/arashpm/leech-relay-bot/internal/config"
	"github.com/arashpm/leech-relay-bot/internal/gate"
	"github.com/arashpm/leech-relay-bot/internal/ledger"
	"github.com/arashpm/leech-relay-bot/internal/relay"
)

type App struct {
	cfg    config.Config
	ledger *ledger.Ledger

	bot *tgbotapi.BotAPI

	gate   *gate.Gate
	relay  *relay.Pipeline
	caster *broadcast.Broadcaster

	dataDir string
}

func New(cfg config.Config) (*App, error) {
	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, err
	}
	l, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, err
	}

	// tgbotapi takes no per-call context; the client timeout bounds every
	// API call, so a stalled connection cannot hang the update loop.
	b, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint,
		&http.Client{Timeout: cfg.RequestTimeout()})
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	b.Debug = cfg.Debug

	app := &App{
		cfg:     cfg,
		ledger:  l,
		bot:     b,
		dataDir: dataDir,
	}
	app.gate = gate.New(&chatMemberOracle{bot: b}, gate.Config{
		ChannelID:   cfg.ForceSubChannelID,
		Prompt:      cfg.ForceSubMessage,
		GroupOnly:   cfg.GroupOnly,
		GroupPrompt: "Please use the bot only through the group.",
	})
	app.relay = relay.New(filepath.Join(dataDir, "leech"), cfg.RequestTimeout())
	app.caster = broadcast.New(l, &telegramSender{bot: b}, classifyDelivery)
	return app, nil
}

func (a *App) Close() {
	_ = a.ledger.Close()
}

// Stop ends the update loop; Run returns once the current poll finishes.
func (a *App) Stop() {
	a.bot.StopReceivingUpdates()
}

func (a *App) Run() error {
	log.Printf("Bot authorized as @%s", a.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := a.bot.GetUpdatesChan(u)

	for upd := range updates {
		a.handleUpdate(upd)
	}
	return nil
}

func (a *App) handleUpdate(upd tgbotapi.Update) {
	if upd.Message != nil {
		a.handleMessage(*upd.Message)
	}
}

// opCtx bounds one external call with the configured timeout.
func (a *App) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.RequestTimeout())
}

func (a *App) isOwner(userID int64) bool {
	return userID == a.cfg.OwnerID
}
