package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BotToken string `json:"bot_token"`
	OwnerID  int64  `json:"owner_id"`

	// Force-subscribe gate
	ForceSubChannelID int64  `json:"force_sub_channel_id"`
	ForceSubMessage   string `json:"force_sub_message,omitempty"`
	ChannelInviteLink string `json:"channel_invite_link,omitempty"`

	// If true, user commands are only accepted in group chats (the relay result
	// still goes to the requester's private chat).
	GroupOnly bool `json:"group_only"`

	DataDir    string `json:"data_dir,omitempty"`
	LedgerDSN  string `json:"ledger_dsn,omitempty"`
	LedgerName string `json:"ledger_name,omitempty"`

	// Upper bound for membership lookups, fetches and deliveries (seconds).
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`

	// If true, bot will log debug messages.
	Debug bool `json:"debug,omitempty"`
}

const (
	DefaultForceSubMessage = "Please join our channel to access the bot's features."
	DefaultLedgerName      = "users"
	DefaultTimeoutSeconds  = 120
)

func DefaultDataDir() string {
	if v := os.Getenv("LRB_DATA_DIR"); v != "" {
		return v
	}
	// Preferred system path
	return "/var/lib/leech-relay-bot"
}

func DefaultConfigPath() string {
	if v := os.Getenv("LRB_CONFIG"); v != "" {
		return v
	}
	// Preferred system path
	return "/etc/leech-relay-bot/config.json"
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := Config{GroupOnly: true}
	// 1) Try file
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config json: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// 2) Env fallback / override
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("LRB_BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("LRB_OWNER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.OwnerID = id
		}
	}
	if v := os.Getenv("LRB_FORCE_SUB_CHANNEL"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ForceSubChannelID = id
		}
	}
	if v := os.Getenv("LRB_FORCE_SUB_MESSAGE"); v != "" {
		cfg.ForceSubMessage = v
	}
	if v := os.Getenv("LRB_CHANNEL_INVITE_LINK"); v != "" {
		cfg.ChannelInviteLink = v
	}
	if v := os.Getenv("LRB_GROUP_ONLY"); v != "" {
		cfg.GroupOnly = parseBool(v)
	}
	if v := os.Getenv("LRB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LRB_LEDGER_DSN"); v != "" {
		cfg.LedgerDSN = v
	}
	if v := os.Getenv("LRB_LEDGER_NAME"); v != "" {
		cfg.LedgerName = v
	}
	if v := os.Getenv("LRB_REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("LRB_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}

	// Defaults
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	cfg.DataDir = filepath.Clean(cfg.DataDir)
	if cfg.ForceSubMessage == "" {
		cfg.ForceSubMessage = DefaultForceSubMessage
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = DefaultLedgerName
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultTimeoutSeconds
	}

	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("missing bot_token (set in %s or BOT_TOKEN env)", path)
	}
	if cfg.OwnerID == 0 {
		return Config{}, fmt.Errorf("missing owner_id (set in %s or LRB_OWNER_ID env)", path)
	}
	if cfg.ForceSubChannelID == 0 {
		return Config{}, fmt.Errorf("missing force_sub_channel_id (set in %s or LRB_FORCE_SUB_CHANNEL env)", path)
	}
	return cfg, nil
}

// LedgerPath returns the ledger location: an explicit DSN wins, otherwise the
// ledger database lives under the data dir named after the configured namespace.
func (c Config) LedgerPath() string {
	if c.LedgerDSN != "" {
		return c.LedgerDSN
	}
	return filepath.Join(c.DataDir, c.LedgerName+".db")
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}
