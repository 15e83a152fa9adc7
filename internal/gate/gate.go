// Package gate decides whether a user may run bot commands at all.
// Membership is looked up fresh on every call; a lookup that fails denies
// access (fail closed), never the other way around.
package gate

import "context"

// Status is a user's standing in the force-subscribe channel, as reported by
// the messaging service.
type Status string

const (
	StatusMember        Status = "member"
	StatusAdministrator Status = "administrator"
	StatusCreator       Status = "creator"
	StatusRestricted    Status = "restricted"
	StatusLeft          Status = "left"
	StatusKicked        Status = "kicked"
	StatusUnknown       Status = "unknown"
)

// Allows reports whether a status passes the subscribed predicate.
func Allows(s Status) bool {
	switch s {
	case StatusMember, StatusAdministrator, StatusCreator:
		return true
	}
	return false
}

// Oracle answers membership queries against the external messaging service.
type Oracle interface {
	Status(ctx context.Context, channelID, userID int64) (Status, error)
}

type Config struct {
	ChannelID int64
	// Prompt shown when the user is not subscribed.
	Prompt string
	// When GroupOnly is set, commands arriving from a private chat are denied
	// with GroupPrompt before the oracle is consulted.
	GroupOnly   bool
	GroupPrompt string
}

type Result struct {
	Allowed bool
	// Prompt is the user-visible denial message; empty when Allowed.
	Prompt string
	// NeedsJoin marks denials that a join-channel button can fix.
	NeedsJoin bool
}

type Gate struct {
	oracle Oracle
	cfg    Config
}

func New(oracle Oracle, cfg Config) *Gate {
	return &Gate{oracle: oracle, cfg: cfg}
}

// Check runs the full gate: chat-context pre-check, then one membership
// lookup. No retries; the next command retries the whole gate fresh.
func (g *Gate) Check(ctx context.Context, chatType string, userID int64) Result {
	if g.cfg.GroupOnly && chatType == "private" {
		return Result{Prompt: g.cfg.GroupPrompt}
	}
	status, err := g.oracle.Status(ctx, g.cfg.ChannelID, userID)
	if err != nil {
		// Network error, missing permission, unreachable channel: all denied.
		return Result{Prompt: g.cfg.Prompt, NeedsJoin: true}
	}
	if !Allows(status) {
		return Result{Prompt: g.cfg.Prompt, NeedsJoin: true}
	}
	return Result{Allowed: true}
}
