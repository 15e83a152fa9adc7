// Package broadcast fans a payload out to every eligible ledger record,
// best-effort and sequential. One recipient failing never aborts the loop;
// permanently unreachable recipients are flagged in the ledger so later runs
// skip them.
package broadcast

import (
	"context"
	"fmt"
	"log"

	"github.com/arashpm/leech-relay-bot/internal/ledger"
)

type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Payload is either plain text or exactly one media reference.
type Payload struct {
	Kind    Kind
	Text    string
	FileID  string
	Caption string
}

// Sender delivers one payload to one chat address.
type Sender interface {
	Send(ctx context.Context, chatID int64, p Payload) error
}

// Failure classifies a delivery error.
type Failure int

const (
	// FailureTransient: counted, never recorded in the ledger.
	FailureTransient Failure = iota
	// FailureBlocked: recipient permanently unreachable (blocked the bot,
	// chat not found). Record is flagged blocked.
	FailureBlocked
	// FailureGone: the account no longer exists. Record is flagged deleted.
	FailureGone
)

// Classifier maps a delivery error to a Failure. A nil classifier treats
// every failure as transient.
type Classifier func(error) Failure

type Report struct {
	Total     int
	Succeeded int
	Failed    int
	// Counts are read after the loop, so mutations made by this very run are
	// already reflected.
	Counts ledger.Counts
}

type Broadcaster struct {
	ledger   *ledger.Ledger
	sender   Sender
	classify Classifier
}

func New(l *ledger.Ledger, s Sender, c Classifier) *Broadcaster {
	if c == nil {
		c = func(error) Failure { return FailureTransient }
	}
	return &Broadcaster{ledger: l, sender: s, classify: c}
}

// Run attempts delivery to every record with blocked=false and deleted=false.
// Authorization is the caller's job; Run itself never checks identities.
func (b *Broadcaster) Run(ctx context.Context, p Payload) (Report, error) {
	// Collect first: flag updates below must not run under the open scan
	// (the ledger serializes on one connection).
	var targets []ledger.UserRecord
	err := b.ledger.ScanEligible(ctx, func(r ledger.UserRecord) error {
		targets = append(targets, r)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("scan recipients: %w", err)
	}

	rep := Report{Total: len(targets)}
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := b.sender.Send(ctx, t.ChatID, p); err != nil {
			rep.Failed++
			switch b.classify(err) {
			case FailureBlocked:
				if uerr := b.ledger.SetBlocked(ctx, t.UserID, true); uerr != nil {
					log.Printf("broadcast: flag blocked %d: %v", t.UserID, uerr)
				}
			case FailureGone:
				if uerr := b.ledger.SetDeleted(ctx, t.UserID, true); uerr != nil {
					log.Printf("broadcast: flag deleted %d: %v", t.UserID, uerr)
				}
			}
			continue
		}
		rep.Succeeded++
	}

	counts, err := b.ledger.Counts(ctx)
	if err != nil {
		return rep, fmt.Errorf("count ledger: %w", err)
	}
	rep.Counts = counts
	return rep, nil
}
