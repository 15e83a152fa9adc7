package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arashpm/leech-relay-bot/internal/broadcast"
	"github.com/arashpm/leech-relay-bot/internal/relay"
)

func (a *App) handleMessage(msg tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			a.onStart(msg)
		case "help":
			a.onHelp(msg)
		case "leech":
			a.onLeech(msg)
		case "broadcast":
			a.onBroadcast(msg)
		case "users":
			a.onUsers(msg)
		case "backup":
			a.onBackup(msg)
		default:
			a.reply(msg, "Unknown command. Try /help.")
		}
		return
	}

	// A bare URL message is a leech request too.
	if u, ok := relay.ExtractFirstURL(msg.Text); ok {
		if !a.passGate(msg) {
			return
		}
		a.startLeech(msg, u)
	}
}

// passGate runs the access gate and sends the denial prompt itself.
// Returns true when the command may proceed.
func (a *App) passGate(msg tgbotapi.Message) bool {
	ctx, cancel := a.opCtx()
	defer cancel()

	res := a.gate.Check(ctx, msg.Chat.Type, msg.From.ID)
	if res.Allowed {
		return true
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, res.Prompt)
	reply.ReplyToMessageID = msg.MessageID
	if res.NeedsJoin && a.cfg.ChannelInviteLink != "" {
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Join channel", a.cfg.ChannelInviteLink),
			),
		)
	}
	_, _ = a.bot.Send(reply)
	return false
}

func (a *App) onStart(msg tgbotapi.Message) {
	if !a.passGate(msg) {
		return
	}

	ctx, cancel := a.opCtx()
	defer cancel()
	// First-contact bookkeeping. The delivery address is the user's private
	// chat, which for Telegram equals the user id.
	if err := a.ledger.Upsert(ctx, msg.From.ID, msg.From.ID); err != nil {
		log.Printf("ledger upsert %d: %v", msg.From.ID, err)
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID,
		"Welcome! Send /leech <url> (or just a link) and I will fetch the file and send it to your private chat.")
	reply.ReplyToMessageID = msg.MessageID
	if a.cfg.ChannelInviteLink != "" {
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Our channel", a.cfg.ChannelInviteLink),
			),
		)
	}
	_, _ = a.bot.Send(reply)
}

func (a *App) onHelp(msg tgbotapi.Message) {
	if !a.passGate(msg) {
		return
	}
	a.reply(msg, "/leech <url> — download a file and receive it in private chat.\n"+
		"You can also reply /leech to a message containing a link, or just send a link.\n"+
		"/start — register and say hello.")
}

func (a *App) onLeech(msg tgbotapi.Message) {
	if !a.passGate(msg) {
		return
	}

	// Explicit argument wins; the replied-to message is only scanned when the
	// command carries none.
	u, ok := relay.ExtractFirstURL(msg.CommandArguments())
	if !ok && msg.ReplyToMessage != nil {
		r := msg.ReplyToMessage
		u, ok = relay.ExtractFirstURL(r.Text)
		if !ok {
			u, ok = relay.ExtractFirstURL(r.Caption)
		}
	}
	if !ok {
		a.reply(msg, "Send /leech <url>, or reply /leech to a message containing a link.")
		return
	}
	a.startLeech(msg, u)
}

func (a *App) startLeech(msg tgbotapi.Message, sourceURL string) {
	ctx, cancel := a.opCtx()
	defer cancel()
	if err := a.ledger.Upsert(ctx, msg.From.ID, msg.From.ID); err != nil {
		log.Printf("ledger upsert %d: %v", msg.From.ID, err)
	}

	status := tgbotapi.NewMessage(msg.Chat.ID, "⏳ Downloading…")
	status.ReplyToMessageID = msg.MessageID
	sent, err := a.bot.Send(status)
	if err != nil {
		log.Printf("leech status message: %v", err)
		return
	}

	// The update loop must not wait for a large download.
	go a.runLeech(msg.From.ID, msg.Chat.ID, sent.MessageID, sourceURL)
}

func (a *App) runLeech(userID, chatID int64, statusID int, sourceURL string) {
	ctx, cancel := a.opCtx()
	defer cancel()

	progress := func(written int64) {
		// Courtesy update; a failed edit never stalls the pipeline.
		a.editStatus(chatID, statusID, fmt.Sprintf("⏳ %s downloaded so far…", humanize.Bytes(uint64(written))))
	}

	d, err := a.relay.Fetch(ctx, sourceURL, progress)
	if err != nil {
		a.editStatus(chatID, statusID, relayFailureText(err))
		return
	}
	defer d.Discard()

	// The file goes to the requester's private chat only, never to the group.
	doc := tgbotapi.NewDocument(userID, tgbotapi.FilePath(d.Path))
	doc.Caption = d.Name
	if _, err := a.bot.Send(doc); err != nil {
		log.Printf("deliver %s to %d: %v", d.Name, userID, err)
		a.editStatus(chatID, statusID, "❌ Could not deliver the file. Open a private chat with me and /start first.")
		return
	}

	opCtx, opCancel := a.opCtx()
	defer opCancel()
	if err := a.ledger.IncrementDownloads(opCtx, userID); err != nil {
		log.Printf("count download %d: %v", userID, err)
	}

	a.editStatus(chatID, statusID, fmt.Sprintf("✅ Sent %s (%s) to your private chat.", d.Name, humanize.Bytes(uint64(d.Size))))
}

func relayFailureText(err error) string {
	if errors.Is(err, relay.ErrInvalidLink) {
		return "❌ That does not look like a valid http(s) link."
	}
	var fe *relay.FetchError
	if errors.As(err, &fe) {
		return fmt.Sprintf("❌ Download failed: the server answered HTTP %d.", fe.StatusCode)
	}
	return "❌ Download failed: " + err.Error()
}

func (a *App) onBroadcast(msg tgbotapi.Message) {
	if !a.isOwner(msg.From.ID) {
		a.reply(msg, "⛔️ Only the bot owner can run this command.")
		return
	}

	p, err := payloadFromMessage(msg)
	if err != nil {
		a.reply(msg, "Usage: /broadcast <text>, or reply /broadcast to a photo, video, document or text message.")
		return
	}

	a.reply(msg, "📣 Broadcast started…")
	rep, err := a.caster.Run(context.Background(), p)
	if err != nil {
		a.reply(msg, "❌ Broadcast failed: "+err.Error())
		return
	}
	a.reply(msg, fmt.Sprintf(
		"📣 Broadcast finished.\nEligible: %d\nDelivered: %d\nFailed: %d\n\nLedger now: %d users, %d blocked, %d deleted",
		rep.Total, rep.Succeeded, rep.Failed,
		rep.Counts.Total, rep.Counts.Blocked, rep.Counts.Deleted))
}

// payloadFromMessage builds the broadcast payload: an explicit text argument,
// or exactly one media item from the replied-to message. Never both.
func payloadFromMessage(msg tgbotapi.Message) (broadcast.Payload, error) {
	if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
		return broadcast.Payload{Kind: broadcast.KindText, Text: args}, nil
	}
	r := msg.ReplyToMessage
	if r == nil {
		return broadcast.Payload{}, errors.New("no payload")
	}
	switch {
	case len(r.Photo) > 0:
		ph := r.Photo[len(r.Photo)-1]
		return broadcast.Payload{Kind: broadcast.KindPhoto, FileID: ph.FileID, Caption: r.Caption}, nil
	case r.Video != nil:
		return broadcast.Payload{Kind: broadcast.KindVideo, FileID: r.Video.FileID, Caption: r.Caption}, nil
	case r.Document != nil:
		return broadcast.Payload{Kind: broadcast.KindDocument, FileID: r.Document.FileID, Caption: r.Caption}, nil
	case strings.TrimSpace(r.Text) != "":
		return broadcast.Payload{Kind: broadcast.KindText, Text: r.Text}, nil
	}
	return broadcast.Payload{}, errors.New("unsupported payload")
}

func (a *App) onUsers(msg tgbotapi.Message) {
	if !a.isOwner(msg.From.ID) {
		a.reply(msg, "⛔️ Only the bot owner can run this command.")
		return
	}

	ctx, cancel := a.opCtx()
	defer cancel()
	c, err := a.ledger.Counts(ctx)
	if err != nil {
		a.reply(msg, "❌ Count failed: "+err.Error())
		return
	}
	active := c.Total - c.Blocked - c.Deleted
	a.reply(msg, fmt.Sprintf("👥 Users: %d\nActive: %d\nBlocked: %d\nDeleted: %d", c.Total, active, c.Blocked, c.Deleted))
}

func (a *App) onBackup(msg tgbotapi.Message) {
	if !a.isOwner(msg.From.ID) {
		a.reply(msg, "⛔️ Only the bot owner can run this command.")
		return
	}

	tmp := filepath.Join(a.dataDir, fmt.Sprintf("backup_%d_%s.db", time.Now().Unix(), a.cfg.LedgerName))
	ctx, cancel := a.opCtx()
	defer cancel()
	if err := a.ledger.BackupTo(ctx, tmp); err != nil {
		a.reply(msg, "❌ Backup failed: "+err.Error())
		return
	}

	doc := tgbotapi.NewDocument(msg.From.ID, tgbotapi.FilePath(tmp))
	doc.Caption = "📦 Ledger backup"
	_, _ = a.bot.Send(doc)
	_ = os.Remove(tmp)
}

func (a *App) editStatus(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	_, _ = a.bot.Request(edit)
}

func (a *App) reply(msg tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID
	_, _ = a.bot.Send(reply)
}
