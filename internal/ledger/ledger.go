package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger is the persistent per-user record store. Every operation is a
// single-record atomic statement, so handlers may run concurrently.
type Ledger struct {
	sql *sql.DB
}

type UserRecord struct {
	UserID        int64
	ChatID        int64
	Blocked       bool
	Deleted       bool
	DownloadCount int64
}

type Counts struct {
	Total   int
	Blocked int
	Deleted int
}

// ErrNotFound is returned by Get for unknown users.
var ErrNotFound = errors.New("ledger: user not found")

func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Reasonable defaults
	sqldb.SetMaxOpenConns(1) // SQLite best practice for embedded use
	sqldb.SetConnMaxLifetime(0)

	l := &Ledger{sql: sqldb}
	if err := l.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.sql.Close()
}

func (l *Ledger) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			blocked INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			download_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_flags ON users(blocked, deleted);`,
	}
	for _, s := range stmts {
		if _, err := l.sql.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Upsert records first contact with a user, or refreshes the chat address on
// later contacts. Blocked/deleted flags and counters are left untouched.
func (l *Ledger) Upsert(ctx context.Context, userID, chatID int64) error {
	now := time.Now().Unix()
	_, err := l.sql.ExecContext(ctx,
		`INSERT INTO users(user_id,chat_id,blocked,deleted,download_count,created_at,updated_at)
		 VALUES(?,?,0,0,0,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET chat_id=excluded.chat_id, updated_at=excluded.updated_at`,
		userID, chatID, now, now)
	return err
}

func (l *Ledger) Get(ctx context.Context, userID int64) (UserRecord, error) {
	var r UserRecord
	var blocked, deleted int
	err := l.sql.QueryRowContext(ctx,
		`SELECT user_id,chat_id,blocked,deleted,download_count FROM users WHERE user_id=?`, userID).
		Scan(&r.UserID, &r.ChatID, &blocked, &deleted, &r.DownloadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	r.Blocked = blocked == 1
	r.Deleted = deleted == 1
	return r, nil
}

func (l *Ledger) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	return l.setFlag(ctx, "blocked", userID, blocked)
}

func (l *Ledger) SetDeleted(ctx context.Context, userID int64, deleted bool) error {
	return l.setFlag(ctx, "deleted", userID, deleted)
}

func (l *Ledger) setFlag(ctx context.Context, col string, userID int64, v bool) error {
	val := 0
	if v {
		val = 1
	}
	_, err := l.sql.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s=?, updated_at=? WHERE user_id=?`, col),
		val, time.Now().Unix(), userID)
	return err
}

func (l *Ledger) IncrementDownloads(ctx context.Context, userID int64) error {
	_, err := l.sql.ExecContext(ctx,
		`UPDATE users SET download_count=download_count+1, updated_at=? WHERE user_id=?`,
		time.Now().Unix(), userID)
	return err
}

// Counts derives aggregates from the store at call time. There are no
// in-memory counters anywhere; this is the single source of truth.
func (l *Ledger) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := l.sql.QueryRowContext(ctx,
		`SELECT COUNT(1),
		        COALESCE(SUM(blocked),0),
		        COALESCE(SUM(deleted),0)
		 FROM users`).
		Scan(&c.Total, &c.Blocked, &c.Deleted)
	if err != nil {
		return Counts{}, err
	}
	return c, nil
}

// ScanEligible visits every record with blocked=0 and deleted=0, one pass.
// fn must not write back to the ledger while the scan is running; collect
// first if mutations are needed (the store runs on a single connection).
func (l *Ledger) ScanEligible(ctx context.Context, fn func(UserRecord) error) error {
	rows, err := l.sql.QueryContext(ctx,
		`SELECT user_id,chat_id,download_count FROM users WHERE blocked=0 AND deleted=0 ORDER BY user_id ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r UserRecord
		if err := rows.Scan(&r.UserID, &r.ChatID, &r.DownloadCount); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
