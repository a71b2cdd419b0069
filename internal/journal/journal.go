// Package journal keeps an append-only history of auction events in SQLite.
//
// The snapshot store only knows the current state; the journal answers
// "who bid what, when" for a token across past auctions. It uses the pure-Go
// modernc.org/sqlite driver, so no CGo is needed.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"

	"maker-auction/internal/auction"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          TEXT PRIMARY KEY,
    seq         INTEGER NOT NULL,
    kind        TEXT    NOT NULL,
    at          INTEGER NOT NULL,
    token       TEXT    NOT NULL DEFAULT '',
    bidder      TEXT    NOT NULL DEFAULT '',
    prev_bidder TEXT    NOT NULL DEFAULT '',
    receiver    TEXT    NOT NULL DEFAULT '',
    amount      TEXT    NOT NULL DEFAULT '',
    refund      TEXT    NOT NULL DEFAULT '',
    reward      TEXT    NOT NULL DEFAULT '',
    pair_token  TEXT    NOT NULL DEFAULT '',
    pair_amount TEXT    NOT NULL DEFAULT '',
    whitelisted INTEGER NOT NULL DEFAULT 0,
    min_ttl     INTEGER NOT NULL DEFAULT 0,
    max_ttl     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_token ON events(token, seq);
CREATE INDEX IF NOT EXISTS idx_events_pair  ON events(pair_token, seq);
CREATE INDEX IF NOT EXISTS idx_events_seq   ON events(seq DESC);
`

// Entry is one journaled event.
type Entry struct {
	ID string
	auction.Event
}

// Journal is the SQLite-backed event log.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path. Use ":memory:" for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores evt and returns its generated ID.
func (j *Journal) Append(ctx context.Context, evt auction.Event) (string, error) {
	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (id, seq, kind, at, token, bidder, prev_bidder, receiver,
			amount, refund, reward, pair_token, pair_amount, whitelisted, min_ttl, max_ttl)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(evt.Type), evt.At.UnixNano(),
		addr(evt.Token), addr(evt.Bidder), addr(evt.PrevBidder), addr(evt.Receiver),
		dec(evt.Amount), dec(evt.Refund), dec(evt.Reward),
		addr(evt.PairToken), dec(evt.PairAmount),
		evt.Whitelisted, unix(evt.MinTTL), unix(evt.MaxTTL),
	)
	if err != nil {
		return "", fmt.Errorf("journal: append %s: %w", evt.Type, err)
	}
	return id, nil
}

// History returns events for tok in the order they were appended, including
// unwinds where tok was the second token of the pair. A zero token selects
// every event. limit <= 0 means no limit; otherwise the most
// recent limit events are returned.
func (j *Journal) History(ctx context.Context, tok common.Address, limit int) ([]Entry, error) {
	q := `SELECT id, kind, at, token, bidder, prev_bidder, receiver, amount, refund,
			reward, pair_token, pair_amount, whitelisted, min_ttl, max_ttl
		FROM events`
	var args []any
	if tok != (common.Address{}) {
		q += ` WHERE token = ? OR pair_token = ?`
		args = append(args, addr(tok), addr(tok))
	}
	q += ` ORDER BY seq DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                          Entry
			kind, token, bidder, prev, recv, pairToken string
			amount, refund, reward, pairAmount         string
			at, minTTL, maxTTL                         int64
		)
		if err := rows.Scan(&e.ID, &kind, &at, &token, &bidder, &prev, &recv,
			&amount, &refund, &reward, &pairToken, &pairAmount,
			&e.Whitelisted, &minTTL, &maxTTL); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Type = auction.EventType(kind)
		e.At = time.Unix(0, at).UTC()
		e.Token = common.HexToAddress(token)
		e.Bidder = common.HexToAddress(bidder)
		e.PrevBidder = common.HexToAddress(prev)
		e.Receiver = common.HexToAddress(recv)
		e.PairToken = common.HexToAddress(pairToken)
		if e.Amount, err = parseDec(amount); err != nil {
			return nil, err
		}
		if e.Refund, err = parseDec(refund); err != nil {
			return nil, err
		}
		if e.Reward, err = parseDec(reward); err != nil {
			return nil, err
		}
		if e.PairAmount, err = parseDec(pairAmount); err != nil {
			return nil, err
		}
		e.MinTTL = fromUnix(minTTL)
		e.MaxTTL = fromUnix(maxTTL)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}

	// Rows come newest first so LIMIT keeps the latest; flip to append order.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Count returns how many events have been journaled.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

func addr(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func parseDec(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("journal: parse amount %q: %w", s, err)
	}
	return v, nil
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}
