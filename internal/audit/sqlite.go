package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/yourorg/agent-bank/internal/types"
)

// SQLiteRecorder persists the journal to a SQLite database
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets readers query the journal while the server writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logrus.WithField("path", dbPath).Info("Audit journal opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			agent        TEXT,
			actor        TEXT,
			counterparty TEXT,
			amount       INTEGER,
			fee          INTEGER,
			period_spend INTEGER,
			risk_score   INTEGER,
			detail       TEXT,
			at           INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent, id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type, id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Record inserts evt, assigning an ID if it has none.
// uint64 columns are stored as their int64 bit pattern.
func (r *SQLiteRecorder) Record(ctx context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = NewID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_events
		(id, type, agent, actor, counterparty, amount, fee, period_spend, risk_score, detail, at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		evt.ID, string(evt.Type), evt.Agent.String(), evt.Actor.String(), evt.Counterparty.String(),
		int64(evt.Amount), int64(evt.Fee), int64(evt.PeriodSpend), evt.RiskScore, evt.Detail, evt.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns matching events, newest first
func (r *SQLiteRecorder) List(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if !f.Agent.IsZero() {
		where = append(where, "agent = ?")
		args = append(args, f.Agent.String())
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}

	q := `SELECT id, type, agent, actor, counterparty, amount, fee, period_spend, risk_score, detail, at
		FROM audit_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                        Event
			typ, agent, actor, cp    string
			amount, fee, periodSpend int64
		)
		if err := rows.Scan(&e.ID, &typ, &agent, &actor, &cp, &amount, &fee, &periodSpend, &e.RiskScore, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = EventType(typ)
		e.Agent = types.Identity(agent)
		e.Actor = types.Identity(actor)
		e.Counterparty = types.Identity(cp)
		e.Amount = uint64(amount)
		e.Fee = uint64(fee)
		e.PeriodSpend = uint64(periodSpend)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database
func (r *SQLiteRecorder) Close() error {
	logrus.Info("Closing audit journal")
	return r.db.Close()
}
