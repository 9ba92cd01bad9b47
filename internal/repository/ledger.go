package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petrikoro/crewcall/internal/engine"
	"github.com/petrikoro/crewcall/internal/model"
)

// Ledger is the Postgres implementation of engine.Ledger.
//
// Atomicity contract: Admit and Withdraw first compare-and-swap the event's
// version counter. The row lock taken by that UPDATE serialises every
// writer touching the same event; a writer whose observed version is stale
// fails the predicate, rolls back having changed nothing, and reports
// engine.ErrVersionConflict. The occupant write and the response record
// land in the same transaction, so no half-applied state is ever visible.
type Ledger struct {
	db     *pgxpool.Pool
	events *EventRepository
}

// NewLedger constructs a Ledger sharing the pool with the event repository.
func NewLedger(db *pgxpool.Pool, events *EventRepository) *Ledger {
	return &Ledger{db: db, events: events}
}

// Snapshot returns the current event state including its version counter.
func (l *Ledger) Snapshot(ctx context.Context, eventID string) (*model.Event, error) {
	return l.events.GetByID(ctx, eventID)
}

// LastResponse returns the response record for (eventID, userKey), or nil.
func (l *Ledger) LastResponse(ctx context.Context, eventID, userKey string) (*model.ResponseRecord, error) {
	var rec model.ResponseRecord
	err := l.db.QueryRow(ctx,
		`SELECT event_id, user_key, decision, role_name, seq, decided_at
		 FROM response_records WHERE event_id = $1 AND user_key = $2`,
		eventID, userKey,
	).Scan(&rec.EventID, &rec.UserKey, &rec.Decision, &rec.Role, &rec.Seq, &rec.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read response record: %w", err)
	}
	return &rec, nil
}

// Admit seats user in role if the event's version still equals version and
// the role still has space. Returns engine.ErrVersionConflict when either
// precondition fails.
func (l *Ledger) Admit(ctx context.Context, eventID string, version int64, role string, user model.UserRef, rec model.ResponseRecord) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = casVersion(ctx, tx, eventID, version); err != nil {
		return err
	}

	// Re-assert the capacity and one-role-per-event predicates at apply
	// time. The version CAS already serialised us, so a zero-row result
	// here means our snapshot raced an occupant change.
	tag, err := tx.Exec(ctx,
		`INSERT INTO role_occupants (event_id, role_name, user_key, display_name, accepted_at)
		 SELECT $1, $2, $3, $4, now()
		 WHERE (SELECT COUNT(*) FROM role_occupants WHERE event_id = $1 AND role_name = $2) <
		       (SELECT capacity FROM event_roles WHERE event_id = $1 AND name = $2)
		   AND NOT EXISTS (SELECT 1 FROM role_occupants WHERE event_id = $1 AND user_key = $3)`,
		eventID, role, user.UserKey, user.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("insert occupant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = engine.ErrVersionConflict
		return err
	}

	if err = upsertRecord(ctx, tx, rec); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Withdraw removes user from role under the same version guard.
func (l *Ledger) Withdraw(ctx context.Context, eventID string, version int64, role, userKey string, rec model.ResponseRecord) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = casVersion(ctx, tx, eventID, version); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM role_occupants
		 WHERE event_id = $1 AND role_name = $2 AND user_key = $3`,
		eventID, role, userKey,
	)
	if err != nil {
		return fmt.Errorf("delete occupant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = engine.ErrVersionConflict
		return err
	}

	if err = upsertRecord(ctx, tx, rec); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Record upserts a response record with no ledger precondition.
func (l *Ledger) Record(ctx context.Context, rec model.ResponseRecord) error {
	_, err := l.db.Exec(ctx, upsertRecordSQL,
		rec.EventID, rec.UserKey, rec.Decision, rec.Role, rec.Seq, rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert response record: %w", err)
	}
	return nil
}

// casVersion bumps the event's version only if it still matches the value
// observed in the snapshot.
func casVersion(ctx context.Context, tx pgx.Tx, eventID string, version int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE events SET version = version + 1 WHERE id = $1 AND version = $2`,
		eventID, version,
	)
	if err != nil {
		return fmt.Errorf("guard event version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrVersionConflict
	}
	return nil
}

const upsertRecordSQL = `
INSERT INTO response_records (event_id, user_key, decision, role_name, seq, decided_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (event_id, user_key) DO UPDATE
SET decision = EXCLUDED.decision,
    role_name = EXCLUDED.role_name,
    seq = EXCLUDED.seq,
    decided_at = EXCLUDED.decided_at`

func upsertRecord(ctx context.Context, tx pgx.Tx, rec model.ResponseRecord) error {
	_, err := tx.Exec(ctx, upsertRecordSQL,
		rec.EventID, rec.UserKey, rec.Decision, rec.Role, rec.Seq, rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert response record: %w", err)
	}
	return nil
}
