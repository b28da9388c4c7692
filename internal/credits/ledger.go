// Package credits tracks per-user generation credits. Balances are only ever
// moved by atomic conditional increments; there is no read-modify-write path
// to lose updates under concurrent submits and refunds.
package credits

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInsufficientCredits is a business outcome, not a failure: callers turn
// it into a "purchase more credits" response.
var ErrInsufficientCredits = errors.New("insufficient credits")

type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Charge debits amount from the user's balance. The decrement and the balance
// check are one statement; two concurrent charges can never both succeed on
// the last credits.
func (l *Ledger) Charge(userUUID uuid.UUID, amount int) error {
	res, err := l.db.Exec(`
		UPDATE profiles
		SET credits = credits - $2, updated_at = now()
		WHERE id = $1 AND credits >= $2
	`, userUUID, amount)
	if err != nil {
		return fmt.Errorf("failed to charge credits: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// Refund credits amount back. Callers guarantee at-most-once invocation per
// task via the refunded flag on the task row.
func (l *Ledger) Refund(userUUID uuid.UUID, amount int) error {
	_, err := l.db.Exec(`
		UPDATE profiles
		SET credits = credits + $2, updated_at = now()
		WHERE id = $1
	`, userUUID, amount)
	if err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}
	return nil
}

// Balance returns the user's current credit balance, creating the profile row
// on first sight.
func (l *Ledger) Balance(userUUID uuid.UUID) (int, error) {
	var balance int
	err := l.db.QueryRow(`
		INSERT INTO profiles (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id = profiles.id
		RETURNING credits
	`, userUUID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}
