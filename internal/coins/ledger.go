// Package coins manages per-account capped coin balances on top of the
// shared store's atomic transaction primitive.
package coins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/grouphub/backend/internal/store"
)

// DefaultCap is the observed balance ceiling. It behaves as a lifetime cap,
// not a daily quota: nothing ever resets it.
const DefaultCap = 20

// ErrLimitReached is returned by Credit once the balance is at the cap.
var ErrLimitReached = errors.New("coin limit reached")

// ErrInsufficientBalance is returned by Debit when the balance is below the
// requested amount.
var ErrInsufficientBalance = errors.New("insufficient coin balance")

// Ledger applies balance changes as single-path transactions. It never
// caches balances: every call re-reads inside its own transaction.
type Ledger struct {
	store store.Store
	cap   int
}

// NewLedger returns a ledger with the given cap; cap <= 0 selects DefaultCap.
func NewLedger(s store.Store, cap int) *Ledger {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Ledger{store: s, cap: cap}
}

func balancePath(accountID string) string {
	return "accounts/" + accountID + "/coinBalance"
}

// Credit adds one coin. An absent account reads as balance 0 and is created
// implicitly. At or above the cap the transaction aborts and ErrLimitReached
// is returned with the balance untouched. Not idempotent: each call is a
// distinct +1.
func (l *Ledger) Credit(ctx context.Context, accountID string) (int, error) {
	var newBalance int
	res, err := l.store.Transact(ctx, balancePath(accountID), func(old json.RawMessage) (json.RawMessage, error) {
		cur, err := decodeBalance(old)
		if err != nil {
			return nil, err
		}
		if cur >= l.cap {
			return nil, store.ErrAbort
		}
		newBalance = cur + 1
		return json.RawMessage(strconv.Itoa(newBalance)), nil
	})
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", accountID, err)
	}
	if !res.Committed {
		return 0, ErrLimitReached
	}
	return newBalance, nil
}

// Debit subtracts amount, aborting when the balance is too low. The cap is
// not enforced on this path.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit %s: amount must be positive", accountID)
	}
	var newBalance int
	res, err := l.store.Transact(ctx, balancePath(accountID), func(old json.RawMessage) (json.RawMessage, error) {
		cur, err := decodeBalance(old)
		if err != nil {
			return nil, err
		}
		if cur < amount {
			return nil, store.ErrAbort
		}
		newBalance = cur - amount
		return json.RawMessage(strconv.Itoa(newBalance)), nil
	})
	if err != nil {
		return 0, fmt.Errorf("debit %s: %w", accountID, err)
	}
	if !res.Committed {
		return 0, ErrInsufficientBalance
	}
	return newBalance, nil
}

// Refund adds amount back without a cap check. It exists only to compensate
// a debit whose follow-up step failed (see the code exchange flow); it is
// not a general credit entry point.
func (l *Ledger) Refund(ctx context.Context, accountID string, amount int) (int, error) {
	var newBalance int
	_, err := l.store.Transact(ctx, balancePath(accountID), func(old json.RawMessage) (json.RawMessage, error) {
		cur, err := decodeBalance(old)
		if err != nil {
			return nil, err
		}
		newBalance = cur + amount
		return json.RawMessage(strconv.Itoa(newBalance)), nil
	})
	if err != nil {
		return 0, fmt.Errorf("refund %s: %w", accountID, err)
	}
	return newBalance, nil
}

// Balance is a plain read for display. It is not atomic with any later
// mutation; check-then-act decisions belong inside a transaction.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int, error) {
	raw, err := l.store.Read(ctx, balancePath(accountID))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", accountID, err)
	}
	return decodeBalance(raw)
}

func decodeBalance(raw json.RawMessage) (int, error) {
	if raw == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("corrupt balance value %q: %w", raw, err)
	}
	return n, nil
}
