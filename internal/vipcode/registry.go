// Package vipcode issues and consumes single-use VIP entitlement codes.
// Codes are never deleted: a consumed record stays behind as an audit trail.
package vipcode

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/grouphub/backend/internal/coins"
	"github.com/grouphub/backend/internal/store"
)

const (
	// StatusAvailable and StatusConsumed are the only legal states; the
	// transition is available -> consumed, exactly once.
	StatusAvailable = "available"
	StatusConsumed  = "consumed"

	// codeLen characters drawn from codeAlphabet give well over the
	// entropy needed to make collisions negligible.
	codeLen      = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// issueAttempts bounds collision regeneration.
	issueAttempts = 5

	// DefaultExchangeCost is the coin price of one code.
	DefaultExchangeCost = 30
)

// ErrNotFound is returned by Consume and Validate for an unknown code.
var ErrNotFound = errors.New("code not found")

// ErrAlreadyConsumed is returned by Consume when the code was used before.
var ErrAlreadyConsumed = errors.New("code already consumed")

// Record is the persisted shape under codes/{code}.
type Record struct {
	Status    string    `json:"status"`
	TTLHours  int       `json:"ttlHours"`
	CreatedAt time.Time `json:"createdAt"`
}

// CoinDebitor is the slice of the coin ledger the exchange flow needs.
type CoinDebitor interface {
	Debit(ctx context.Context, accountID string, amount int) (int, error)
	Refund(ctx context.Context, accountID string, amount int) (int, error)
}

type Registry struct {
	store store.Store
	now   func() time.Time
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s, now: time.Now}
}

func codePath(code string) string {
	return "codes/" + code
}

// Issue generates a fresh code valid for ttlHours and writes it as a new
// key. On the rare collision with an existing code it regenerates before
// writing.
func (r *Registry) Issue(ctx context.Context, ttlHours int) (string, error) {
	if ttlHours <= 0 {
		return "", fmt.Errorf("issue code: ttlHours must be positive, got %d", ttlHours)
	}
	for i := 0; i < issueAttempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", fmt.Errorf("issue code: %w", err)
		}
		_, err = r.store.Read(ctx, codePath(code))
		if err == nil {
			continue // collision, regenerate
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("issue code: %w", err)
		}
		raw, err := json.Marshal(Record{
			Status:    StatusAvailable,
			TTLHours:  ttlHours,
			CreatedAt: r.now().UTC(),
		})
		if err != nil {
			return "", fmt.Errorf("issue code: %w", err)
		}
		if err := r.store.Write(ctx, codePath(code), raw); err != nil {
			return "", fmt.Errorf("issue code: %w", err)
		}
		return code, nil
	}
	return "", fmt.Errorf("issue code: %d consecutive collisions", issueAttempts)
}

// Validate reports whether code exists and is still available. It mutates
// nothing, so a true result is informative only; it never authorizes a
// later consuming step taken separately.
func (r *Registry) Validate(ctx context.Context, code string) (bool, int, error) {
	raw, err := r.store.Read(ctx, codePath(code))
	if errors.Is(err, store.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("validate code: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, 0, fmt.Errorf("validate code: corrupt record: %w", err)
	}
	if rec.Status != StatusAvailable {
		return false, 0, nil
	}
	return true, rec.TTLHours, nil
}

// Consume flips the code from available to consumed in a single atomic
// transaction. Under any number of concurrent calls for the same code,
// exactly one succeeds; the rest get ErrAlreadyConsumed.
func (r *Registry) Consume(ctx context.Context, code string) (int, error) {
	var ttlHours int
	res, err := r.store.Transact(ctx, codePath(code), func(old json.RawMessage) (json.RawMessage, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		var rec Record
		if err := json.Unmarshal(old, &rec); err != nil {
			return nil, fmt.Errorf("corrupt code record: %w", err)
		}
		if rec.Status != StatusAvailable {
			return nil, store.ErrAbort
		}
		rec.Status = StatusConsumed
		ttlHours = rec.TTLHours
		return json.Marshal(rec)
	})
	if errors.Is(err, ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("consume code: %w", err)
	}
	if !res.Committed {
		return 0, ErrAlreadyConsumed
	}
	return ttlHours, nil
}

// Exchange debits cost coins from the account and issues a fresh code with
// ttlHours validity. The debit and the issuance are two steps; when the
// issuance fails after a successful debit the coins are refunded, so no run
// leaves the balance decremented without a code.
func (r *Registry) Exchange(ctx context.Context, ledger CoinDebitor, accountID string, cost, ttlHours int) (string, error) {
	if cost <= 0 {
		cost = DefaultExchangeCost
	}
	if _, err := ledger.Debit(ctx, accountID, cost); err != nil {
		if errors.Is(err, coins.ErrInsufficientBalance) {
			return "", err
		}
		return "", fmt.Errorf("exchange: %w", err)
	}
	code, err := r.Issue(ctx, ttlHours)
	if err != nil {
		if _, refundErr := ledger.Refund(ctx, accountID, cost); refundErr != nil {
			return "", fmt.Errorf("exchange: issue failed (%v) and refund failed: %w", err, refundErr)
		}
		return "", fmt.Errorf("exchange: %w", err)
	}
	return code, nil
}

func randomCode() (string, error) {
	var b strings.Builder
	for i := 0; i < codeLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
