// Package groups implements the owner-gated operations on directory
// entries: redeeming VIP codes, the cooldown-limited boost, edits, deletes
// and the click counter.
package groups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grouphub/backend/internal/store"
	"github.com/grouphub/backend/internal/vipcode"
)

// BoostCooldown is the minimum interval between boosts on one group.
const BoostCooldown = time.Hour

// ErrNotFound is returned for an unknown group id.
var ErrNotFound = errors.New("group not found")

// ErrNotAuthorized is returned when the caller token does not match the
// group's owner.
var ErrNotAuthorized = errors.New("caller is not the group owner")

// ErrTooSoon is returned by Boost inside the cooldown window.
var ErrTooSoon = errors.New("boost cooldown not elapsed")

// ErrCodeInvalid is returned by Redeem when the code is unknown or already
// consumed.
var ErrCodeInvalid = errors.New("vip code invalid")

// CodeConsumer is the slice of the code registry Redeem needs.
type CodeConsumer interface {
	Consume(ctx context.Context, code string) (ttlHours int, err error)
}

type Service struct {
	store store.Store
	codes CodeConsumer
	now   func() time.Time
}

func NewService(s store.Store, codes CodeConsumer) *Service {
	return &Service{store: s, codes: codes, now: time.Now}
}

func groupPath(id string) string {
	return "groups/" + id
}

// Create writes a new approved group under a fresh id and returns the id.
func (s *Service) Create(ctx context.Context, g Group) (string, error) {
	if g.Owner == "" || g.Name == "" || g.Link == "" {
		return "", fmt.Errorf("create group: owner, name and link are required")
	}
	g.ClickCount = 0
	g.Entitlement = Entitlement{}
	g.LastBoostAt = nil
	g.CreatedAt = s.now().UTC()

	id := uuid.New().String()
	raw, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}
	if err := s.store.Write(ctx, groupPath(id), raw); err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}
	return id, nil
}

// Get reads one group.
func (s *Service) Get(ctx context.Context, id string) (*Group, error) {
	raw, err := s.store.Read(ctx, groupPath(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", id, err)
	}
	var g Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("get group %s: corrupt record: %w", id, err)
	}
	return &g, nil
}

// Redeem consumes code and applies a VIP entitlement expiring ttlHours from
// now to the group. The consume and the entitlement write are two separate
// single-path transactions, not one multi-path transaction: if the process
// dies between them the code is permanently consumed with no entitlement
// applied. That window is accepted — the group never silently gains VIP,
// the owner loses one code — and callers see it as an error, not success.
func (s *Service) Redeem(ctx context.Context, id, code, callerToken string) error {
	g, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if g.Owner != callerToken {
		return ErrNotAuthorized
	}

	ttlHours, err := s.codes.Consume(ctx, code)
	if err != nil {
		if errors.Is(err, vipcode.ErrNotFound) || errors.Is(err, vipcode.ErrAlreadyConsumed) {
			return fmt.Errorf("%w: %v", ErrCodeInvalid, err)
		}
		return fmt.Errorf("redeem on group %s: %w", id, err)
	}

	expiresAt := s.now().UTC().Add(time.Duration(ttlHours) * time.Hour)
	res, err := s.store.Transact(ctx, groupPath(id), func(old json.RawMessage) (json.RawMessage, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		var cur Group
		if err := json.Unmarshal(old, &cur); err != nil {
			return nil, fmt.Errorf("corrupt group record: %w", err)
		}
		cur.Entitlement = Entitlement{Active: true, ExpiresAt: &expiresAt, SourceCode: code}
		return json.Marshal(cur)
	})
	if err != nil {
		return fmt.Errorf("redeem on group %s: code %s consumed but entitlement not applied: %w", id, code, err)
	}
	if !res.Committed {
		return fmt.Errorf("redeem on group %s: unexpected abort", id)
	}
	return nil
}

// Boost stamps lastBoostAt, at most once per BoostCooldown, in one
// transaction so two racing boosts cannot both pass the cooldown check.
func (s *Service) Boost(ctx context.Context, id, callerToken string) error {
	now := s.now().UTC()
	_, err := s.store.Transact(ctx, groupPath(id), func(old json.RawMessage) (json.RawMessage, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		var cur Group
		if err := json.Unmarshal(old, &cur); err != nil {
			return nil, fmt.Errorf("corrupt group record: %w", err)
		}
		if cur.Owner != callerToken {
			return nil, ErrNotAuthorized
		}
		if cur.LastBoostAt != nil && now.Sub(*cur.LastBoostAt) < BoostCooldown {
			return nil, ErrTooSoon
		}
		cur.LastBoostAt = &now
		return json.Marshal(cur)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotAuthorized) || errors.Is(err, ErrTooSoon) {
			return err
		}
		return fmt.Errorf("boost group %s: %w", id, err)
	}
	return nil
}

// Edit updates the descriptive fields. Owner and entitlement state are
// untouched here; redeeming a code supplied alongside an edit is chained by
// the caller as a separate Redeem.
func (s *Service) Edit(ctx context.Context, id, callerToken string, fields EditFields) error {
	_, err := s.store.Transact(ctx, groupPath(id), func(old json.RawMessage) (json.RawMessage, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		var cur Group
		if err := json.Unmarshal(old, &cur); err != nil {
			return nil, fmt.Errorf("corrupt group record: %w", err)
		}
		if cur.Owner != callerToken {
			return nil, ErrNotAuthorized
		}
		if fields.Name != nil {
			cur.Name = *fields.Name
		}
		if fields.Link != nil {
			cur.Link = *fields.Link
		}
		if fields.Category != nil {
			cur.Category = *fields.Category
		}
		if fields.Description != nil {
			cur.Description = *fields.Description
		}
		if fields.Photo != nil {
			cur.Photo = *fields.Photo
		}
		return json.Marshal(cur)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotAuthorized) {
			return err
		}
		return fmt.Errorf("edit group %s: %w", id, err)
	}
	return nil
}

// Delete removes the group after an owner check.
func (s *Service) Delete(ctx context.Context, id, callerToken string) error {
	g, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if g.Owner != callerToken {
		return ErrNotAuthorized
	}
	if err := s.store.Remove(ctx, groupPath(id)); err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	return nil
}

// Click increments the group's click counter.
func (s *Service) Click(ctx context.Context, id string) error {
	_, err := s.store.Transact(ctx, groupPath(id), func(old json.RawMessage) (json.RawMessage, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		var cur Group
		if err := json.Unmarshal(old, &cur); err != nil {
			return nil, fmt.Errorf("corrupt group record: %w", err)
		}
		cur.ClickCount++
		return json.Marshal(cur)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("click group %s: %w", id, err)
	}
	return nil
}
