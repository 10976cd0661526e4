package groups

import "time"

// Entitlement is the VIP status attached to a group. Active implies
// ExpiresAt was in the future at the moment it was set. Absent timestamps
// are nil pointers, never zero values, so "never set" and "epoch zero"
// cannot be confused.
type Entitlement struct {
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	SourceCode string     `json:"sourceCode,omitempty"`
}

// Group is a directory entry, persisted under groups/{id}. Owner is an
// opaque caller-supplied token and is immutable after creation.
type Group struct {
	Owner       string      `json:"owner"`
	Name        string      `json:"name"`
	Link        string      `json:"link"`
	Category    string      `json:"category,omitempty"`
	Description string      `json:"description,omitempty"`
	Photo       string      `json:"photo,omitempty"`
	ClickCount  int         `json:"clickCount"`
	Entitlement Entitlement `json:"entitlement"`
	LastBoostAt *time.Time  `json:"lastBoostAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// EditFields carries the owner-editable descriptive fields. Nil means
// "leave unchanged".
type EditFields struct {
	Name        *string
	Link        *string
	Category    *string
	Description *string
	Photo       *string
}
