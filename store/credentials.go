package store

import (
	"context"
	"errors"
)

// Credentials is the typed view over a [Store] used by the session manager.
type Credentials struct {
	store Store
}

// NewCredentials wraps s.
func NewCredentials(s Store) *Credentials {
	return &Credentials{store: s}
}

// Token returns the stored bearer credential or "" when absent.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	raw, err := c.store.Get(ctx, SlotToken)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetToken stores token. An empty token clears the slot.
func (c *Credentials) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return c.store.Delete(ctx, SlotToken)
	}
	return c.store.Set(ctx, SlotToken, []byte(token))
}

// User returns the raw user profile JSON or nil when absent.
func (c *Credentials) User(ctx context.Context) ([]byte, error) {
	return c.store.Get(ctx, SlotUser)
}

// SetUser stores raw user JSON. A nil value clears the slot.
func (c *Credentials) SetUser(ctx context.Context, raw []byte) error {
	if len(raw) == 0 {
		return c.store.Delete(ctx, SlotUser)
	}
	return c.store.Set(ctx, SlotUser, raw)
}

// Cookies returns the raw saved cookie set or nil when absent.
func (c *Credentials) Cookies(ctx context.Context) ([]byte, error) {
	return c.store.Get(ctx, SlotCookies)
}

// SetCookies stores the raw cookie set. A nil value clears the slot.
func (c *Credentials) SetCookies(ctx context.Context, raw []byte) error {
	if len(raw) == 0 {
		return c.store.Delete(ctx, SlotCookies)
	}
	return c.store.Set(ctx, SlotCookies, raw)
}

// Snapshot returns the decoded session snapshot. Absent snapshots return
// (nil, nil); undecodable ones return [ErrMalformedSnapshot].
func (c *Credentials) Snapshot(ctx context.Context) (*Snapshot, error) {
	raw, err := c.store.Get(ctx, SlotSession)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return DecodeSnapshot(raw)
}

// SetSnapshot encodes and stores snap. A nil snapshot clears the slot.
func (c *Credentials) SetSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return c.store.Delete(ctx, SlotSession)
	}
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, SlotSession, raw)
}

// ClearAuth removes the bearer credential, the user profile and the saved
// cookies.
func (c *Credentials) ClearAuth(ctx context.Context) error {
	return errors.Join(
		c.store.Delete(ctx, SlotToken),
		c.store.Delete(ctx, SlotUser),
		c.store.Delete(ctx, SlotCookies),
	)
}

// ClearAll removes every slot.
func (c *Credentials) ClearAll(ctx context.Context) error {
	return errors.Join(
		c.ClearAuth(ctx),
		c.store.Delete(ctx, SlotSession),
	)
}

// Close closes the underlying store.
func (c *Credentials) Close() error {
	return c.store.Close()
}
