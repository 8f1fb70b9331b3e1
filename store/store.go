package store

import (
	"context"
	"errors"
	"strings"
)

// Slot names one logical entry of the credential store.
type Slot string

const (
	// SlotToken holds the bearer credential.
	SlotToken Slot = "accessToken"
	// SlotUser holds the last-known user profile JSON.
	SlotUser Slot = "user"
	// SlotSession holds the encoded session snapshot.
	SlotSession Slot = "auth-store"
	// SlotCookies holds the backend's cookies, including the refresh
	// cookie, so renewal keeps working after a restart.
	SlotCookies Slot = "cookies"
)

// DefaultNamespace prefixes every key when no namespace is configured.
const DefaultNamespace = "dashauth"

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
	// ErrCorrupt is returned when the backing medium cannot be parsed.
	ErrCorrupt = errors.New("store data corrupt")
	// ErrMalformedSnapshot is returned for undecodable session snapshots.
	ErrMalformedSnapshot = errors.New("malformed session snapshot")
)

// Store is durable raw key-value persistence for the credential slots.
//
// Get returns (nil, nil) for absent slots. Set with an empty value is
// equivalent to Delete. Delete of an absent slot is not an error.
type Store interface {
	Get(ctx context.Context, slot Slot) ([]byte, error)
	Set(ctx context.Context, slot Slot, value []byte) error
	Delete(ctx context.Context, slot Slot) error
	Close() error
}

// Key returns the namespaced storage key of slot.
func Key(namespace string, slot Slot) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + string(slot)
}
