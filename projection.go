package dashauth

import (
	"encoding/json"
	"errors"

	"github.com/MrEthical07/dashauth/store"
)

// Project maps s to its durable snapshot. Only an authenticated session
// persists its user; loading and error collapse to idle. Unauthenticated
// projects to nil, which clears the snapshot slot.
func Project(s Session) *store.Snapshot {
	switch {
	case s.Status == StatusUnauthenticated:
		return nil
	case s.Status != StatusAuthenticated || s.User == nil:
		return &store.Snapshot{Status: store.SnapshotIdle}
	}

	raw, err := json.Marshal(s.User)
	if err != nil {
		return &store.Snapshot{Status: store.SnapshotIdle}
	}
	return &store.Snapshot{
		User:            raw,
		IsAuthenticated: true,
		Status:          store.SnapshotAuthenticated,
	}
}

// Restore rebuilds a session from a snapshot. Anything other than an
// authenticated snapshot yields an idle session; an authenticated snapshot
// whose user cannot be decoded returns [ErrMalformedLocalData].
func Restore(snap *store.Snapshot) (Session, error) {
	if snap == nil || !snap.IsAuthenticated || snap.Status != store.SnapshotAuthenticated {
		return Session{Status: StatusIdle}, nil
	}

	user, err := decodeUser(snap.User)
	if err != nil {
		return Session{Status: StatusIdle}, errors.Join(ErrMalformedLocalData, err)
	}
	return Session{
		Status:          StatusAuthenticated,
		User:            user,
		IsAuthenticated: true,
	}, nil
}

var errNoUser = errors.New("user payload missing")

func decodeUser(raw []byte) (*User, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errNoUser
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
