package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	snapshotVersionCurrent = 2
	// snapshotVersionV1 is the {"state":{...},"version":1} envelope written
	// by earlier dashboard builds.
	snapshotVersionV1 = 1

	// CurrentSnapshotVersion is the schema EncodeSnapshot writes.
	CurrentSnapshotVersion = snapshotVersionCurrent
)

// Persisted status values. Every non-authenticated status is stored as idle.
const (
	SnapshotIdle          = "idle"
	SnapshotAuthenticated = "authenticated"
)

// Snapshot is the durable projection of a session. It is a cache hint only.
type Snapshot struct {
	// SchemaVersion is the version the snapshot was read from. It is ignored
	// by EncodeSnapshot, which always writes the current schema.
	SchemaVersion   uint8           `json:"-"`
	User            json.RawMessage `json:"user"`
	IsAuthenticated bool            `json:"isAuthenticated"`
	Status          string          `json:"status"`
}

type snapshotV2 struct {
	V               uint8           `json:"v"`
	User            json.RawMessage `json:"user"`
	IsAuthenticated bool            `json:"isAuthenticated"`
	Status          string          `json:"status"`
}

type snapshotV1 struct {
	State *struct {
		User            json.RawMessage `json:"user"`
		IsAuthenticated bool            `json:"isAuthenticated"`
		Status          string          `json:"status"`
	} `json:"state"`
	Version *int `json:"version"`
}

// EncodeSnapshot serializes s in the current schema. The status is coarsened
// so that only idle and authenticated are ever written.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrMalformedSnapshot)
	}
	out := snapshotV2{
		V:               snapshotVersionCurrent,
		User:            normalizeUser(s.User),
		IsAuthenticated: s.IsAuthenticated,
		Status:          coarsen(s.Status),
	}
	return json.Marshal(out)
}

// DecodeSnapshot parses any supported schema and migrates it to the current
// one. Unknown versions and corrupt payloads return ErrMalformedSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrMalformedSnapshot
	}

	var header struct {
		V       *int            `json:"v"`
		Version *int            `json:"version"`
		State   json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	switch {
	case header.V != nil && *header.V == snapshotVersionCurrent:
		var v2 snapshotV2
		if err := json.Unmarshal(data, &v2); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}
		return finishSnapshot(snapshotVersionCurrent, v2.User, v2.IsAuthenticated, v2.Status)
	case header.V == nil && header.Version != nil && *header.Version == snapshotVersionV1 && len(header.State) > 0:
		var v1 snapshotV1
		if err := json.Unmarshal(data, &v1); err != nil || v1.State == nil {
			return nil, fmt.Errorf("%w: invalid v1 state", ErrMalformedSnapshot)
		}
		return finishSnapshot(snapshotVersionV1, v1.State.User, v1.State.IsAuthenticated, v1.State.Status)
	default:
		return nil, fmt.Errorf("%w: unsupported schema", ErrMalformedSnapshot)
	}
}

func finishSnapshot(version uint8, user json.RawMessage, authenticated bool, status string) (*Snapshot, error) {
	user = normalizeUser(user)
	if user != nil && user[0] != '{' {
		return nil, fmt.Errorf("%w: user is not an object", ErrMalformedSnapshot)
	}
	return &Snapshot{
		SchemaVersion:   version,
		User:            user,
		IsAuthenticated: authenticated,
		Status:          coarsen(status),
	}, nil
}

func coarsen(status string) string {
	if status == SnapshotAuthenticated {
		return SnapshotAuthenticated
	}
	return SnapshotIdle
}

func normalizeUser(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
