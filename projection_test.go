package dashauth

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrEthical07/dashauth/store"
)

func TestProjectCollapsesTransientStatuses(t *testing.T) {
	user := &User{ID: "u-1", Email: "a@b.co", Role: Roles{"admin"}}

	snap := Project(Session{Status: StatusAuthenticated, User: user, IsAuthenticated: true})
	if snap == nil || !snap.IsAuthenticated || snap.Status != store.SnapshotAuthenticated {
		t.Fatalf("unexpected authenticated projection: %+v", snap)
	}
	var decoded User
	if err := json.Unmarshal(snap.User, &decoded); err != nil || decoded.ID != "u-1" {
		t.Fatalf("projected user unreadable: %v %+v", err, decoded)
	}

	for _, s := range []Session{
		{Status: StatusLoading, IsLoading: true},
		{Status: StatusError, Error: "boom"},
		{Status: StatusIdle},
	} {
		snap := Project(s)
		if snap == nil || snap.IsAuthenticated || snap.User != nil || snap.Status != store.SnapshotIdle {
			t.Fatalf("%s must project to idle, got %+v", s.Status, snap)
		}
	}

	if snap := Project(Session{Status: StatusUnauthenticated}); snap != nil {
		t.Fatalf("unauthenticated must clear the snapshot, got %+v", snap)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	in := Session{Status: StatusAuthenticated, User: &User{ID: "u-2", Role: Roles{"user"}}, IsAuthenticated: true}
	out, err := Restore(Project(in))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if out.Status != StatusAuthenticated || out.User == nil || out.User.ID != "u-2" {
		t.Fatalf("unexpected restored session: %+v", out)
	}

	idle, err := Restore(nil)
	if err != nil || idle.Status != StatusIdle {
		t.Fatalf("nil snapshot must restore idle, got %+v %v", idle, err)
	}
}

func TestRestoreRejectsUnreadableUser(t *testing.T) {
	_, err := Restore(&store.Snapshot{
		User:            json.RawMessage(`{"id":42}`),
		IsAuthenticated: true,
		Status:          store.SnapshotAuthenticated,
	})
	if !errors.Is(err, ErrMalformedLocalData) {
		t.Fatalf("expected ErrMalformedLocalData, got %v", err)
	}
	if KindOf(err) != KindMalformedLocalData {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}
