package domain

import "testing"

func TestCanonicalizer_Canonical(t *testing.T) {
	c := NewCanonicalizer()
	c.Register(7, "alice")

	tests := []struct {
		name string
		ref  SenderRef
		want Identity
	}{
		{name: "username", ref: SenderRef{Username: "alice"}, want: "user:alice"},
		{name: "known id", ref: SenderRef{ID: 7}, want: "user:alice"},
		{name: "object with both", ref: SenderRef{ID: 7, Username: "alice"}, want: "user:alice"},
		{name: "unknown id", ref: SenderRef{ID: 9}, want: "id:9"},
		{name: "username is trimmed", ref: SenderRef{Username: "  bob "}, want: "user:bob"},
		{name: "empty", ref: SenderRef{}, want: ""},
	}
	for _, tc := range tests {
		if got := c.Canonical(tc.ref); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestCanonicalizer_RoomDisplayName(t *testing.T) {
	c := NewCanonicalizer()
	self := c.Canonical(SenderRef{ID: 1, Username: "me"})

	private := Room{ID: 4, Kind: RoomKindPrivate, Name: "private_bob_me", Participants: []Participant{{ID: 1, Username: "me"}, {ID: 2, Username: "bob"}}}
	if got := c.RoomDisplayName(private, self); got != "bob" {
		t.Fatalf("expected other participant name, got %q", got)
	}

	lonely := Room{ID: 5, Kind: RoomKindPrivate, Participants: []Participant{{ID: 1, Username: "me"}}}
	if got := c.RoomDisplayName(lonely, self); got != "Private" {
		t.Fatalf("expected Private fallback, got %q", got)
	}

	group := Room{ID: 6, Kind: RoomKindGroup, Name: "general"}
	if got := c.RoomDisplayName(group, self); got != "general" {
		t.Fatalf("expected group name, got %q", got)
	}
}

func TestRoomValidate(t *testing.T) {
	tests := []struct {
		name    string
		room    Room
		wantErr bool
	}{
		{name: "group", room: Room{ID: 1, Kind: RoomKindGroup, Name: "g"}},
		{name: "group without name", room: Room{ID: 1, Kind: RoomKindGroup}, wantErr: true},
		{name: "private pair", room: Room{ID: 2, Kind: RoomKindPrivate, Participants: []Participant{{ID: 1}, {ID: 2}}}},
		{name: "private crowd", room: Room{ID: 2, Kind: RoomKindPrivate, Participants: []Participant{{ID: 1}, {ID: 2}, {ID: 3}}}, wantErr: true},
		{name: "unknown kind", room: Room{ID: 3, Kind: "channel"}, wantErr: true},
		{name: "zero id", room: Room{Kind: RoomKindGroup, Name: "g"}, wantErr: true},
	}
	for _, tc := range tests {
		err := tc.room.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}
