package app

import (
	"testing"

	"github.com/skobkin/roomsync/internal/connectors"
)

func TestConnectionStatusLine(t *testing.T) {
	tests := []struct {
		name   string
		status connectors.ConnectionStatus
		want   string
	}{
		{
			name:   "empty",
			status: connectors.ConnectionStatus{},
			want:   "unknown idle",
		},
		{
			name: "open",
			status: connectors.ConnectionStatus{
				State:         connectors.ConnectionStateOpen,
				TransportName: "websocket",
				RoomID:        7,
			},
			want: "websocket open room 7",
		},
		{
			name: "errored with detail",
			status: connectors.ConnectionStatus{
				State:         connectors.ConnectionStateErrored,
				TransportName: "websocket",
				RoomID:        7,
				Err:           "auth_rejected",
			},
			want: "websocket errored room 7 (error: auth_rejected)",
		},
		{
			name: "closed ignores error text",
			status: connectors.ConnectionStatus{
				State:         connectors.ConnectionStateClosed,
				TransportName: "websocket",
				Err:           "stale",
			},
			want: "websocket closed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConnectionStatusLine(tc.status); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSyncStateLine(t *testing.T) {
	got := SyncStateLine(connectors.SyncStateChanged{
		State:  connectors.SyncStateIdle,
		RoomID: 3,
		Err:    &connectors.ConnectionError{Reason: connectors.ReasonUnreachable},
	})
	want := "idle room 3 (error: connection error: unreachable)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
