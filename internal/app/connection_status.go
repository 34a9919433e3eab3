package app

import (
	"fmt"
	"strings"

	"github.com/skobkin/roomsync/internal/connectors"
)

// ConnectionStatusLine renders a connection status for a status bar or log line.
func ConnectionStatusLine(status connectors.ConnectionStatus) string {
	transport := strings.TrimSpace(status.TransportName)
	if transport == "" {
		transport = "unknown"
	}
	state := string(status.State)
	if state == "" {
		state = "idle"
	}

	line := fmt.Sprintf("%s %s", transport, state)
	if status.RoomID > 0 {
		line = fmt.Sprintf("%s room %s", line, status.RoomID)
	}
	if status.State == connectors.ConnectionStateErrored {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			line = fmt.Sprintf("%s (error: %s)", line, errText)
		}
	}

	return line
}

// SyncStateLine renders an engine sync state change.
func SyncStateLine(change connectors.SyncStateChanged) string {
	line := string(change.State)
	if change.RoomID > 0 {
		line = fmt.Sprintf("%s room %s", line, change.RoomID)
	}
	if change.Err != nil {
		line = fmt.Sprintf("%s (error: %v)", line, change.Err)
	}

	return line
}
