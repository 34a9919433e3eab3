package main

import (
	"fmt"
	"strings"

	"github.com/skobkin/roomsync/internal/domain"
)

type commandName int

const (
	cmdNone commandName = iota
	cmdSend
	cmdRooms
	cmdJoin
	cmdAck
	cmdLeave
	cmdRetry
	cmdRefresh
	cmdClear
	cmdStatus
	cmdHelp
	cmdQuit
)

const helpText = `commands:
  /rooms          list rooms
  /join <id>      open a room
  /ack            mark the open room as read
  /leave          close the open room
  /retry          reopen the last room after a failure
  /refresh        reload the room directory
  /clear          forget all read state
  /status         show the connection status
  /quit           exit
anything else is sent to the open room`

type command struct {
	name commandName
	room domain.RoomID
	text string
}

var simpleCommands = map[string]commandName{
	"/rooms":   cmdRooms,
	"/ack":     cmdAck,
	"/leave":   cmdLeave,
	"/retry":   cmdRetry,
	"/refresh": cmdRefresh,
	"/clear":   cmdClear,
	"/status":  cmdStatus,
	"/help":    cmdHelp,
	"/quit":    cmdQuit,
}

func parseCommand(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{name: cmdNone}, nil
	}
	// "//text" sends "/text".
	if strings.HasPrefix(trimmed, "//") {
		return command{name: cmdSend, text: trimmed[1:]}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{name: cmdSend, text: line}, nil
	}

	fields := strings.Fields(trimmed)
	verb := strings.ToLower(fields[0])
	if verb == "/join" {
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: /join <room id>")
		}
		id, err := domain.ParseRoomID(fields[1])
		if err != nil {
			return command{}, err
		}

		return command{name: cmdJoin, room: id}, nil
	}
	name, ok := simpleCommands[verb]
	if !ok {
		return command{}, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	if len(fields) > 1 {
		return command{}, fmt.Errorf("%s takes no arguments", verb)
	}

	return command{name: name}, nil
}
