package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/domain"
)

// printer serializes terminal output from the bus watcher and the command loop.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	self domain.Identity
}

func newPrinter(w io.Writer, self domain.Identity) *printer {
	return &printer{w: w, self: self}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) infof(format string, args ...any) {
	p.printf("-- "+format, args...)
}

func (p *printer) errorf(format string, args ...any) {
	p.printf("!! "+format, args...)
}

func (p *printer) rooms(views []domain.RoomView) {
	if len(views) == 0 {
		p.infof("no rooms")

		return
	}
	for _, v := range views {
		p.printf("%s", formatRoomView(v))
	}
}

func (p *printer) view(update connectors.RoomViewUpdate) {
	switch update.Kind {
	case connectors.ViewReset:
		if update.RoomID == 0 {
			return
		}
		if len(update.Messages) == 0 && update.ScrollTo == 0 {
			return
		}
		p.infof("room %s", update.RoomID)
		for _, msg := range update.Messages {
			if msg.ID == update.ScrollTo {
				p.infof("unread")
			}
			p.printf("%s", formatMessage(msg, p.self))
		}
	case connectors.ViewAppended:
		for _, msg := range update.Messages {
			p.printf("%s", formatMessage(msg, p.self))
		}
	}
}

func (p *printer) unread(event connectors.UnreadChanged) {
	p.infof("room %s: %d unread, latest from %s", event.RoomID, event.Unread, event.Message.SenderName)
}
