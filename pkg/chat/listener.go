package chat

import (
	"context"
	"net"
	"time"

	"github.com/cbodonnell/minechat/pkg/frame"
	"github.com/cbodonnell/minechat/pkg/history"
	"github.com/cbodonnell/minechat/pkg/log"
)

// listener streams broadcast frames from an established connection
// into the history store and out to observers. A failed history append
// is logged and surfaced as a status event; the stream keeps going and
// the message still reaches observers.
type listener struct {
	store     history.Store
	observers *Observers
	alive     *liveness
}

func (l *listener) stream(ctx context.Context, conn net.Conn) error {
	r := frame.NewReader(conn)

	l.observers.NotifyStatus(Status{Role: RoleListen, State: StateStreaming})
	l.alive.activity("listen connection established")

	for {
		text, err := r.ReadFrame()
		if err != nil {
			return err
		}

		msg := history.Message{
			Text:       text,
			ReceivedAt: time.Now(),
		}

		if err := l.store.Append(ctx, msg); err != nil {
			log.Error("Failed to append message to history: %v", err)
			l.observers.NotifyStatus(Status{Role: RoleListen, State: StateStreaming, Err: err})
		}

		l.observers.NotifyMessage(msg)
		l.alive.exchange("new message in chat")
	}
}
