package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cbodonnell/minechat/pkg/chat"
	"github.com/cbodonnell/minechat/pkg/history"
	"github.com/cbodonnell/minechat/pkg/log"
	"github.com/cbodonnell/minechat/pkg/queue"
)

const eventQueueCapacity = 256

type messageMsg history.Message

type statusMsg chat.Status

// Observer bridges chat callbacks into the program's message loop.
// Callbacks enqueue without blocking; a forwarding goroutine delivers
// the updates in arrival order.
type Observer struct {
	events queue.Queue
	send   func(tea.Msg)
}

// NewObserver creates an Observer delivering updates through send,
// typically a tea.Program's Send method.
func NewObserver(send func(tea.Msg)) *Observer {
	o := &Observer{
		events: queue.NewInMemoryQueue(eventQueueCapacity),
		send:   send,
	}
	go o.forward()
	return o
}

func (o *Observer) forward() {
	for item := range o.events.Items() {
		msg, ok := item.(tea.Msg)
		if !ok {
			continue
		}
		o.send(msg)
	}
}

func (o *Observer) OnMessage(msg history.Message) {
	if err := o.events.Enqueue(messageMsg(msg)); err != nil {
		log.Warn("Dropping message update: %v", err)
	}
}

func (o *Observer) OnStatus(status chat.Status) {
	if err := o.events.Enqueue(statusMsg(status)); err != nil {
		log.Warn("Dropping status update: %v", err)
	}
}
