package chat

import (
	"sync"

	"github.com/cbodonnell/minechat/pkg/history"
)

// Observers fans messages and status updates out to registered
// observers. Dispatch is synchronous and in registration order, so
// observers see messages in arrival order.
type Observers struct {
	lock      sync.Mutex
	observers []Observer
}

func NewObservers() *Observers {
	return &Observers{}
}

// RegisterObserver registers an observer for messages and status
// updates.
func (o *Observers) RegisterObserver(observer Observer) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.observers = append(o.observers, observer)
}

// NotifyMessage delivers a message to all registered observers.
func (o *Observers) NotifyMessage(msg history.Message) {
	o.lock.Lock()
	defer o.lock.Unlock()
	for _, observer := range o.observers {
		observer.OnMessage(msg)
	}
}

// NotifyStatus delivers a status update to all registered observers.
func (o *Observers) NotifyStatus(status Status) {
	o.lock.Lock()
	defer o.lock.Unlock()
	for _, observer := range o.observers {
		observer.OnStatus(status)
	}
}
