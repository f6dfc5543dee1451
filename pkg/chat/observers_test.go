package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/minechat/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	lock     sync.Mutex
	messages []history.Message
	statuses []Status
}

func (o *recordingObserver) OnMessage(msg history.Message) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.messages = append(o.messages, msg)
}

func (o *recordingObserver) OnStatus(status Status) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) Messages() []history.Message {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]history.Message{}, o.messages...)
}

func (o *recordingObserver) Statuses() []Status {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]Status{}, o.statuses...)
}

func TestObservers_NotifyMessageInOrder(t *testing.T) {
	observers := NewObservers()
	first := &recordingObserver{}
	second := &recordingObserver{}
	observers.RegisterObserver(first)
	observers.RegisterObserver(second)

	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		observers.NotifyMessage(history.Message{Text: text, ReceivedAt: time.Now()})
	}

	for _, observer := range []*recordingObserver{first, second} {
		messages := observer.Messages()
		require.Len(t, messages, 3)
		for i, text := range texts {
			assert.Equal(t, text, messages[i].Text)
		}
	}
}

func TestObservers_NotifyStatus(t *testing.T) {
	observers := NewObservers()
	observer := &recordingObserver{}
	observers.RegisterObserver(observer)

	observers.NotifyStatus(Status{Role: RoleSend, State: StateReady, Account: "alice"})

	statuses := observer.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, RoleSend, statuses[0].Role)
	assert.Equal(t, StateReady, statuses[0].State)
	assert.Equal(t, "alice", statuses[0].Account)
}
