package queue

// Queue represents a bounded event queue.
type Queue interface {
	Enqueue(item interface{}) error
	Items() <-chan interface{}
	Size() int
	ClearQueue()
}

// ErrQueueFull is returned when enqueueing into a full queue.
type ErrQueueFull struct{}

func (e *ErrQueueFull) Error() string {
	return "queue is full"
}

func IsQueueFull(err error) bool {
	_, ok := err.(*ErrQueueFull)
	return ok
}
