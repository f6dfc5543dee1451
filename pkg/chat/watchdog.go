package chat

import (
	"context"
	"time"

	"github.com/cbodonnell/minechat/pkg/log"
	"github.com/cbodonnell/minechat/pkg/queue"
)

// liveness couples a role's watchdog feed with its backoff reset. An
// exchange proves the connection works end to end and clears the
// backoff counter; bare activity only feeds the watchdog.
type liveness struct {
	role    Role
	backoff *Backoff
	events  queue.Queue
}

func (l *liveness) exchange(source string) {
	l.backoff.Reset()
	l.activity(source)
}

func (l *liveness) activity(source string) {
	if l.events == nil {
		return
	}
	event := Event{
		Role:   l.role,
		Source: source,
		At:     time.Now(),
	}
	if err := l.events.Enqueue(event); err != nil {
		log.Warn("Failed to enqueue liveness event: %v", err)
	}
}

// watchdog force-closes connections whose last activity is older than
// the threshold, pushing the role through its normal reconnect path.
type watchdog struct {
	events     queue.Queue
	threshold  time.Duration
	forceClose func(Role)
}

func newWatchdog(events queue.Queue, threshold time.Duration, forceClose func(Role)) *watchdog {
	return &watchdog{
		events:     events,
		threshold:  threshold,
		forceClose: forceClose,
	}
}

func (w *watchdog) run(ctx context.Context) {
	checkInterval := w.threshold / 2
	if checkInterval < time.Second {
		checkInterval = time.Second
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	lastActivity := map[Role]time.Time{
		RoleListen: time.Now(),
		RoleSend:   time.Now(),
	}

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.events.Items():
			event, ok := item.(Event)
			if !ok {
				continue
			}
			lastActivity[event.Role] = event.At
			log.Debug("Connection is alive: %s", event.Source)
		case <-ticker.C:
			for role, last := range lastActivity {
				stale := time.Since(last)
				if stale > w.threshold {
					log.Warn("No activity on the %s connection for %s, forcing a reconnect", role, stale.Round(time.Second))
					w.forceClose(role)
					lastActivity[role] = time.Now()
				}
			}
		}
	}
}
