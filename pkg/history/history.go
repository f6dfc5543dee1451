package history

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is a single chat line received from the broadcast stream.
// The ordering key is append order, not ReceivedAt.
type Message struct {
	Text       string
	ReceivedAt time.Time
}

// Store persists chat messages in arrival order. Append returns only
// after the message is durably recorded.
type Store interface {
	Append(ctx context.Context, msg Message) error
	Recent(ctx context.Context, n int) ([]Message, error)
	Close(ctx context.Context) error
}

// FormatLine renders a message as a single history line.
func FormatLine(msg Message) string {
	return fmt.Sprintf("[%s] %s", msg.ReceivedAt.Format(time.RFC3339), msg.Text)
}

// ParseLine parses a history line. Lines without a timestamp prefix
// come back with the whole line as text and a zero time.
func ParseLine(line string) Message {
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "] "); end > 0 {
			if ts, err := time.Parse(time.RFC3339, line[1:end]); err == nil {
				return Message{
					Text:       line[end+2:],
					ReceivedAt: ts,
				}
			}
		}
	}
	return Message{Text: line}
}
