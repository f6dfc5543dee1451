package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore appends messages to a plain text file, one line per
// message. Each append opens, writes, syncs and closes the file, so
// a restarted client resumes the same file without truncation.
type FileStore struct {
	path string
	lock sync.Mutex
}

// NewFileStore creates a new file store. The file itself is created
// on first append.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %v", err)
		}
	}

	return &FileStore{
		path: path,
	}, nil
}

func (s *FileStore) Append(ctx context.Context, msg Message) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %v", err)
	}

	if _, err := f.WriteString(FormatLine(msg) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write history line: %v", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync history file: %v", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %v", err)
	}

	return nil
}

func (s *FileStore) Recent(ctx context.Context, n int) ([]Message, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %v", err)
	}

	content := strings.TrimSuffix(string(b), "\n")
	if content == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	messages := make([]Message, 0, len(lines))
	for _, line := range lines {
		messages = append(messages, ParseLine(line))
	}

	return messages, nil
}

func (s *FileStore) Close(ctx context.Context) error {
	return nil
}
