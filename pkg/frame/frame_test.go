package frame

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReadFrame(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single frame",
			input: "hello\n",
			want:  []string{"hello"},
		},
		{
			name:  "multiple frames",
			input: "one\ntwo\nthree\n",
			want:  []string{"one", "two", "three"},
		},
		{
			name:  "crlf delimiter stripped",
			input: "hello\r\n",
			want:  []string{"hello"},
		},
		{
			name:  "empty frame",
			input: "\n",
			want:  []string{""},
		},
		{
			name:  "interior carriage return kept",
			input: "a\rb\n",
			want:  []string{"a\rb"},
		},
		{
			name:  "utf-8 preserved",
			input: "привет 👋\n",
			want:  []string{"привет 👋"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input))
			for _, want := range tt.want {
				got, err := r.ReadFrame()
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			// the stream is exhausted
			_, err := r.ReadFrame()
			assert.True(t, IsConnectionClosed(err))
		})
	}
}

func TestReader_ReadFrameEOFDiscardsPartial(t *testing.T) {
	r := NewReader(strings.NewReader("no delimiter"))

	got, err := r.ReadFrame()
	assert.True(t, IsConnectionClosed(err))
	assert.Empty(t, got)
}

func TestReader_ReadFrameBuffersPartialReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("hel"))
		time.Sleep(10 * time.Millisecond)
		server.Write([]byte("lo\n"))
	}()

	r := NewReader(client)
	got, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestReader_ReadFrameTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(10*time.Millisecond)))

	r := NewReader(client)
	_, err := r.ReadFrame()
	assert.True(t, IsReadTimeout(err))
}

func TestReader_ReadFrameTimeoutKeepsPartial(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go server.Write([]byte("hel"))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(50*time.Millisecond)))

	r := NewReader(client)
	_, err := r.ReadFrame()
	require.True(t, IsReadTimeout(err))

	require.NoError(t, client.SetReadDeadline(time.Time{}))
	go server.Write([]byte("lo\n"))

	got, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestWriter_WriteFrame(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "single newline appended",
			text: "hello",
			want: "hello\n",
		},
		{
			name: "empty frame",
			text: "",
			want: "\n",
		},
		{
			name: "utf-8 passed through",
			text: "привет 👋",
			want: "привет 👋\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			require.NoError(t, w.WriteFrame(tt.text))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_WriteFrameClosedPipe(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	client.Close()

	w := NewWriter(client)
	err := w.WriteFrame("hello")
	assert.True(t, IsConnectionClosed(err))
}

func TestRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		w := NewWriter(server)
		w.WriteFrame("first")
		w.WriteFrame("second")
	}()

	r := NewReader(client)

	got, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}
