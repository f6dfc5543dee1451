// Package ui implements the interactive terminal client: a scrolling
// message view fed by the chat observer, an input line for outbound
// messages, and a status bar showing the connection states and the
// authenticated account.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/cbodonnell/minechat/pkg/chat"
	"github.com/cbodonnell/minechat/pkg/history"
)

// maxMessages bounds the scrollback kept in memory.
const maxMessages = 500

var (
	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	accountStyle = lipgloss.NewStyle().
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// Chat is the part of the chat client the UI drives.
type Chat interface {
	Send(text string) error
}

type sendFailedMsg struct {
	err error
}

// Model is the bubbletea model for the chat window.
type Model struct {
	client Chat

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	messages    []history.Message
	listenState chat.State
	sendState   chat.State
	account     string
	lastErr     string
	width       int
	height      int
	ready       bool
}

// NewModelOptions are the options for creating a new Model.
type NewModelOptions struct {
	Chat Chat
	// InitialMessages seed the message view, typically the tail of
	// the history store.
	InitialMessages []history.Message
}

// NewModel creates a new Model.
func NewModel(opts NewModelOptions) *Model {
	input := textinput.New()
	input.Placeholder = "Message"
	input.Prompt = "> "
	input.CharLimit = 1000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(0, 0)
	// Plain letter keys must stay with the input line.
	vp.KeyMap.Up.SetKeys("up")
	vp.KeyMap.Down.SetKeys("down")
	vp.KeyMap.PageUp.SetKeys("pgup")
	vp.KeyMap.PageDown.SetKeys("pgdown")
	vp.KeyMap.HalfPageUp.SetKeys("ctrl+u")
	vp.KeyMap.HalfPageDown.SetKeys("ctrl+d")

	messages := opts.InitialMessages
	if len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}

	return &Model{
		client:      opts.Chat,
		viewport:    vp,
		input:       input,
		spinner:     sp,
		messages:    messages,
		listenState: chat.StateDisconnected,
		sendState:   chat.StateDisconnected,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.updateViewport()
		m.ready = true
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			if cmd := m.sendCmd(text); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case messageMsg:
		m.appendMessage(history.Message(msg))
	case statusMsg:
		m.applyStatus(chat.Status(msg))
	case sendFailedMsg:
		m.lastErr = msg.err.Error()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n %s Starting...", m.spinner.View())
	}
	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), m.input.View(), m.statusBar())
}

func (m *Model) sendCmd(text string) tea.Cmd {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	client := m.client
	return func() tea.Msg {
		if err := client.Send(text); err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (m *Model) appendMessage(msg history.Message) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
	m.updateViewport()
}

func (m *Model) applyStatus(status chat.Status) {
	switch status.Role {
	case chat.RoleListen:
		m.listenState = status.State
	case chat.RoleSend:
		m.sendState = status.State
	}
	if status.Account != "" {
		m.account = status.Account
	}
	if status.Err != nil {
		m.lastErr = status.Err.Error()
	} else if status.State == chat.StateReady || status.State == chat.StateStreaming {
		m.lastErr = ""
	}
}

func (m *Model) resize() {
	// One line each for the input and the status bar.
	vpHeight := m.height - 2
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vpHeight
}

// updateViewport rebuilds the viewport content, keeping the view
// pinned to the newest message unless the user scrolled up.
func (m *Model) updateViewport() {
	if m.width == 0 {
		return
	}

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderMessage(msg, m.width))
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(b.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func renderMessage(msg history.Message, width int) string {
	line := msg.Text
	if !msg.ReceivedAt.IsZero() {
		stamp := timestampStyle.Render(msg.ReceivedAt.Format("15:04:05"))
		line = fmt.Sprintf("%s %s", stamp, msg.Text)
	}
	return wordwrap.String(line, width)
}

func (m *Model) statusBar() string {
	account := "not signed in"
	if m.account != "" {
		account = m.account
	}

	status := fmt.Sprintf("read: %s  send: %s", m.listenState, m.sendState)
	if m.listenState != chat.StateStreaming || m.sendState != chat.StateReady {
		status = fmt.Sprintf("%s %s", m.spinner.View(), status)
	}
	if m.lastErr != "" {
		status = fmt.Sprintf("%s  %s", status, errorStyle.Render(m.lastErr))
	}

	bar := fmt.Sprintf("%s  %s", accountStyle.Render(account), status)
	return statusBarStyle.Width(m.width).Render(bar)
}
