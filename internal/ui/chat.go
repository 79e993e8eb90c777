package ui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Medal-OF-Owner/Chatlet/internal/mesh"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/transcript"
)

// Actions are what the chat screen can ask of the session.
type Actions interface {
	Send(content string) error
	Rename(nickname string) error
	Typing(typing bool) error
	Peers() []mesh.PeerInfo
	Reconnect(nickname string) error
	SetMedia(on bool) error
}

// Messages sent to the chat program from other goroutines.
type (
	IncomingMsg     protocol.ChatMessage
	NoticeMsg       string
	NicknameMsg     string
	PeersChangedMsg struct{}
	DisconnectedMsg struct{ Err error }
)

type TypingMsg struct {
	Nickname string
	Typing   bool
}

// chrome is the number of lines around the viewport: header, typing line
// and the bordered input.
const chrome = 4

// Chat is the bubbletea model of the room screen.
type Chat struct {
	room     string
	nickname string
	actions  Actions

	log    *transcript.Transcript
	typing map[string]bool

	viewport   viewport.Model
	input      textinput.Model
	width      int
	ready      bool
	typingSent bool
	quitting   bool
}

func NewChat(room, nickname string, actions Actions, history []protocol.ChatMessage) *Chat {
	input := textinput.New()
	input.Placeholder = "Say something, or /help"
	input.Prompt = "› "
	input.CharLimit = 2000
	input.Focus()

	log := transcript.New(0)
	log.LoadHistory(history)
	log.Notice(fmt.Sprintf("joined %s as %s", room, nickname))

	return &Chat{
		room:     room,
		nickname: nickname,
		actions:  actions,
		log:      log,
		typing:   make(map[string]bool),
		input:    input,
	}
}

func (m *Chat) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Chat) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := max(msg.Height-chrome, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width, m.viewport.Height = msg.Width, height
		}
		m.input.Width = max(msg.Width-4, 10)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			if cmd := m.submit(); cmd != nil {
				return m, cmd
			}
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
			m.setTyping(strings.TrimSpace(m.input.Value()) != "")
		}

	case IncomingMsg:
		m.log.Confirm(protocol.ChatMessage(msg))
		delete(m.typing, msg.Nickname)

	case NoticeMsg:
		m.log.Notice(string(msg))

	case NicknameMsg:
		m.nickname = string(msg)
		m.log.Notice("you are now " + m.nickname)

	case TypingMsg:
		if msg.Typing {
			m.typing[msg.Nickname] = true
		} else {
			delete(m.typing, msg.Nickname)
		}

	case PeersChangedMsg:
		// The header reads Peers() on every render.

	case DisconnectedMsg:
		m.quitting = true
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.refresh()
	return m, tea.Batch(cmds...)
}

// submit sends the input line or runs it as a command.
func (m *Chat) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	m.setTyping(false)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "/") {
		return m.runCommand(line)
	}
	if err := m.actions.Send(line); err != nil {
		m.log.Notice("not sent: " + err.Error())
		return nil
	}
	m.log.AddPending(m.nickname, line)
	return nil
}

func (m *Chat) runCommand(line string) tea.Cmd {
	cmd, err := ParseCommand(line)
	if err == nil {
		switch cmd.Kind {
		case CmdNick:
			err = m.actions.Rename(cmd.Arg)
		case CmdWho:
			m.log.Notice("\n" + PeersView(m.actions.Peers()))
		case CmdReconnect:
			if err = m.actions.Reconnect(cmd.Arg); err == nil {
				m.log.Notice("reconnecting to " + cmd.Arg)
			}
		case CmdMedia:
			err = m.actions.SetMedia(cmd.Arg == "on")
		case CmdQuit:
			m.quitting = true
			return tea.Quit
		case CmdHelp:
			m.log.Notice(helpText)
		}
	}
	if err != nil {
		m.log.Notice(err.Error())
	}
	return nil
}

func (m *Chat) setTyping(typing bool) {
	if typing == m.typingSent {
		return
	}
	m.typingSent = typing
	m.actions.Typing(typing)
}

func (m *Chat) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Chat) renderTranscript() string {
	var b strings.Builder
	for _, e := range m.log.Entries() {
		msg := e.Message
		ts := TimestampStyle.Render(msg.CreatedAt.Local().Format("15:04"))
		switch {
		case e.Kind == transcript.KindNotice:
			fmt.Fprintf(&b, "%s %s\n", ts, NoticeStyle.Render(msg.Content))
		case e.Pending:
			fmt.Fprintf(&b, "%s %s %s\n", ts, PendingStyle.Render(msg.Nickname+":"), PendingStyle.Render(msg.Content))
		default:
			fmt.Fprintf(&b, "%s %s %s\n", ts, NicknameStyle(msg.TextColor).Render(msg.Nickname+":"), msg.Content)
		}
	}
	return lipgloss.NewStyle().Width(m.width).Render(strings.TrimSuffix(b.String(), "\n"))
}

func (m *Chat) typingLine() string {
	names := make([]string, 0, len(m.typing))
	for n := range m.typing {
		names = append(names, n)
	}
	slices.Sort(names)

	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return "several people are typing…"
	}
}

func (m *Chat) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "\n  " + MutedStyle.Render("loading…")
	}

	peers := m.actions.Peers()
	linked := 0
	for _, p := range peers {
		if p.State == mesh.StateLinked {
			linked++
		}
	}
	header := HeaderStyle.Width(m.width).Render(fmt.Sprintf("%s %s   %s %s   %s %d/%d linked",
		IconRoom, m.room, IconPeer, m.nickname, IconLink, linked, len(peers)))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		MutedStyle.Render(m.typingLine()),
		InputStyle.Width(m.width).Render(m.input.View()),
	)
}

// Nickname is the nickname the screen currently shows.
func (m *Chat) Nickname() string { return m.nickname }

// Transcript exposes the conversation for inspection.
func (m *Chat) Transcript() *transcript.Transcript { return m.log }
