package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/Vovarama1992/ai-chat/internal/chat"
	"github.com/Vovarama1992/ai-chat/internal/logger"
)

type appConfig struct {
	url        string
	userID     string
	signingKey string
	chatID     string
	model      string
	altScreen  bool
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseFlags() appConfig {
	_ = godotenv.Load()

	cfg := appConfig{}
	flag.StringVar(&cfg.url, "url", envOr("CHAT_API_URL", "http://127.0.0.1:8080"), "Chat API base URL")
	flag.StringVar(&cfg.userID, "user", envOr("CHAT_USER_ID", ""), "User id sent in the identity header")
	flag.StringVar(&cfg.signingKey, "key", envOr("AUTH_SIGNING_KEY", ""), "Key used to sign the identity header")
	flag.StringVar(&cfg.chatID, "chat", "", "Existing conversation id (empty creates one)")
	flag.StringVar(&cfg.model, "model", envOr("OPENAI_MODEL", ""), "Model to request (empty uses the server default)")
	flag.BoolVar(&cfg.altScreen, "alt-screen", true, "Use the terminal alternate screen")
	flag.Parse()
	return cfg
}

type uiTheme struct {
	header      lipgloss.Style
	panel       lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	tool        lipgloss.Style
	muted       lipgloss.Style
	roles       map[chat.Role]lipgloss.Style
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(blue).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		footer:      lipgloss.NewStyle().Foreground(muted),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		tool:        lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		muted:       lipgloss.NewStyle().Foreground(muted),
		roles: map[chat.Role]lipgloss.Style{
			chat.RoleUser:      lipgloss.NewStyle().Foreground(mint).Bold(true),
			chat.RoleAssistant: lipgloss.NewStyle().Foreground(pink).Bold(true),
			chat.RoleSystem:    lipgloss.NewStyle().Foreground(muted).Bold(true),
		},
	}
}

type initDoneMsg struct {
	conv *chat.Conversation
	err  error
}

type snapshotMsg struct {
	snap chat.Snapshot
}

type actionDoneMsg struct {
	info    string
	renamed string
	err     error
}

type model struct {
	cfg    appConfig
	client *chat.Client
	sess   *chat.Session

	inbound chan tea.Msg

	chatName   string
	snap       chat.Snapshot
	ready      bool
	statusLine string
	lastErr    error

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model

	theme uiTheme
}

func newModel(cfg appConfig) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 8000
	input.Placeholder = "Message. /stop /retry /delete N /model NAME /rename NAME /quit"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	return model{
		cfg:        cfg,
		client:     chat.NewClient(cfg.url, cfg.userID, cfg.signingKey, &http.Client{}),
		inbound:    make(chan tea.Msg, 256),
		statusLine: "connecting...",
		input:      input,
		timeline:   timeline,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.initCmd(), waitMsg(m.inbound))
}

func (m model) initCmd() tea.Cmd {
	client := m.client
	chatID := m.cfg.chatID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if chatID == "" {
			id, err := client.CreateChat(ctx)
			if err != nil {
				return initDoneMsg{err: err}
			}
			chatID = id
		}
		conv, err := client.GetChat(ctx, chatID)
		return initDoneMsg{conv: conv, err: err}
	}
}

func waitMsg(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) submitCmd(text string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return actionDoneMsg{err: sess.Submit(context.Background(), text, nil)}
	}
}

func (m model) retryCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return actionDoneMsg{info: "retried", err: sess.Retry(context.Background())}
	}
}

func (m model) renameCmd(name string) tea.Cmd {
	client := m.client
	id := m.snap.ConversationID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.RenameChat(ctx, id, name); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{info: "renamed", renamed: name}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case initDoneMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			m.statusLine = "startup failed"
			break
		}
		inbound := m.inbound
		m.chatName = msg.conv.Name
		m.sess = chat.NewSession(chat.SessionOptions{
			ConversationID: msg.conv.ID,
			Model:          m.cfg.model,
			Messages:       msg.conv.Messages,
			Transport:      m.client,
			OnChange: func(s chat.Snapshot) {
				// snapshots are whole states, a dropped one is superseded
				select {
				case inbound <- snapshotMsg{snap: s}:
				default:
				}
			},
		})
		m.snap = m.sess.Snapshot()
		m.ready = true
		m.statusLine = "ready · chat=" + msg.conv.ID
		m.renderTimeline()
	case snapshotMsg:
		m.snap = msg.snap
		m.renderTimeline()
		cmds = append(cmds, waitMsg(m.inbound))
	case actionDoneMsg:
		if m.sess != nil {
			m.snap = m.sess.Snapshot()
		}
		m.lastErr = msg.err
		switch {
		case msg.err != nil:
			m.statusLine = "error: " + msg.err.Error()
		case msg.info != "":
			m.statusLine = msg.info
		default:
			m.statusLine = "ready"
		}
		if msg.renamed != "" {
			m.chatName = msg.renamed
		}
		m.renderTimeline()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 6
		m.timeline.Width = msg.Width - 4
		m.timeline.Height = msg.Height - 9
		if m.timeline.Height < 3 {
			m.timeline.Height = 3
		}
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.sess != nil {
				_ = m.sess.Close()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.sess != nil {
				m.sess.Stop()
				m.statusLine = "stopping..."
			}
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text == "" || !m.ready {
				return m, nil
			}
			cmd, quit := m.handleInput(text)
			if quit {
				_ = m.sess.Close()
				return m, tea.Quit
			}
			m.renderTimeline()
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleInput runs slash commands and submits everything else.
func (m *model) handleInput(text string) (tea.Cmd, bool) {
	if !strings.HasPrefix(text, "/") {
		m.statusLine = "sending..."
		return m.submitCmd(text), false
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "q":
		return nil, true
	case "stop":
		m.sess.Stop()
		m.statusLine = "stopping..."
	case "retry":
		m.statusLine = "retrying..."
		return m.retryCmd(), false
	case "model":
		m.sess.SetModel(arg)
		m.snap = m.sess.Snapshot()
		m.statusLine = "model set to " + nullCoalesce(arg, "server default")
	case "delete":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(m.snap.Messages) {
			m.statusLine = "usage: /delete N (1-based message number)"
			break
		}
		if m.sess.Delete(m.snap.Messages[n-1].ID) {
			m.snap = m.sess.Snapshot()
			m.statusLine = fmt.Sprintf("deleted message %d", n)
		}
	case "rename":
		if arg == "" {
			m.statusLine = "usage: /rename NAME"
			break
		}
		return m.renameCmd(arg), false
	default:
		m.statusLine = "unknown command /" + name
	}
	return nil, false
}

func (m *model) renderTimeline() {
	if m.timeline.Width <= 0 {
		return
	}
	var b strings.Builder
	for i, msg := range m.snap.Messages {
		style, ok := m.theme.roles[msg.Role]
		if !ok {
			style = m.theme.muted
		}
		fmt.Fprintf(&b, "%s %s\n", m.theme.muted.Render(fmt.Sprintf("%2d", i+1)), style.Render(string(msg.Role)))
		for _, p := range msg.Parts {
			switch p.Type {
			case chat.PartText:
				b.WriteString(lipgloss.NewStyle().Width(m.timeline.Width - 2).Render(p.Text))
				b.WriteString("\n")
			case chat.PartToolInvocation:
				if inv := p.ToolInvocation; inv != nil {
					line := fmt.Sprintf("⚙ %s(%s)", inv.ToolName, string(inv.Args))
					if inv.State == chat.ToolStateResult {
						line += " → " + string(inv.Result)
					}
					b.WriteString(m.theme.tool.Render(line) + "\n")
				}
			}
		}
		if len(msg.Parts) == 0 && msg.Content != "" {
			b.WriteString(msg.Content + "\n")
		}
		for _, a := range msg.Attachments {
			b.WriteString(m.theme.muted.Render("📎 "+nullCoalesce(a.Name, a.ContentType)) + "\n")
		}
		b.WriteString("\n")
	}
	m.timeline.SetContent(b.String())
	m.timeline.GotoBottom()
}

func (m model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	name := nullCoalesce(m.chatName, chat.DefaultConversationName)
	modelName := nullCoalesce(m.snap.Model, "default")
	header := m.theme.header.Width(m.width - 2).Render(fmt.Sprintf("%s · model %s", name, modelName))

	status := m.theme.status.Render(string(m.snap.Status))
	if m.snap.Status == chat.StatusSubmitted || m.snap.Status == chat.StatusStreaming {
		status = m.spinner.View() + " " + status
	}
	line := m.statusLine
	if m.lastErr != nil || m.snap.Status == chat.StatusError {
		line = m.theme.errorStatus.Render(line)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.theme.panel.Width(m.width-2).Render(m.timeline.View()),
		m.theme.panel.Width(m.width-2).Render(m.input.View()),
		m.theme.footer.Render(status+" · "+line+" · esc stop · ctrl+c quit"),
	)
}

func nullCoalesce(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func main() {
	cfg := parseFlags()
	if cfg.userID == "" || cfg.signingKey == "" {
		fmt.Fprintln(os.Stderr, "both -user and -key (or CHAT_USER_ID and AUTH_SIGNING_KEY) are required")
		os.Exit(1)
	}
	// the UI owns stdout
	logger.InitWriter(os.Stderr, "error")

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(cfg), opts...)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "chat-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}
