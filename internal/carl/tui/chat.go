package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	cursor "github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	carl "github.com/carl-labs/carl/internal/carl"
	"github.com/carl-labs/carl/internal/carl/render"
	"github.com/carl-labs/carl/internal/iostreams"
	"github.com/carl-labs/carl/internal/meta"
)

// Options configure the interactive chat experience.
type Options struct {
	BaseURL        string
	Client         *http.Client
	Model          string
	Models         []string
	RequestTimeout time.Duration
	ReportDuration bool
	UseColor       bool
	Version        string
}

const (
	userSpeaker        = "You"
	agentSpeaker       = "CARL"
	defaultPrompt      = "Your question... Ctrl+C to exit"
	promptSymbol       = "› "
	promptMinHeight    = 1
	promptMaxHeight    = 8
	defaultChatWidth   = 80
	writingStatus      = "Writing..."
	copiedStatus       = "Message copied to clipboard!"
	clearedStatus      = "Chat history cleared!"
	helpLine           = "enter send · tab model · ctrl+y copy · ctrl+l clear · ctrl+c quit"
	statusLingerPeriod = 3 * time.Second
)

type model struct {
	ctx  context.Context
	opts Options

	session *carl.Session
	models  []string
	current int

	input         textarea.Model
	spinner       spinner.Model
	streaming     bool
	buffer        string
	updates       chan string
	outcome       chan error
	responseStart time.Time

	status      string
	statusSetAt time.Time
	width       int

	speakerStyle lipgloss.Style
	agentStyle   lipgloss.Style
	statusStyle  lipgloss.Style
	helpStyle    lipgloss.Style
}

type (
	readyMsg struct{}

	submitStartedMsg struct {
		updates chan string
		outcome chan error
	}

	bufferUpdateMsg struct {
		buffer string
	}

	submitFinishedMsg struct {
		err error
	}

	statusExpiredMsg struct {
		setAt time.Time
	}
)

// Run launches the interactive chat session and blocks until it exits.
func Run(ctx context.Context, streams *iostreams.IOStreams, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	session := carl.NewSession(carl.SessionOptions{
		Client:         opts.Client,
		BaseURL:        opts.BaseURL,
		RequestTimeout: opts.RequestTimeout,
		ReportDuration: opts.ReportDuration,
	})

	logger := carl.ContextLogger(ctx)
	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "chat session start",
			slog.String("session_id", session.ID()),
			slog.String("model", opts.Model))
	}

	m := newModel(ctx, opts, session)
	program := tea.NewProgram(m,
		tea.WithInput(streams.In),
		tea.WithOutput(streams.Out),
		tea.WithoutSignalHandler(),
	)

	_, err := program.Run()

	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "chat session end",
			slog.String("session_id", session.ID()),
			slog.Int("turns", session.Transcript().Len()),
			slog.Bool("had_error", err != nil))
	}

	return err
}

func newModel(ctx context.Context, opts Options, session *carl.Session) *model {
	input := textarea.New()
	input.Placeholder = defaultPrompt
	input.Prompt = promptSymbol
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.MaxHeight = promptMaxHeight
	input.SetHeight(promptMinHeight)
	input.Focus()
	input.Cursor.SetMode(cursor.CursorStatic)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	models := opts.Models
	if len(models) == 0 {
		models = carl.Models
	}

	return &model{
		ctx:          ctx,
		opts:         opts,
		session:      session,
		models:       models,
		current:      indexOfModel(models, opts.Model),
		input:        input,
		spinner:      sp,
		width:        defaultChatWidth,
		speakerStyle: lipgloss.NewStyle().Bold(true),
		agentStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"}),
		statusStyle:  lipgloss.NewStyle().Faint(true),
		helpStyle:    lipgloss.NewStyle().Faint(true),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg { return readyMsg{} })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case readyMsg:
		return m, textarea.Blink

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.SetWidth(maxInt(20, msg.Width-4))
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case submitStartedMsg:
		m.updates = msg.updates
		m.outcome = msg.outcome
		return m, tea.Batch(m.spinner.Tick, waitForUpdate(msg.updates, msg.outcome))

	case bufferUpdateMsg:
		m.buffer = msg.buffer
		return m, waitForUpdate(m.updates, m.outcome)

	case submitFinishedMsg:
		m.streaming = false
		m.buffer = ""
		m.updates = nil
		m.outcome = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			// The failure turn is already committed; the status line is
			// only a hint that the log has details.
			return m, m.setStatus("Response failed, see log for details")
		}
		return m, nil

	case statusExpiredMsg:
		if m.statusSetAt.Equal(msg.setAt) {
			m.status = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		if m.streaming {
			return m, nil
		}
		prompt := strings.TrimSpace(m.input.Value())
		if prompt == "" {
			return m, nil
		}
		m.input.Reset()
		m.streaming = true
		m.buffer = ""
		m.responseStart = time.Now()
		return m, m.startSubmitCmd(prompt)

	case "tab":
		if m.streaming || len(m.models) == 0 {
			return m, nil
		}
		m.current = (m.current + 1) % len(m.models)
		return m, m.setStatus(fmt.Sprintf("Model: %s", m.models[m.current]))

	case "ctrl+l":
		if m.streaming {
			return m, nil
		}
		m.session.Transcript().Clear()
		return m, m.setStatus(clearedStatus)

	case "ctrl+y":
		turns := m.session.Transcript().All()
		if len(turns) == 0 {
			return m, nil
		}
		if err := clipboard.WriteAll(turns[len(turns)-1].Content); err != nil {
			return m, m.setStatus("Clipboard unavailable")
		}
		return m, m.setStatus(copiedStatus)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startSubmitCmd runs the submission in the background and hands the TUI a
// pair of channels: buffer updates published per fragment and the terminal
// outcome. Publishes are coalesced latest-wins; the committed turn is read
// back from the transcript so the final rendering never depends on the last
// update surviving.
func (m *model) startSubmitCmd(prompt string) tea.Cmd {
	updates := make(chan string, 8)
	outcome := make(chan error, 1)

	session := m.session
	modelName := m.models[m.current]
	ctx := m.ctx

	go func() {
		err := session.Submit(ctx, modelName, prompt, carl.SinkFunc(func(buffer string) {
			select {
			case updates <- buffer:
			default:
				select {
				case <-updates:
				default:
				}
				select {
				case updates <- buffer:
				default:
				}
			}
		}))
		close(updates)
		outcome <- err
	}()

	return func() tea.Msg {
		return submitStartedMsg{updates: updates, outcome: outcome}
	}
}

func waitForUpdate(updates chan string, outcome chan error) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		buffer, ok := <-updates
		if !ok {
			return submitFinishedMsg{err: <-outcome}
		}
		return bufferUpdateMsg{buffer: buffer}
	}
}

func (m *model) setStatus(status string) tea.Cmd {
	m.status = status
	m.statusSetAt = time.Now()
	setAt := m.statusSetAt
	return tea.Tick(statusLingerPeriod, func(time.Time) tea.Msg {
		return statusExpiredMsg{setAt: setAt}
	})
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(m.renderBanner())
	b.WriteString("\n\n")

	for _, turn := range m.session.Transcript().All() {
		b.WriteString(m.renderTurn(turn))
		b.WriteString("\n\n")
	}

	if m.streaming {
		b.WriteString(m.speaker(carl.RoleAssistant))
		b.WriteString("\n")
		if m.buffer != "" {
			b.WriteString(wordwrap.String(m.buffer, m.contentWidth()))
			b.WriteString("\n")
		}
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.statusStyle.Render(writingStatus))
		b.WriteString("\n\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString(m.statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.helpStyle.Render(helpLine))

	return b.String()
}

func (m *model) renderBanner() string {
	title := fmt.Sprintf("%s %s", meta.ProductName, m.opts.Version)
	modelLine := fmt.Sprintf("model: %s", m.models[m.current])
	return m.agentStyle.Render(title) + "\n" + m.statusStyle.Render(modelLine)
}

func (m *model) renderTurn(turn carl.Turn) string {
	header := m.speaker(turn.Role)
	body := turn.Content
	if turn.Role == carl.RoleAssistant {
		body = render.Markdown(body, render.Options{
			NoColor: !m.opts.UseColor,
			Width:   m.contentWidth(),
		})
	} else {
		body = wordwrap.String(body, m.contentWidth())
	}
	return header + "\n" + body
}

func (m *model) speaker(role carl.Role) string {
	if role == carl.RoleAssistant {
		return m.agentStyle.Render(agentSpeaker)
	}
	return m.speakerStyle.Render(userSpeaker)
}

func (m *model) contentWidth() int {
	return clampInt(m.width-2, 20, 120)
}

func indexOfModel(models []string, name string) int {
	for i, m := range models {
		if m == name {
			return i
		}
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lower, upper int) int {
	if v < lower {
		return lower
	}
	if v > upper {
		return upper
	}
	return v
}
