// Package ui is the live queue dashboard behind streamtts watch.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/client"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	te "github.com/muesli/termenv"
)

const (
	statusMessageTimeout = time.Second * 3
	ellipsis             = "…"
)

// NewProgram returns a new Tea program watching the server behind c.
func NewProgram(cfg Config, c Client) *tea.Program {
	log.Debug("Starting watch", "server", cfg.Server, "refresh", cfg.RefreshInterval, "feed", !cfg.NoFeed)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, c), opts...)
}

type model struct {
	cfg    Config
	client Client

	width  int
	height int

	stats    api.StatsResponse
	loaded   bool
	messages []api.Message
	feed     *client.Feed
	polling  bool

	// playing is the message this dashboard started, for mark played.
	playing int64

	confirmClear bool
	status       string
	statusSeq    int
	err          error

	spinner spinner.Model
	help    help.Model
}

func newModel(cfg Config, c Client) model {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(fuchsia)

	h := help.New()
	if !te.HasDarkBackground() {
		h.Styles.ShortKey = h.Styles.ShortKey.Foreground(midGray)
	}

	return model{
		cfg:     cfg,
		client:  c,
		spinner: sp,
		help:    h,
		polling: cfg.NoFeed,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		fetchStats(m.client),
		fetchMessages(m.client, m.cfg.Limit),
		refreshAfter(m.cfg.RefreshInterval),
	}
	if !m.cfg.NoFeed {
		cmds = append(cmds, openFeed(m.client))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case statsMsg:
		m.stats = api.StatsResponse(msg)
		m.loaded = true
		m.err = nil
		return m, nil

	case feedMsg:
		m.stats = api.StatsResponse(msg)
		m.loaded = true
		if m.feed == nil {
			return m, nil
		}
		return m, readFeed(m.feed)

	case messagesMsg:
		m.messages = msg
		return m, nil

	case feedOpenMsg:
		m.feed = msg.feed
		m.polling = false
		return m, readFeed(m.feed)

	case feedClosedMsg:
		if m.feed != nil {
			_ = m.feed.Close()
			m.feed = nil
		}
		log.Debug("Stats feed unavailable, polling", "err", msg.err)
		m.polling = true
		return m, nil

	case refreshMsg:
		cmds := []tea.Cmd{
			fetchMessages(m.client, m.cfg.Limit),
			refreshAfter(m.cfg.RefreshInterval),
		}
		if m.polling {
			cmds = append(cmds, fetchStats(m.client))
		}
		return m, tea.Batch(cmds...)

	case actionMsg:
		if msg.playing != 0 {
			m.playing = msg.playing
		}
		if msg.played {
			m.playing = 0
		}
		m.err = nil
		cmd := m.setStatus(msg.text)
		return m, tea.Batch(cmd, fetchStats(m.client), fetchMessages(m.client, m.cfg.Limit))

	case errMsg:
		m.err = msg.err
		return m, nil

	case statusTimeoutMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil

	case spinner.TickMsg:
		if m.loaded {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmClear {
		m.confirmClear = false
		if key.Matches(msg, keys.Confirm) {
			return m, clearLane(m.client)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		if m.feed != nil {
			_ = m.feed.Close()
		}
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, keys.Switch):
		return m, switchLane(m.client, m.stats.ActiveLane)
	case key.Matches(msg, keys.Clear):
		m.confirmClear = true
	case key.Matches(msg, keys.Autoplay):
		return m, setAutoplay(m.client, !m.stats.AutoplayEnabled)
	case key.Matches(msg, keys.PlayNext):
		return m, playNext(m.client)
	case key.Matches(msg, keys.Played):
		return m, markPlayed(m.client, m.playing)
	case key.Matches(msg, keys.Refresh):
		return m, tea.Batch(fetchStats(m.client), fetchMessages(m.client, m.cfg.Limit))
	}
	return m, nil
}

func (m *model) setStatus(text string) tea.Cmd {
	m.statusSeq++
	m.status = text
	return waitForStatusTimeout(m.statusSeq, statusMessageTimeout)
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n\n")

	if !m.loaded && m.err == nil {
		b.WriteString(m.spinner.View() + " Connecting to " + m.cfg.Server)
		return indent(b.String(), 1)
	}

	b.WriteString(m.countsView())
	b.WriteString("\n")
	b.WriteString(m.messagesView())
	b.WriteString("\n")

	switch {
	case m.confirmClear:
		b.WriteString(confirmStyle.Render(fmt.Sprintf("Clear every pending and ready message in %s? (y/N)", m.stats.ActiveLane)))
	case m.err != nil:
		b.WriteString(errorView(m.err, m.width))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n\n")
	b.WriteString(m.help.View(keys))

	return indent(b.String(), 1)
}

func (m model) headerView() string {
	autoplay := subtleStyle.Render("autoplay off")
	if m.stats.AutoplayEnabled {
		autoplay = statusStyle.Render("autoplay on")
	}
	mode := subtleStyle.Render("live")
	if m.polling {
		mode = subtleStyle.Render("polling")
	}
	lane := string(m.stats.ActiveLane)
	if lane == "" {
		lane = "…"
	}
	return lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("streamtts"), " ",
		laneStyle.Render(lane), "  ",
		autoplay, "  ", mode)
}

func (m model) countsView() string {
	box := func(label string, n int, s message.Status) string {
		num := lipgloss.NewStyle().Foreground(statusColor(s)).Bold(true).Render(fmt.Sprint(n))
		return countBox.Render(labelStyle.Render(label) + "\n" + num)
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top,
		box("pending", m.stats.PendingCount, message.StatusPending),
		box("processing", m.stats.ProcessingCount, message.StatusProcessing),
		box("ready", m.stats.ReadyCount, message.StatusReady),
		box("error", m.stats.ErrorCount, message.StatusError),
	)
	audio := labelStyle.Render("mentions audio ") + humanize.IBytes(uint64(max(m.stats.MentionsReadyBytes, 0)))
	return row + "\n" + audio + "\n"
}

func (m model) messagesView() string {
	if len(m.messages) == 0 {
		return subtleStyle.Render("No messages yet.")
	}

	width := m.width - 2
	if width <= 0 {
		width = 80
	}

	var lines []string
	for _, msg := range m.messages {
		icon := lipgloss.NewStyle().Foreground(statusColor(msg.Status)).Render(statusIcon(msg.Status))
		meta := subtleStyle.Render(fmt.Sprintf("#%d %s %s", msg.ID, msg.Lane, humanize.Time(msg.CreatedAt)))
		head := fmt.Sprintf("%s %s %s", icon, msg.SentBy, meta)
		if msg.ID == m.playing {
			head += " " + laneStyle.Render("now playing")
		}
		text := strings.Join(strings.Fields(msg.Text), " ")
		lines = append(lines,
			truncate.StringWithTail(head, uint(width), ellipsis),
			"  "+truncate.StringWithTail(text, uint(max(width-2, 1)), ellipsis))
	}
	return strings.Join(lines, "\n")
}

func errorView(err error, width int) string {
	if width <= 0 {
		width = 80
	}
	return errorTitleStyle.Render("ERROR") + " " +
		errorStyle.Render(wordwrap.String(err.Error(), max(width-10, 20)))
}

func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}
