package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/client"
	"github.com/dgnsrekt/streamtts/internal/message"
)

const requestTimeout = 5 * time.Second

// Client is the API surface the dashboard drives.
type Client interface {
	Stats(ctx context.Context) (api.StatsResponse, error)
	Messages(ctx context.Context, opts client.ListOptions) ([]api.Message, error)
	PlayNext(ctx context.Context) (*api.PlayNextResponse, error)
	MarkPlayed(ctx context.Context, id int64) error
	Switch(ctx context.Context, lane string) (api.SwitchResponse, error)
	Clear(ctx context.Context) (api.ClearResponse, error)
	SetAutoplay(ctx context.Context, enabled bool) (api.AutoplayResponse, error)
	StatsFeed(ctx context.Context) (*client.Feed, error)
}

type (
	errMsg      struct{ err error }
	statsMsg    api.StatsResponse
	feedMsg     api.StatsResponse
	messagesMsg []api.Message
	refreshMsg  time.Time

	feedOpenMsg   struct{ feed *client.Feed }
	feedClosedMsg struct{ err error }

	// actionMsg reports the outcome of a key-triggered API call.
	actionMsg struct {
		text    string
		playing int64
		played  bool
	}
	statusTimeoutMsg struct{ seq int }
)

func (e errMsg) Error() string { return e.err.Error() }

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func fetchStats(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		st, err := c.Stats(ctx)
		if err != nil {
			return errMsg{err}
		}
		return statsMsg(st)
	}
}

func fetchMessages(c Client, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		msgs, err := c.Messages(ctx, client.ListOptions{Limit: limit, Newest: true})
		if err != nil {
			return errMsg{err}
		}
		return messagesMsg(msgs)
	}
}

func openFeed(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		feed, err := c.StatsFeed(ctx)
		if err != nil {
			return feedClosedMsg{err}
		}
		return feedOpenMsg{feed}
	}
}

func readFeed(feed *client.Feed) tea.Cmd {
	return func() tea.Msg {
		st, err := feed.Next()
		if err != nil {
			return feedClosedMsg{err}
		}
		return feedMsg(st)
	}
}

func refreshAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func waitForStatusTimeout(seq int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return statusTimeoutMsg{seq} })
}

func switchLane(c Client, current message.Lane) tea.Cmd {
	next := message.LaneBits
	if current == message.LaneBits {
		next = message.LaneMentions
	}
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		resp, err := c.Switch(ctx, string(next))
		if err != nil {
			return errMsg{err}
		}
		return actionMsg{text: resp.Message}
	}
}

func clearLane(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		resp, err := c.Clear(ctx)
		if err != nil {
			return errMsg{err}
		}
		return actionMsg{text: resp.Message}
	}
}

func setAutoplay(c Client, enabled bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		resp, err := c.SetAutoplay(ctx, enabled)
		if err != nil {
			return errMsg{err}
		}
		return actionMsg{text: resp.Message}
	}
}

func playNext(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		next, err := c.PlayNext(ctx)
		if err != nil {
			return errMsg{err}
		}
		if next == nil {
			return actionMsg{text: "Nothing ready to play"}
		}
		return actionMsg{
			text:    fmt.Sprintf("Playing #%d from %s", next.MessageID, next.SentBy),
			playing: next.MessageID,
		}
	}
}

func markPlayed(c Client, id int64) tea.Cmd {
	return func() tea.Msg {
		if id == 0 {
			return errMsg{errors.New("no message is playing")}
		}
		ctx, cancel := withTimeout()
		defer cancel()
		if err := c.MarkPlayed(ctx, id); err != nil {
			return errMsg{err}
		}
		return actionMsg{text: fmt.Sprintf("Marked #%d played", id), played: true}
	}
}
