package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/client"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Output formats of the list command.
const (
	formatTable    = "table"
	formatMarkdown = "markdown"
	formatJSON     = "json"
)

var (
	listLane     string
	listStatuses []string
	listLimit    int
	listOldest   bool
	listFilter   string
	listFormat   string

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List queued messages",
		Long: paragraph(fmt.Sprintf("\n%s messages, newest first. Filter by queue and status on the server, then fuzzily by sender and text.", keyword("List"))),
		Example: paragraph(`streamtts list --lane bits --status READY,PENDING
streamtts list --filter "alice hello" --format markdown`),
		Args: cobra.NoArgs,
		RunE: runList,
	}
)

func init() {
	listCmd.Flags().StringVarP(&listLane, "lane", "l", "", "only this queue: mentions or bits")
	listCmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "only these statuses, comma separated")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum messages to fetch")
	listCmd.Flags().BoolVar(&listOldest, "oldest", false, "oldest first")
	listCmd.Flags().StringVarP(&listFilter, "filter", "f", "", "fuzzy match on sender and text")
	listCmd.Flags().StringVar(&listFormat, "format", formatTable, "output: table, markdown or json")
}

func runList(cmd *cobra.Command, _ []string) error {
	switch listFormat {
	case formatTable, formatMarkdown, formatJSON:
	default:
		return fmt.Errorf("unknown format %q: use %s, %s or %s", listFormat, formatTable, formatMarkdown, formatJSON)
	}

	var msgs []api.Message
	err := withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var err error
		msgs, err = c.Messages(ctx, client.ListOptions{
			Lane:     listLane,
			Statuses: listStatuses,
			Limit:    listLimit,
			Newest:   !listOldest,
		})
		return err
	})
	if err != nil {
		return err
	}
	msgs = filterMessages(msgs, listFilter)

	switch listFormat {
	case formatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	case formatMarkdown:
		return renderMarkdown(os.Stdout, msgs, terminalWidth())
	default:
		if len(msgs) == 0 {
			fmt.Println(faint("No messages."))
			return nil
		}
		writeTable(os.Stdout, msgs, terminalWidth(), time.Now())
		return nil
	}
}

// messageSource adapts messages for fuzzy matching.
type messageSource []api.Message

func (s messageSource) String(i int) string { return s[i].SentBy + " " + s[i].Text }
func (s messageSource) Len() int            { return len(s) }

// filterMessages keeps messages fuzzily matching pattern, best match first.
func filterMessages(msgs []api.Message, pattern string) []api.Message {
	if strings.TrimSpace(pattern) == "" {
		return msgs
	}
	matches := fuzzy.FindFrom(pattern, messageSource(msgs))
	out := make([]api.Message, 0, len(matches))
	for _, m := range matches {
		out = append(out, msgs[m.Index])
	}
	return out
}

func terminalWidth() int {
	if term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 { //nolint:gosec
			return min(w, 120)
		}
	}
	return 80
}

type column struct {
	title string
	value func(api.Message) string
}

func tableColumns(now time.Time) []column {
	return []column{
		{"ID", func(m api.Message) string { return strconv.FormatInt(m.ID, 10) }},
		{"LANE", func(m api.Message) string { return string(m.Lane) }},
		{"STATUS", func(m api.Message) string { return string(m.Status) }},
		{"SENDER", func(m api.Message) string { return m.SentBy }},
		{"SIZE", func(m api.Message) string {
			if m.AudioSize == 0 {
				return "-"
			}
			return humanize.IBytes(uint64(m.AudioSize)) //nolint:gosec
		}},
		{"AGE", func(m api.Message) string { return humanize.RelTime(m.CreatedAt, now, "ago", "from now") }},
	}
}

// writeTable prints aligned columns with the text taking what is left of
// width.
func writeTable(w io.Writer, msgs []api.Message, width int, now time.Time) {
	cols := tableColumns(now)
	widths := make([]int, len(cols))
	cells := make([][]string, len(msgs))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c.title)
	}
	for r, m := range msgs {
		cells[r] = make([]string, len(cols))
		for i, c := range cols {
			cells[r][i] = c.value(m)
			widths[i] = max(widths[i], runewidth.StringWidth(cells[r][i]))
		}
	}

	used := 0
	for _, cw := range widths {
		used += cw + 2
	}
	textWidth := max(width-used, 10)

	header := make([]string, 0, len(cols)+1)
	for i, c := range cols {
		header = append(header, runewidth.FillRight(c.title, widths[i]))
	}
	header = append(header, "TEXT")
	fmt.Fprintln(w, lipgloss.NewStyle().Bold(true).Render(strings.Join(header, "  ")))

	for r, m := range msgs {
		row := make([]string, 0, len(cols)+1)
		for i := range cols {
			row = append(row, runewidth.FillRight(cells[r][i], widths[i]))
		}
		text := strings.Join(strings.Fields(m.Text), " ")
		row = append(row, runewidth.Truncate(text, textWidth, "…"))
		fmt.Fprintln(w, strings.Join(row, "  "))
	}
}

// markdownTable renders msgs as a GitHub flavored markdown table.
func markdownTable(msgs []api.Message) string {
	var b strings.Builder
	b.WriteString("| ID | Lane | Status | Sender | Text |\n")
	b.WriteString("|---:|------|--------|--------|------|\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			m.ID, m.Lane, m.Status, escapeCell(m.SentBy), escapeCell(m.Text))
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func renderMarkdown(w io.Writer, msgs []api.Message, width int) error {
	content := markdownTable(msgs)
	if len(msgs) == 0 {
		content = "_No messages._\n"
	}

	opt := glamour.WithAutoStyle()
	if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		opt = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		opt,
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(content)
	if err != nil {
		return fmt.Errorf("unable to render markdown: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}
