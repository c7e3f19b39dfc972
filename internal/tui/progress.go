package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"workshopdl/internal/queue"
)

const marqueeGap = "   "

// Column defines a single column in the progress table.
type Column struct {
	Header string
	Width  int
}

// Columns is the fixed layout of the download table.
var Columns = []Column{
	{Header: "NAME", Width: 28},
	{Header: "ITEM", Width: 12},
	{Header: "STATUS", Width: 11},
	{Header: "INSTALL", Width: 9},
	{Header: "OUTPUT", Width: 48},
}

const (
	colName = iota
	colItem
	colStatus
	colInstall
	colOutput
)

type row struct {
	fields []string
	req    queue.Request
}

// ProgressModel is a bubbletea model rendering one row per queue request,
// updated from queue events.
type ProgressModel struct {
	title    string
	rows     []row
	rowIndex map[string]int
	notice   string
	spinner  spinner.Model
	tick     int
	done     bool
	err      error
}

// NewProgressModel creates an empty model. Rows appear as requests are
// submitted; Seed pre-populates them from a snapshot.
func NewProgressModel(title string) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return ProgressModel{
		title:    title,
		rowIndex: make(map[string]int),
		spinner:  sp,
	}
}

// Seed adds rows for requests that already exist. Call before the program
// starts.
func (m *ProgressModel) Seed(reqs []queue.Request) {
	for _, r := range reqs {
		m.upsert(r)
	}
}

// Init satisfies the tea.Model interface.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update satisfies the tea.Model interface.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		return m, nil

	case SnapshotMsg:
		m.Seed(msg.Requests)
		return m, nil

	case WorkDoneMsg:
		m.done = true
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *ProgressModel) apply(ev queue.Event) {
	idx := m.upsert(ev.Request)
	switch ev.Type {
	case queue.EventLog:
		m.rows[idx].fields[colOutput] = ev.Line
	case queue.EventNotice:
		m.notice = fmt.Sprintf("[%s] %s: %s", ev.Stage, ev.Request.DisplayName, ev.Message)
	case queue.EventStatus:
		if ev.Request.Status == queue.StatusFailed {
			m.rows[idx].fields[colOutput] = ev.Request.Reason
		}
	}
}

func (m *ProgressModel) upsert(r queue.Request) int {
	idx, ok := m.rowIndex[r.ID]
	if !ok {
		idx = len(m.rows)
		m.rowIndex[r.ID] = idx
		m.rows = append(m.rows, row{fields: make([]string, len(Columns))})
	}
	rw := &m.rows[idx]
	rw.req = r
	rw.fields[colName] = r.DisplayName
	rw.fields[colItem] = r.ItemID
	rw.fields[colStatus] = string(r.Status)
	rw.fields[colInstall] = NonEmptyOrDash(string(r.Install))
	return idx
}

// View satisfies the tea.Model interface.
func (m ProgressModel) View() string {
	if m.done && m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}

	widths := make([]int, len(Columns))
	for i, col := range Columns {
		widths[i] = max(len(col.Header), col.Width)
	}

	var b strings.Builder
	if m.title != "" {
		b.WriteString(HeaderStyle.Render(m.title))
		b.WriteString("\n\n")
	}

	headerParts := make([]string, len(Columns))
	for i, col := range Columns {
		headerParts[i] = HeaderStyle.Render(pad(col.Header, widths[i]))
	}
	b.WriteString(strings.Join(headerParts, "  "))
	b.WriteByte('\n')

	for _, rw := range m.rows {
		parts := make([]string, len(Columns))
		for i := range Columns {
			val := rw.fields[i]
			if !m.done && i == colOutput && len(strings.TrimSpace(val)) > widths[i] {
				val = marqueeText(val, widths[i], m.tick)
			} else {
				val = TruncateWithEllipsis(val, widths[i])
			}
			if i == colStatus || i == colInstall {
				parts[i] = StatusStyle(val).Render(pad(val, widths[i]))
			} else {
				parts[i] = pad(val, widths[i])
			}
		}
		b.WriteString(strings.Join(parts, "  "))
		b.WriteByte('\n')
	}

	if !m.done {
		settled, total := m.progressCounts()
		fmt.Fprintf(&b, "\n%s Settled %d/%d\n", m.spinner.View(), settled, total)
		if m.notice != "" {
			b.WriteString(NoticeStyle.Render(m.notice))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// progressCounts returns (settled, total).
func (m ProgressModel) progressCounts() (int, int) {
	settled := 0
	for _, rw := range m.rows {
		if rw.req.Settled() {
			settled++
		}
	}
	return settled, len(m.rows)
}

// Done returns whether the model has finished (work done or error).
func (m ProgressModel) Done() bool {
	return m.done
}

// Err returns any fatal error that occurred.
func (m ProgressModel) Err() error {
	return m.err
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// marqueeText renders a scrolling window over text that exceeds the given width.
func marqueeText(text string, width, tick int) string {
	text = strings.TrimSpace(text)
	if width <= 0 {
		return ""
	}
	if len(text) <= width {
		return text
	}
	cycle := text + marqueeGap
	cycleLen := len(cycle)
	offset := tick % cycleLen
	var result strings.Builder
	result.Grow(width)
	for i := 0; i < width; i++ {
		result.WriteByte(cycle[(offset+i)%cycleLen])
	}
	return result.String()
}

// NonEmptyOrDash returns "-" for empty/whitespace strings.
func NonEmptyOrDash(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}

// TruncateWithEllipsis truncates a string and adds "..." if it exceeds max length.
func TruncateWithEllipsis(value string, max int) string {
	if max <= 0 {
		return ""
	}
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
