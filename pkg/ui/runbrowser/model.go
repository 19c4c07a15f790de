package runbrowser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

const listWidth = 60

var (
	titleStyle     = lipgloss.NewStyle().MarginLeft(2).Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	infoTitleStyle = lipgloss.NewStyle().Bold(true).Underline(true).MarginBottom(1).Foreground(lipgloss.Color("#FFFDF5"))
	infoKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	infoValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	paneStyle      = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)
	detailStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("170")).
			Padding(1, 3)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Loader fetches the runs shown by the browser.
type Loader func(ctx context.Context) ([]reasoning.RunRecord, error)

type runItem struct {
	rec reasoning.RunRecord
}

func (i runItem) Title() string {
	return fmt.Sprintf("%s  %s", i.rec.RequesterID, i.rec.Status)
}

func (i runItem) Description() string {
	if i.rec.StartedAt.IsZero() {
		return i.rec.RunID
	}
	return i.rec.StartedAt.Local().Format("2006-01-02 15:04:05") + "  " + i.rec.RunID
}

func (i runItem) FilterValue() string { return i.rec.RequesterID + " " + i.rec.RunID }

type runsLoadedMsg struct {
	runs []reasoning.RunRecord
	err  error
}

type mode int

const (
	modeList mode = iota
	modeDetail
)

// Model is a split-pane browser over recorded runs: a list on the left and
// the selected run's summary on the right. Enter opens the full record.
type Model struct {
	list     list.Model
	viewport viewport.Model
	detail   viewport.Model
	load     Loader
	selected *reasoning.RunRecord
	mode     mode
	ready    bool
	width    int
	height   int
	err      error
}

func New(load Loader) Model {
	delegate := list.NewDefaultDelegate()
	l := list.New(nil, delegate, 0, 0)
	l.Title = "Runs"
	l.Styles.Title = titleStyle
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	return Model{list: l, load: load}
}

func (m Model) Init() tea.Cmd {
	return m.reload()
}

func (m Model) reload() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runs, err := load(ctx)
		return runsLoadedMsg{runs: runs, err: err}
	}
}

// Selected returns the run under the cursor, if any.
func (m Model) Selected() *reasoning.RunRecord {
	return m.selected
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case runsLoadedMsg:
		m.err = msg.err
		items := make([]list.Item, 0, len(msg.runs))
		for _, r := range msg.runs {
			items = append(items, runItem{rec: r})
		}
		cmds = append(cmds, m.list.SetItems(items))
		m.syncSelection()
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(listWidth, max(m.height-4, 1))
		if !m.ready {
			m.viewport = viewport.New(max(m.width-listWidth-8, 10), max(m.height-4, 1))
			m.detail = viewport.New(max(m.width-12, 10), max(m.height-8, 1))
			m.ready = true
		} else {
			m.viewport.Width = max(m.width-listWidth-8, 10)
			m.viewport.Height = max(m.height-4, 1)
			m.detail.Width = max(m.width-12, 10)
			m.detail.Height = max(m.height-8, 1)
		}
		m.syncSelection()

	case tea.KeyMsg:
		switch m.mode {
		case modeList:
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "r":
				return m, m.reload()
			case "enter":
				if m.selected != nil {
					m.mode = modeDetail
					m.detail.SetContent(formatDetailed(*m.selected))
					m.detail.GotoTop()
					return m, nil
				}
			}
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			cmds = append(cmds, cmd)
			m.syncSelection()
		case modeDetail:
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "esc", "enter", "backspace":
				m.mode = modeList
				return m, nil
			}
			var cmd tea.Cmd
			m.detail, cmd = m.detail.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	if m.mode == modeList {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) syncSelection() {
	item, ok := m.list.SelectedItem().(runItem)
	if !ok {
		m.selected = nil
		return
	}
	if m.selected != nil && m.selected.RunID == item.rec.RunID {
		return
	}
	rec := item.rec
	m.selected = &rec
	m.viewport.SetContent(formatSummary(rec))
	m.viewport.GotoTop()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.err != nil {
		return failedStyle.Render("Error: " + m.err.Error())
	}
	if m.mode == modeDetail {
		return detailStyle.Width(max(m.width-8, 10)).Render(lipgloss.JoinVertical(lipgloss.Left,
			m.detail.View(),
			mutedStyle.Render("esc to close"),
		))
	}

	left := paneStyle.Width(listWidth).Render(m.list.View())
	var right string
	if m.selected == nil {
		right = mutedStyle.Render("no runs recorded")
	} else {
		right = m.viewport.View()
	}
	right = paneStyle.Width(max(m.width-listWidth-6, 10)).Render(right)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func field(sb *strings.Builder, key, value string) {
	sb.WriteString(infoKeyStyle.Render(key + ": "))
	sb.WriteString(infoValueStyle.Render(value))
	sb.WriteString("\n")
}

func formatSummary(r reasoning.RunRecord) string {
	var sb strings.Builder
	sb.WriteString(infoTitleStyle.Render("Run"))
	sb.WriteString("\n\n")
	field(&sb, "Requester", r.RequesterID)
	status := string(r.Status)
	if r.Status == reasoning.RunStatusFailed {
		status = failedStyle.Render(status)
	}
	field(&sb, "Status", status)
	field(&sb, "Steps", fmt.Sprintf("%d/%d", r.StepsDone, r.TotalSteps))
	if d := duration(r); d != "" {
		field(&sb, "Duration", d)
	}
	if r.Error != "" {
		sb.WriteString("\n")
		sb.WriteString(failedStyle.Render(r.Error))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render("enter for details, r to reload"))
	return sb.String()
}

func formatDetailed(r reasoning.RunRecord) string {
	var sb strings.Builder
	sb.WriteString(infoTitleStyle.Render("Run " + r.RunID))
	sb.WriteString("\n\n")
	field(&sb, "Run ID", r.RunID)
	field(&sb, "Requester", r.RequesterID)
	field(&sb, "Status", string(r.Status))
	field(&sb, "Total steps", fmt.Sprintf("%d", r.TotalSteps))
	field(&sb, "Steps done", fmt.Sprintf("%d", r.StepsDone))
	if !r.StartedAt.IsZero() {
		field(&sb, "Started", r.StartedAt.Local().Format(time.RFC1123))
	}
	if !r.FinishedAt.IsZero() {
		field(&sb, "Finished", r.FinishedAt.Local().Format(time.RFC1123))
	}
	if d := duration(r); d != "" {
		field(&sb, "Duration", d)
	}
	if r.Error != "" {
		field(&sb, "Error", r.Error)
	}
	return sb.String()
}

func duration(r reasoning.RunRecord) string {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return ""
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(100 * time.Millisecond).String()
}

// Run starts the browser full-screen and returns the run selected when it quit.
func Run(ctx context.Context, load Loader) (*reasoning.RunRecord, error) {
	p := tea.NewProgram(New(load), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	if m, ok := final.(Model); ok {
		return m.Selected(), nil
	}
	return nil, nil
}
