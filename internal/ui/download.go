// Package ui renders interactive terminal views over the sync core, used by
// the CLI's watch modes.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/evanmccall/absync/internal/downloads"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

type progressMsg downloads.Progress

type closedMsg struct{}

// DownloadModel is the bubbletea model for watching item downloads. It
// subscribes to the manager and quits once every watched item settles.
type DownloadModel struct {
	manager *downloads.Manager
	subID   string
	updates chan downloads.Progress

	bar   progress.Model
	spin  spinner.Model
	items map[string]downloads.Progress
	order []string
	quit  bool
}

// NewDownloadModel creates a model wired to the manager's progress feed.
func NewDownloadModel(manager *downloads.Manager) *DownloadModel {
	m := &DownloadModel{
		manager: manager,
		updates: make(chan downloads.Progress, 64),
		bar:     progress.New(progress.WithDefaultGradient()),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		items:   make(map[string]downloads.Progress),
	}
	m.subID = manager.Subscribe(func(p downloads.Progress) {
		// The manager's event loop must never block on a slow terminal;
		// a dropped frame is repainted by the next one.
		select {
		case m.updates <- p:
		default:
		}
	})
	return m
}

func (m *DownloadModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForUpdate())
}

func (m *DownloadModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-m.updates
		if !ok {
			return closedMsg{}
		}
		return progressMsg(p)
	}
}

func (m *DownloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.manager.Unsubscribe(m.subID)
			m.quit = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case progressMsg:
		p := downloads.Progress(msg)
		if _, seen := m.items[p.LibraryItemID]; !seen {
			m.order = append(m.order, p.LibraryItemID)
		}
		m.items[p.LibraryItemID] = p
		if m.allSettled() {
			m.manager.Unsubscribe(m.subID)
			m.quit = true
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case closedMsg:
		m.quit = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *DownloadModel) allSettled() bool {
	if len(m.items) == 0 {
		return false
	}
	for _, p := range m.items {
		if !p.Status.Terminal() {
			return false
		}
	}
	return true
}

func (m *DownloadModel) View() string {
	var b strings.Builder

	if len(m.items) == 0 {
		b.WriteString(m.spin.View() + " waiting for downloads...\n")
	}

	for _, id := range m.order {
		p := m.items[id]

		b.WriteString(titleStyle.Render(p.Title))
		b.WriteString("\n")
		b.WriteString(m.bar.ViewAs(p.Ratio))
		b.WriteString("\n")
		b.WriteString(statusLine(p))
		b.WriteString("\n\n")
	}

	if !m.quit {
		b.WriteString(helpStyle.Render("q to stop watching"))
		b.WriteString("\n")
	}
	return b.String()
}

func statusLine(p downloads.Progress) string {
	switch p.Status {
	case downloads.StatusCompleted:
		return doneStyle.Render(fmt.Sprintf("done, %d files, %s",
			p.DownloadedFiles, humanBytes(p.TotalBytes)))
	case downloads.StatusFailed:
		return errorStyle.Render("failed: " + p.Error)
	case downloads.StatusCancelled:
		return statusStyle.Render("cancelled")
	case downloads.StatusPaused:
		return statusStyle.Render(fmt.Sprintf("paused at %s / %s",
			humanBytes(p.DownloadedBytes), humanBytes(p.TotalBytes)))
	default:
		return statusStyle.Render(fmt.Sprintf("%d/%d files, %s / %s, %s/s",
			p.DownloadedFiles, p.TotalFiles,
			humanBytes(p.DownloadedBytes), humanBytes(p.TotalBytes),
			humanBytes(int64(p.BytesPerSecond))))
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}

// WatchDownloads runs the download view until every item settles or the user
// quits.
func WatchDownloads(manager *downloads.Manager) error {
	_, err := tea.NewProgram(NewDownloadModel(manager)).Run()
	return err
}
